package runtime

import (
	"sync"

	"modmail/domain"
)

// keyedMutex hands out one mutex per user id. Holding a user's mutex across
// an operation gives per-user serialization without a global lock; events
// for different users never contend.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[domain.UserID]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[domain.UserID]*sync.Mutex)}
}

func (k *keyedMutex) get(user domain.UserID) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	lock, ok := k.locks[user]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[user] = lock
	}
	return lock
}
