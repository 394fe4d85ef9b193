// Package runtime owns thread lifecycle and message relay. It coordinates
// the persistence layer and the channel gateway without containing any
// transport or presentation logic.
package runtime

import (
	"context"
	"log/slog"
	"time"

	"modmail/contract"
	"modmail/domain"
	"modmail/errors"
	"modmail/repositories"
)

// ThreadRegistry enforces the one-open-thread-per-user invariant on top of
// the thread repository. It is the sole mutator of thread records.
type ThreadRegistry struct {
	log     *slog.Logger
	threads repositories.IThreadRepository
	gateway contract.Gateway
	locks   *keyedMutex
	clock   func() time.Time
}

func NewThreadRegistry(threads repositories.IThreadRepository, gateway contract.Gateway, log *slog.Logger) *ThreadRegistry {
	return &ThreadRegistry{
		log:     log,
		threads: threads,
		gateway: gateway,
		locks:   newKeyedMutex(),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *ThreadRegistry) FindOpen(guild domain.GuildID, user domain.UserID) (domain.ThreadRecord, bool, error) {
	return r.threads.GetOpen(guild, user)
}

// Open returns the user's open thread, creating it first when absent. This
// is the system's single critical section: the per-user lock serializes
// in-process racers and the repository's transactional insert guards against
// anything else, so exactly one channel and one record ever come out of two
// concurrent opens. The losing caller transparently receives the winner's
// record.
func (r *ThreadRegistry) Open(ctx context.Context, guild domain.GuildID, user domain.UserID, ownerLabel string, allowed []string) (domain.ThreadRecord, bool, error) {
	lock := r.locks.get(user)
	lock.Lock()
	defer lock.Unlock()

	record, found, err := r.threads.GetOpen(guild, user)
	if err != nil {
		return domain.ThreadRecord{}, false, err
	}
	if found {
		return record, false, nil
	}

	channel, err := r.gateway.CreateChannel(ctx, guild, ownerLabel, allowed)
	if err != nil {
		return domain.ThreadRecord{}, false, err
	}

	now := r.clock()
	record = domain.ThreadRecord{
		Guild:        guild,
		User:         user,
		Channel:      channel,
		Open:         true,
		OpenedAt:     now,
		LastActivity: now,
	}
	err = r.threads.Insert(record)
	if err == nil {
		return record, true, nil
	}

	// Another writer (e.g. a second process on the same store) won the
	// insert. Drop the channel we just created and adopt the winner.
	if delErr := r.gateway.DeleteChannel(ctx, channel); delErr != nil {
		r.log.Warn("Orphan channel not deleted after lost open race", "channel", channel, "err", delErr)
	}
	winner, found, readErr := r.threads.GetOpen(guild, user)
	if readErr == nil && found {
		return winner, false, nil
	}
	if err == errors.ErrThreadExists && readErr == nil {
		// Winner vanished between insert and re-read; report the original
		// conflict, the caller may retry.
		return domain.ThreadRecord{}, false, errors.ErrThreadExists
	}
	return domain.ThreadRecord{}, false, err
}

// Close marks the thread closed and archives it. Closing an absent or
// already-closed thread reports closed=false and no error.
func (r *ThreadRegistry) Close(guild domain.GuildID, user domain.UserID) (domain.ThreadRecord, bool, error) {
	record, err := r.threads.Close(guild, user, r.clock())
	if err == errors.ErrThreadNotFound {
		return domain.ThreadRecord{}, false, nil
	}
	if err != nil {
		return domain.ThreadRecord{}, false, err
	}
	return record, true, nil
}

// Touch advances the activity timestamp of an open thread; closed or absent
// threads are left alone.
func (r *ThreadRegistry) Touch(guild domain.GuildID, user domain.UserID, when time.Time) error {
	return r.threads.Touch(guild, user, when)
}

// ListStale snapshots the open threads idle since olderThan.
func (r *ThreadRegistry) ListStale(guild domain.GuildID, olderThan time.Time) ([]domain.ThreadRecord, error) {
	return r.threads.ListOpenOlderThan(guild, olderThan)
}

// ResolveOwner maps a thread channel back to the user it belongs to.
func (r *ThreadRegistry) ResolveOwner(channel domain.ChannelID) (domain.GuildID, domain.UserID, bool, error) {
	return r.threads.OwnerOf(channel)
}
