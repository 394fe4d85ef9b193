package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"modmail/domain"
	"modmail/errors"
)

type IThreadRepository interface {
	Insert(record domain.ThreadRecord) error
	GetOpen(guild domain.GuildID, user domain.UserID) (domain.ThreadRecord, bool, error)
	Close(guild domain.GuildID, user domain.UserID, when time.Time) (domain.ThreadRecord, error)
	Touch(guild domain.GuildID, user domain.UserID, when time.Time) error
	OwnerOf(channel domain.ChannelID) (domain.GuildID, domain.UserID, bool, error)
	ListOpenOlderThan(guild domain.GuildID, cutoff time.Time) ([]domain.ThreadRecord, error)
}

// ThreadRepository persists thread records in BadgerDB.
//
// Key layout:
//
//	thread:open:{guild}:{user}              -> the single open record of a user
//	thread:closed:{guild}:{user}:{closedAt} -> immutable history, one per closed thread
//	thread:chan:{channel}                   -> reverse index for staff->user resolution
//
// The open key doubles as the uniqueness constraint: Insert refuses to write
// when it already exists, inside a single transaction, so two racing opens can
// never both commit.
type ThreadRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewThreadRepository(db *badger.DB, log *slog.Logger) ThreadRepository {
	return ThreadRepository{db: db, log: log}
}

// Timestamps are stored as UnixNano: the default cbor time encoding drops
// sub-second precision, which would break activity comparisons.
type diskThread struct {
	Guild        string `cbor:"1,keyasint"`
	User         string `cbor:"2,keyasint"`
	Channel      string `cbor:"3,keyasint"`
	Open         bool   `cbor:"4,keyasint"`
	OpenedAt     int64  `cbor:"5,keyasint"`
	LastActivity int64  `cbor:"6,keyasint"`
}

type channelOwner struct {
	Guild string `cbor:"1,keyasint"`
	User  string `cbor:"2,keyasint"`
}

func openKey(guild domain.GuildID, user domain.UserID) []byte {
	return []byte(fmt.Sprintf("thread:open:%s:%s", guild, user))
}

func closedKey(guild domain.GuildID, user domain.UserID, closedAt time.Time) []byte {
	return []byte(fmt.Sprintf("thread:closed:%s:%s:%019d", guild, user, closedAt.UnixNano()))
}

func channelKey(channel domain.ChannelID) []byte {
	return []byte(fmt.Sprintf("thread:chan:%s", channel))
}

// Insert writes a new open record. It fails with ErrThreadExists when the
// user already has an open thread; check and write happen in one transaction
// so the uniqueness invariant survives concurrent callers.
func (r ThreadRepository) Insert(record domain.ThreadRecord) error {
	recordBytes, err := cbor.Marshal(fromThreadRecord(record))
	if err != nil {
		return err
	}
	ownerBytes, err := cbor.Marshal(channelOwner{Guild: string(record.Guild), User: string(record.User)})
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(openKey(record.Guild, record.User))
		switch err {
		case nil:
			return errors.ErrThreadExists
		case badger.ErrKeyNotFound:
			// Free to insert.
		default:
			return err
		}
		if err := txn.Set(openKey(record.Guild, record.User), recordBytes); err != nil {
			return err
		}
		return txn.Set(channelKey(record.Channel), ownerBytes)
	})
}

func (r ThreadRepository) GetOpen(guild domain.GuildID, user domain.UserID) (domain.ThreadRecord, bool, error) {
	var record domain.ThreadRecord
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(openKey(guild, user))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			decoded, err := decodeThread(value)
			if err != nil {
				return err
			}
			record = decoded
			found = true
			return nil
		})
	})
	return record, found, err
}

// Close archives the open record and removes the open and reverse-index keys.
// Returns ErrThreadNotFound when the user has no open thread; callers treat
// that as a benign no-op.
func (r ThreadRepository) Close(guild domain.GuildID, user domain.UserID, when time.Time) (domain.ThreadRecord, error) {
	var closed domain.ThreadRecord
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(openKey(guild, user))
		if err == badger.ErrKeyNotFound {
			return errors.ErrThreadNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(value []byte) error {
			decoded, err := decodeThread(value)
			if err != nil {
				return err
			}
			closed = decoded
			return nil
		}); err != nil {
			return err
		}

		closed.Open = false
		archiveBytes, err := cbor.Marshal(fromThreadRecord(closed))
		if err != nil {
			return err
		}
		if err := txn.Set(closedKey(guild, user, when), archiveBytes); err != nil {
			return err
		}
		if err := txn.Delete(openKey(guild, user)); err != nil {
			return err
		}
		return txn.Delete(channelKey(closed.Channel))
	})
	if err != nil {
		return domain.ThreadRecord{}, err
	}
	return closed, nil
}

// Touch advances LastActivity. Absent or closed threads are left untouched,
// and the timestamp never goes backwards.
func (r ThreadRepository) Touch(guild domain.GuildID, user domain.UserID, when time.Time) error {
	return r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(openKey(guild, user))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var record domain.ThreadRecord
		if err := item.Value(func(value []byte) error {
			decoded, err := decodeThread(value)
			if err != nil {
				return err
			}
			record = decoded
			return nil
		}); err != nil {
			return err
		}
		if !when.After(record.LastActivity) {
			return nil
		}
		record.LastActivity = when
		recordBytes, err := cbor.Marshal(fromThreadRecord(record))
		if err != nil {
			return err
		}
		return txn.Set(openKey(guild, user), recordBytes)
	})
}

func (r ThreadRepository) OwnerOf(channel domain.ChannelID) (domain.GuildID, domain.UserID, bool, error) {
	var owner channelOwner
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(channelKey(channel))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			if err := cbor.Unmarshal(value, &owner); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil || !found {
		return "", "", false, err
	}
	return domain.GuildID(owner.Guild), domain.UserID(owner.User), true, nil
}

// ListOpenOlderThan returns a snapshot of open threads whose last activity
// predates cutoff. Each call re-reads the store, so a sweep interrupted
// halfway can simply start over.
func (r ThreadRepository) ListOpenOlderThan(guild domain.GuildID, cutoff time.Time) ([]domain.ThreadRecord, error) {
	var stale []domain.ThreadRecord
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("thread:open:%s:", guild))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				record, err := decodeThread(value)
				if err != nil {
					return err
				}
				if record.Stale(cutoff) {
					stale = append(stale, record)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}

func fromThreadRecord(record domain.ThreadRecord) diskThread {
	return diskThread{
		Guild:        string(record.Guild),
		User:         string(record.User),
		Channel:      string(record.Channel),
		Open:         record.Open,
		OpenedAt:     record.OpenedAt.UnixNano(),
		LastActivity: record.LastActivity.UnixNano(),
	}
}

func decodeThread(value []byte) (domain.ThreadRecord, error) {
	var disk diskThread
	if err := cbor.Unmarshal(value, &disk); err != nil {
		return domain.ThreadRecord{}, err
	}
	return domain.ThreadRecord{
		Guild:        domain.GuildID(disk.Guild),
		User:         domain.UserID(disk.User),
		Channel:      domain.ChannelID(disk.Channel),
		Open:         disk.Open,
		OpenedAt:     time.Unix(0, disk.OpenedAt).UTC(),
		LastActivity: time.Unix(0, disk.LastActivity).UTC(),
	}, nil
}
