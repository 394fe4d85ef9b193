package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"modmail/domain"
	"modmail/domain/search"
)

type ILogRepository interface {
	Append(entry domain.LogEntry) (domain.LogEntry, error)
	ListForOwner(guild domain.GuildID, owner domain.UserID, cursor *string) ([]domain.LogEntry, *string, error)
	Search(ctx context.Context, query *search.Query) ([]domain.LogEntry, error)
	Release() error
}

// LogRepository is the append-only audit log of relayed messages.
//
// Entries live in BadgerDB under "log:{guild}:{owner}:{id}" where the id is a
// store-assigned monotonic sequence, zero padded to 19 digits so a plain
// prefix scan yields entries in append order. Every entry is also indexed in
// bluge for full-text search across threads.
type LogRepository struct {
	db    *badger.DB
	seq   *badger.Sequence
	index *bluge.Writer
	log   *slog.Logger
	limit *int
}

const sequenceBandwidth = 64

func NewLogRepository(db *badger.DB, index *bluge.Writer, log *slog.Logger, limit *int) (*LogRepository, error) {
	seq, err := db.GetSequence([]byte("seq:log"), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("log sequence unavailable: %w", err)
	}
	return &LogRepository{db: db, seq: seq, index: index, log: log, limit: limit}, nil
}

// Release hands unused sequence ids back to the store. Call it before
// closing the database; skipping it only leaves a gap in the id space.
func (r *LogRepository) Release() error {
	return r.seq.Release()
}

type diskLogEntry struct {
	ID        uint64 `cbor:"1,keyasint"`
	Guild     string `cbor:"2,keyasint"`
	Owner     string `cbor:"3,keyasint"`
	Author    string `cbor:"4,keyasint"`
	Content   string `cbor:"5,keyasint"`
	At        int64  `cbor:"6,keyasint"`
	Direction int    `cbor:"7,keyasint"`
}

func logPrefix(guild domain.GuildID, owner domain.UserID) string {
	return fmt.Sprintf("log:%s:%s:", guild, owner)
}

func logKey(guild domain.GuildID, owner domain.UserID, id uint64) string {
	return fmt.Sprintf("%s%019d", logPrefix(guild, owner), id)
}

// Append assigns the next monotonic id, persists the entry and feeds the
// search index. The returned entry carries the assigned id.
func (r *LogRepository) Append(entry domain.LogEntry) (domain.LogEntry, error) {
	id, err := r.seq.Next()
	if err != nil {
		return domain.LogEntry{}, err
	}
	entry.ID = id

	key := logKey(entry.Guild, entry.Owner, id)
	value, err := cbor.Marshal(fromLogEntry(entry))
	if err != nil {
		return domain.LogEntry{}, err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return domain.LogEntry{}, err
	}

	doc := bluge.NewDocument(key).
		AddField(bluge.NewTextField("content", entry.Content).StoreValue()).
		AddField(bluge.NewKeywordField("owner", string(entry.Owner)).StoreValue()).
		AddField(bluge.NewKeywordField("guild", string(entry.Guild)).StoreValue()).
		AddField(bluge.NewKeywordField("direction", entry.Direction.String()).StoreValue())
	if err := r.index.Update(doc.ID(), doc); err != nil {
		// The entry is durable in Badger; a missing index document only
		// degrades search, so we log instead of failing the relay.
		r.log.Warn("Log entry not indexed", "key", key, "err", err)
	}
	return entry, nil
}

// ListForOwner pages through a user's log history, newest first. The cursor
// is the key suffix of the last returned entry; pass it back to continue.
func (r *LogRepository) ListForOwner(guild domain.GuildID, owner domain.UserID, cursor *string) ([]domain.LogEntry, *string, error) {
	var entries []domain.LogEntry
	var lastKey string
	err := r.db.View(func(txn *badger.Txn) error {
		prefixStr := logPrefix(guild, owner)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible id, then walk backwards.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if r.limit != nil && len(entries) == *r.limit {
				r.log.Debug(fmt.Sprintf("Maximum of %d log entries reached", *r.limit))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			err := item.Value(func(value []byte) error {
				entry, err := DecodeLogEntry(value)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if lastKey == "" {
		return entries, nil, nil
	}
	return entries, &lastKey, nil
}

// Search runs a full-text query over the index and resolves the matching
// entries from Badger.
func (r *LogRepository) Search(ctx context.Context, query *search.Query) ([]domain.LogEntry, error) {
	reader, err := r.index.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()

	boolean := bluge.NewBooleanQuery()
	if query.Terms != "" {
		boolean.AddMust(bluge.NewMatchQuery(query.Terms).SetField("content"))
	} else {
		boolean.AddMust(bluge.NewMatchAllQuery())
	}
	if query.Owner != "" {
		boolean.AddMust(bluge.NewTermQuery(query.Owner).SetField("owner"))
	}
	if query.Guild != "" {
		boolean.AddMust(bluge.NewTermQuery(query.Guild).SetField("guild"))
	}

	matches, err := reader.Search(ctx, bluge.NewTopNSearch(query.Limit, boolean))
	if err != nil {
		return nil, err
	}

	var keys []string
	match, err := matches.Next()
	for err == nil && match != nil {
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				keys = append(keys, string(value))
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	return r.getEntries(keys)
}

func (r *LogRepository) getEntries(keys []string) ([]domain.LogEntry, error) {
	var entries []domain.LogEntry
	err := r.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if err == badger.ErrKeyNotFound {
				// Index can briefly outlive a purged entry; skip.
				r.log.Debug("Indexed log entry missing from store", "key", key)
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(value []byte) error {
				entry, err := DecodeLogEntry(value)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
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
	return entries, nil
}

func fromLogEntry(entry domain.LogEntry) diskLogEntry {
	return diskLogEntry{
		ID:        entry.ID,
		Guild:     string(entry.Guild),
		Owner:     string(entry.Owner),
		Author:    string(entry.Author),
		Content:   entry.Content,
		At:        entry.At.UnixNano(),
		Direction: int(entry.Direction),
	}
}

// DecodeLogEntry decodes a stored log value. Exported for the inspect tool.
func DecodeLogEntry(value []byte) (domain.LogEntry, error) {
	var disk diskLogEntry
	if err := cbor.Unmarshal(value, &disk); err != nil {
		return domain.LogEntry{}, err
	}
	return domain.LogEntry{
		ID:        disk.ID,
		Guild:     domain.GuildID(disk.Guild),
		Owner:     domain.UserID(disk.Owner),
		Author:    domain.UserID(disk.Author),
		Content:   disk.Content,
		At:        time.Unix(0, disk.At).UTC(),
		Direction: domain.Direction(disk.Direction),
	}, nil
}
