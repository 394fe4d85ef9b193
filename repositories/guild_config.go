package repositories

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"modmail/domain"
)

type IGuildConfigRepository interface {
	SetStaffRole(guild domain.GuildID, role string) error
	StaffRole(guild domain.GuildID) (string, bool, error)
}

// GuildConfigRepository stores per-guild settings. The core only ever reads
// the staff role back to restrict channel visibility; permission decisions
// themselves stay with the Authorizer.
type GuildConfigRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewGuildConfigRepository(db *badger.DB, log *slog.Logger) GuildConfigRepository {
	return GuildConfigRepository{db: db, log: log}
}

type diskGuildConfig struct {
	StaffRole string `cbor:"1,keyasint"`
}

func configKey(guild domain.GuildID) []byte {
	return []byte(fmt.Sprintf("config:%s", guild))
}

func (r GuildConfigRepository) SetStaffRole(guild domain.GuildID, role string) error {
	value, err := cbor.Marshal(diskGuildConfig{StaffRole: role})
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(configKey(guild), value)
	})
}

func (r GuildConfigRepository) StaffRole(guild domain.GuildID) (string, bool, error) {
	var config diskGuildConfig
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(configKey(guild))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			if err := cbor.Unmarshal(value, &config); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil || !found {
		return "", false, err
	}
	return config.StaffRole, true, nil
}
