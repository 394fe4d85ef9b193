package internal

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	GuildID           string        `env:"GUILD_ID,required=true" validate:"required"`
	GuildName         string        `env:"GUILD_NAME,required=true" validate:"required"`
	SelfIdentity      string        `env:"SELF_IDENTITY,required=true" validate:"required"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true" validate:"required"`
	BlugeFilepath     string        `env:"BLUGE_FILEPATH,required=true" validate:"required"`
	LogLevel          string        `env:"LOG_LEVEL,required=true" validate:"oneof=DEBUG INFO WARN ERROR"`
	InactivityWindow  time.Duration `env:"INACTIVITY_WINDOW,required=true" validate:"gt=0"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL,required=true" validate:"gt=0"`
	DeleteGraceDelay  time.Duration `env:"DELETE_GRACE_DELAY,required=true" validate:"gt=0"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,required=true" validate:"gt=0"`
	JanitorBufferSize int           `env:"JANITOR_BUFFER_SIZE,required=true" validate:"gt=0"`
	LimitLogEntries   *int          `env:"LIMIT_LOG_ENTRIES"`
}

var validate = validator.New()

// Validate enforces cross-field constraints that go-env cannot express.
// required=true only guarantees presence, not sanity.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.SweepInterval > c.InactivityWindow {
		return fmt.Errorf("SWEEP_INTERVAL (%s) must not exceed INACTIVITY_WINDOW (%s)",
			c.SweepInterval, c.InactivityWindow)
	}
	return nil
}
