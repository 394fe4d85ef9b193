package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreadRecord_Stale(t *testing.T) {
	req := require.New(t)
	cutoff := time.Now().UTC()

	record := ThreadRecord{Open: true, LastActivity: cutoff.Add(-time.Hour)}
	req.True(record.Stale(cutoff))

	record.LastActivity = cutoff.Add(time.Hour)
	req.False(record.Stale(cutoff))

	// A closed thread is never stale, whatever its timestamps say.
	record.Open = false
	record.LastActivity = cutoff.Add(-time.Hour)
	req.False(record.Stale(cutoff))
}
