package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSearchQuery_Parses_Flags(t *testing.T) {
	req := require.New(t)

	query := NewSearchQuery(`/logs "refund request" --user 1234 --limit 5`)
	req.Equal("refund request", query.Terms)
	req.Equal("1234", query.Owner)
	req.Equal(5, query.Limit)
	req.Empty(query.Guild)
}

func TestNewSearchQuery_Defaults(t *testing.T) {
	req := require.New(t)

	query := NewSearchQuery("/logs")
	req.Empty(query.Terms)
	req.Empty(query.Owner)
	req.Equal(10, query.Limit)
}

func TestNewSearchQuery_Ignores_Bad_Limit(t *testing.T) {
	req := require.New(t)

	query := NewSearchQuery("refund --limit zero --guild g1")
	req.Equal("refund", query.Terms)
	req.Equal(10, query.Limit)
	req.Equal("g1", query.Guild)
}
