package projection

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modmail/domain"
)

func TestTranscript_Reading_Order(t *testing.T) {
	req := require.New(t)
	at := time.Now().UTC()

	// Entries arrive newest first, as the repository returns them.
	entries := []domain.LogEntry{
		{Owner: "alice", Author: "staff-1", Content: "closing now", At: at.Add(2 * time.Minute), Direction: domain.FromStaff},
		{Owner: "alice", Author: "staff-1", Content: "on it", At: at.Add(time.Minute), Direction: domain.FromStaff},
		{Owner: "alice", Author: "alice", Content: "help please", At: at, Direction: domain.FromUser},
	}

	transcript := FromEntries("alice", entries)
	req.Equal(domain.UserID("alice"), transcript.Owner)
	req.Len(transcript.Lines, 3)
	req.Equal("help please", transcript.Lines[0].Content)
	req.Equal("closing now", transcript.Lines[2].Content)
	req.Equal(domain.FromUser, transcript.Lines[0].Direction)
}

func TestTranscript_Render(t *testing.T) {
	req := require.New(t)
	at := time.Now().UTC()

	transcript := FromEntries("alice", []domain.LogEntry{
		{Owner: "alice", Author: "alice", Content: "anyone there?", At: at, Direction: domain.FromUser},
	})

	var buf bytes.Buffer
	transcript.Render(&buf)

	out := buf.String()
	req.Contains(out, "anyone there?")
	req.Contains(out, "FROM_USER")
	req.Contains(out, "alice")
}

func TestTranscript_Empty(t *testing.T) {
	req := require.New(t)
	transcript := FromEntries("alice", nil)
	req.Empty(transcript.Lines)

	var buf bytes.Buffer
	transcript.Render(&buf)
	req.NotEmpty(buf.String()) // header only
}
