package projection

import (
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"modmail/domain"
)

// Line is one transcript row, oldest first.
type Line struct {
	At        time.Time
	Direction domain.Direction
	Author    domain.UserID
	Content   string
}

// Transcript is a read model of one user's full modmail history, built from
// the audit log. It spans every thread the user ever had, closed ones
// included, since log entries outlive their thread.
type Transcript struct {
	Owner domain.UserID
	Lines []Line
}

// FromEntries builds a transcript from log entries as returned by the
// repository (newest first) and flips them into reading order.
func FromEntries(owner domain.UserID, entries []domain.LogEntry) Transcript {
	lines := lo.Map(entries, func(entry domain.LogEntry, _ int) Line {
		return Line{
			At:        entry.At,
			Direction: entry.Direction,
			Author:    entry.Author,
			Content:   entry.Content,
		}
	})
	return Transcript{Owner: owner, Lines: lo.Reverse(lines)}
}

// Render writes the transcript as a plain table, one row per message.
func (t Transcript) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Direction", "Author", "Message"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, line := range t.Lines {
		table.Append([]string{
			line.At.Format(time.RFC3339),
			line.Direction.String(),
			string(line.Author),
			line.Content,
		})
	}
	table.Render()
}
