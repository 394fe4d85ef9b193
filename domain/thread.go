// Package domain contains the core concepts of the modmail system:
// threads, log entries and the commands exchanged with the outer layers.
package domain

import "time"

type GuildID string

type UserID string

type ChannelID string

type MessageID string

// ThreadRecord binds one external user to the dedicated staff channel of
// their ongoing conversation. At most one open record may exist per user
// within a guild. A channel belongs to exactly one record for its entire
// existence; once a record is closed it becomes immutable history and a
// later message from the same user opens a brand new record.
type ThreadRecord struct {
	Guild        GuildID
	User         UserID
	Channel      ChannelID
	Open         bool
	OpenedAt     time.Time
	LastActivity time.Time
}

// Stale reports whether the thread has seen no activity since olderThan.
// Only open threads can be stale.
func (t ThreadRecord) Stale(olderThan time.Time) bool {
	return t.Open && t.LastActivity.Before(olderThan)
}

// ChannelDeletion is a deferred request to remove a thread channel once the
// grace delay after closure has elapsed.
type ChannelDeletion struct {
	Guild     GuildID
	Channel   ChannelID
	NotBefore time.Time
}
