package domain

import "time"

// Direction distinguishes the two relay directions of a logged message.
type Direction int

const (
	FromUser Direction = iota
	FromStaff
)

func (d Direction) String() string {
	switch d {
	case FromUser:
		return "FROM_USER"
	case FromStaff:
		return "FROM_STAFF"
	default:
		return "UNKNOWN"
	}
}

// LogEntry is one audit record of the message log. Entries reference their
// thread by owner id rather than by record, so they stay queryable after the
// thread closes or is reopened under a new channel.
type LogEntry struct {
	ID        uint64
	Guild     GuildID
	Owner     UserID
	Author    UserID
	Content   string
	At        time.Time
	Direction Direction
}

// SenderMeta carries the display attributes of the original author, used to
// tag forwarded messages without exposing raw platform objects to the core.
type SenderMeta struct {
	DisplayName string
	AvatarURL   string
}

// RenderedMessage is the presentation-agnostic payload handed to the Gateway.
// The transport layer decides how to turn it into embeds or plain text.
type RenderedMessage struct {
	Title  string
	Body   string
	Author string
	Footer string
	At     time.Time
}

// InboundUserMessage is a direct message received from an external user.
// Origin identifies the user's own channel so receipt acks can be delivered.
type InboundUserMessage struct {
	Guild   GuildID
	User    UserID
	Content string
	Display SenderMeta
	At      time.Time
	Origin  ChannelID
	Message MessageID
}

// InboundStaffMessage is a message posted by a staff member inside a thread
// channel. Authorization is resolved through the Authorizer before any side
// effect happens.
type InboundStaffMessage struct {
	Guild   GuildID
	Channel ChannelID
	Author  UserID
	Content string
	At      time.Time
	Message MessageID
}
