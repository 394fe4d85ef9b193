package domain

// CloseThreadCommand closes the open thread of a user. Actor is nil when the
// closure was not triggered by a person (idle sweep).
type CloseThreadCommand struct {
	Guild GuildID
	User  UserID
	Actor *UserID
}

// RemoveMessageCommand deletes a single message from a thread channel.
type RemoveMessageCommand struct {
	Guild   GuildID
	Channel ChannelID
	Message MessageID
}

// SetStaffRoleCommand records which role grants access to modmail channels.
type SetStaffRoleCommand struct {
	Guild GuildID
	Role  string
}
