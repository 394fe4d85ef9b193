package services

import (
	"context"

	"modmail/domain"
	"modmail/domain/search"
	"modmail/projection"
	"modmail/repositories"
	"modmail/runtime"
)

type IModmailService interface {
	UserMessage(ctx context.Context, in domain.InboundUserMessage) error
	StaffMessage(ctx context.Context, in domain.InboundStaffMessage) error
	Close(ctx context.Context, cmd domain.CloseThreadCommand) error
	RemoveMessage(ctx context.Context, cmd domain.RemoveMessageCommand) error
	SetStaffRole(cmd domain.SetStaffRoleCommand) error
	StaffRole(guild domain.GuildID) (string, bool, error)
	Transcript(guild domain.GuildID, user domain.UserID) (projection.Transcript, error)
	SearchLogs(ctx context.Context, raw string) ([]domain.LogEntry, error)
}

// ModmailService is the single entry point for the command-parsing layer.
// It forwards to the relay engine and read models without adding rules of
// its own.
type ModmailService struct {
	relay *runtime.RelayEngine
	logs  repositories.ILogRepository
	roles repositories.IGuildConfigRepository
	guild domain.GuildID
}

func NewModmailService(relay *runtime.RelayEngine, logs repositories.ILogRepository, roles repositories.IGuildConfigRepository, guild domain.GuildID) *ModmailService {
	return &ModmailService{relay: relay, logs: logs, roles: roles, guild: guild}
}

func (s *ModmailService) UserMessage(ctx context.Context, in domain.InboundUserMessage) error {
	return s.relay.HandleUserMessage(ctx, in)
}

func (s *ModmailService) StaffMessage(ctx context.Context, in domain.InboundStaffMessage) error {
	return s.relay.HandleStaffMessage(ctx, in)
}

func (s *ModmailService) Close(ctx context.Context, cmd domain.CloseThreadCommand) error {
	return s.relay.Close(ctx, cmd)
}

func (s *ModmailService) RemoveMessage(ctx context.Context, cmd domain.RemoveMessageCommand) error {
	return s.relay.RemoveMessage(ctx, cmd)
}

func (s *ModmailService) SetStaffRole(cmd domain.SetStaffRoleCommand) error {
	return s.roles.SetStaffRole(cmd.Guild, cmd.Role)
}

func (s *ModmailService) StaffRole(guild domain.GuildID) (string, bool, error) {
	return s.roles.StaffRole(guild)
}

// Transcript pages through the whole audit history of a user and projects it
// into reading order.
func (s *ModmailService) Transcript(guild domain.GuildID, user domain.UserID) (projection.Transcript, error) {
	var all []domain.LogEntry
	var cursor *string
	for {
		entries, next, err := s.logs.ListForOwner(guild, user, cursor)
		if err != nil {
			return projection.Transcript{}, err
		}
		all = append(all, entries...)
		if next == nil || len(entries) == 0 {
			break
		}
		cursor = next
	}
	return projection.FromEntries(user, all), nil
}

// SearchLogs runs a staff query like `/logs refund --user 1234 --limit 5`
// against the full-text index. The guild defaults to the one this service
// serves.
func (s *ModmailService) SearchLogs(ctx context.Context, raw string) ([]domain.LogEntry, error) {
	query := search.NewSearchQuery(raw)
	if query.Guild == "" {
		query.Guild = string(s.guild)
	}
	return s.logs.Search(ctx, query)
}
