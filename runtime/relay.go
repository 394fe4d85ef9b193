package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"modmail/contract"
	"modmail/domain"
	"modmail/errors"
	"modmail/observability"
	"modmail/repositories"
)

const receiptEmoji = "✅"

// RelayConfig carries the static identity of the community the relay serves.
type RelayConfig struct {
	GuildName    string
	SelfIdentity string
	DeleteGrace  time.Duration
}

// RelayEngine turns one inbound event into its side effects, exactly once
// per event. Events for the same user are serialized through a keyed mutex;
// events for different users run freely in parallel.
type RelayEngine struct {
	log       *slog.Logger
	gateway   contract.Gateway
	auth      contract.Authorizer
	registry  *ThreadRegistry
	logs      repositories.ILogRepository
	roles     repositories.IGuildConfigRepository
	metrics   *observability.Metrics
	config    RelayConfig
	deletions chan<- domain.ChannelDeletion
	order     *keyedMutex
	clock     func() time.Time
}

func NewRelayEngine(
	log *slog.Logger,
	gateway contract.Gateway,
	auth contract.Authorizer,
	registry *ThreadRegistry,
	logs repositories.ILogRepository,
	roles repositories.IGuildConfigRepository,
	metrics *observability.Metrics,
	config RelayConfig,
	deletions chan<- domain.ChannelDeletion,
) *RelayEngine {
	return &RelayEngine{
		log:       log,
		gateway:   gateway,
		auth:      auth,
		registry:  registry,
		logs:      logs,
		roles:     roles,
		metrics:   metrics,
		config:    config,
		deletions: deletions,
		order:     newKeyedMutex(),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// HandleUserMessage relays a direct message from a user into their thread
// channel, opening the thread first when none exists.
func (e *RelayEngine) HandleUserMessage(ctx context.Context, in domain.InboundUserMessage) error {
	lock := e.order.get(in.User)
	lock.Lock()
	defer lock.Unlock()

	record, created, err := e.ensureThread(ctx, in)
	if err != nil {
		return fmt.Errorf("thread resolution failed for user %s: %w", in.User, err)
	}
	if created {
		e.metrics.ThreadOpened()
		e.welcome(ctx, in.User)
		e.announce(ctx, record.Channel, in)
	}

	forwarded := domain.RenderedMessage{
		Author: in.Display.DisplayName,
		Body:   in.Content,
		Footer: fmt.Sprintf("User ID: %s", in.User),
		At:     in.At,
	}
	if err := e.gateway.SendToChannel(ctx, record.Channel, forwarded); err != nil {
		// The audit trail below still records the inbound message; only
		// the channel copy is missing.
		e.log.Warn("User message not forwarded to thread channel", "channel", record.Channel, "err", err)
	}

	if err := e.registry.Touch(in.Guild, in.User, e.clock()); err != nil {
		return err
	}
	if _, err := e.logs.Append(domain.LogEntry{
		Guild:     in.Guild,
		Owner:     in.User,
		Author:    in.User,
		Content:   in.Content,
		At:        in.At,
		Direction: domain.FromUser,
	}); err != nil {
		return err
	}
	e.metrics.UserMessageRelayed()

	if err := e.gateway.React(ctx, in.Origin, in.Message, receiptEmoji); err != nil {
		e.log.Debug("Receipt reaction not delivered", "user", in.User, "err", err)
	}
	return nil
}

// HandleStaffMessage relays a staff message from a thread channel to the
// owning user's direct channel. The reply is labeled with the guild name,
// never with the individual staff identity.
func (e *RelayEngine) HandleStaffMessage(ctx context.Context, in domain.InboundStaffMessage) error {
	authorized, err := e.auth.IsAuthorized(ctx, in.Author, in.Guild)
	if err != nil {
		return fmt.Errorf("authorization check failed: %w", err)
	}
	if !authorized {
		e.log.Debug("Unauthorized staff message dropped", "author", in.Author, "channel", in.Channel)
		return nil
	}

	guild, owner, found, err := e.registry.ResolveOwner(in.Channel)
	if err != nil {
		return err
	}
	if !found {
		e.log.Debug("Message in unrecognized channel dropped", "channel", in.Channel)
		return nil
	}

	lock := e.order.get(owner)
	lock.Lock()
	defer lock.Unlock()

	reply := domain.RenderedMessage{
		Title:  "Staff Reply",
		Body:   in.Content,
		Footer: fmt.Sprintf("%s Staff", e.config.GuildName),
		At:     in.At,
	}
	status, err := e.gateway.SendDirect(ctx, owner, reply)
	if err != nil || status == contract.Refused {
		// A failed delivery is surfaced to staff and never logged as a
		// relayed message.
		e.metrics.DeliveryFailed()
		if err != nil {
			e.log.Warn("Staff reply delivery failed", "user", owner, "err", err)
		}
		warning := domain.RenderedMessage{
			Body: "⚠ Could not deliver message to user. They may have DMs disabled.",
		}
		if warnErr := e.gateway.SendToChannel(ctx, in.Channel, warning); warnErr != nil {
			e.log.Warn("Delivery warning not posted", "channel", in.Channel, "err", warnErr)
		}
		return nil
	}

	if err := e.gateway.React(ctx, in.Channel, in.Message, receiptEmoji); err != nil {
		e.log.Debug("Staff ack reaction not delivered", "channel", in.Channel, "err", err)
	}
	if err := e.registry.Touch(guild, owner, e.clock()); err != nil {
		return err
	}
	if _, err := e.logs.Append(domain.LogEntry{
		Guild:     guild,
		Owner:     owner,
		Author:    in.Author,
		Content:   in.Content,
		At:        in.At,
		Direction: domain.FromStaff,
	}); err != nil {
		return err
	}
	e.metrics.StaffReplyDelivered()
	return nil
}

// Close drives a thread through closure: registry state first, then the
// best-effort notifications, then the deferred channel deletion.
func (e *RelayEngine) Close(ctx context.Context, cmd domain.CloseThreadCommand) error {
	lock := e.order.get(cmd.User)
	lock.Lock()
	defer lock.Unlock()

	record, closed, err := e.registry.Close(cmd.Guild, cmd.User)
	if err != nil {
		return err
	}
	if !closed {
		e.log.Debug("Close requested for user without open thread", "user", cmd.User)
		return nil
	}
	e.metrics.ThreadClosed()

	notice := domain.RenderedMessage{
		Title: "Modmail Closed",
		Body:  "Your modmail ticket has been closed.",
	}
	if cmd.Actor != nil {
		notice.Footer = fmt.Sprintf("Closed by %s", *cmd.Actor)
	}
	if status, err := e.gateway.SendDirect(ctx, cmd.User, notice); err != nil || status == contract.Refused {
		e.log.Debug("Closure notice not delivered", "user", cmd.User, "err", err)
	}

	channelNotice := domain.RenderedMessage{
		Body: fmt.Sprintf("Modmail thread for %s has been closed. This channel will be deleted in %s.",
			cmd.User, e.config.DeleteGrace),
	}
	if err := e.gateway.SendToChannel(ctx, record.Channel, channelNotice); err != nil {
		e.log.Warn("Closing notice not posted", "channel", record.Channel, "err", err)
	}

	e.scheduleDeletion(record)
	return nil
}

// RemoveMessage deletes one message from a thread channel. An unknown
// message id is a benign result, not a failure.
func (e *RelayEngine) RemoveMessage(ctx context.Context, cmd domain.RemoveMessageCommand) error {
	if _, err := e.gateway.FetchMessage(ctx, cmd.Channel, cmd.Message); err != nil {
		e.log.Debug("Message to remove not found", "channel", cmd.Channel, "message", cmd.Message, "err", err)
		return errors.ErrMessageNotFound
	}
	if err := e.gateway.DeleteMessage(ctx, cmd.Channel, cmd.Message); err != nil {
		return fmt.Errorf("message %s not deleted: %w", cmd.Message, err)
	}
	return nil
}

func (e *RelayEngine) ensureThread(ctx context.Context, in domain.InboundUserMessage) (domain.ThreadRecord, bool, error) {
	record, found, err := e.registry.FindOpen(in.Guild, in.User)
	if err != nil {
		return domain.ThreadRecord{}, false, err
	}
	if found {
		return record, false, nil
	}
	return e.registry.Open(ctx, in.Guild, in.User, channelLabel(in.Display.DisplayName), e.allowedIdentities(in.Guild))
}

// allowedIdentities restricts a new channel to the staff role (when one is
// configured) and the process identity. Everyone else is denied by the
// gateway.
func (e *RelayEngine) allowedIdentities(guild domain.GuildID) []string {
	allowed := []string{e.config.SelfIdentity}
	role, ok, err := e.roles.StaffRole(guild)
	if err != nil {
		e.log.Warn("Staff role lookup failed, channel restricted to process identity", "guild", guild, "err", err)
		return allowed
	}
	if ok {
		allowed = append(allowed, role)
	}
	return allowed
}

func (e *RelayEngine) welcome(ctx context.Context, user domain.UserID) {
	greeting := domain.RenderedMessage{
		Title:  "Modmail Started",
		Body:   "Your modmail ticket has been created. You can now chat with the staff team.",
		Footer: "Please be patient while waiting for a response.",
	}
	// Delivery refusal is swallowed: a user with closed DMs still gets a
	// working thread.
	if status, err := e.gateway.SendDirect(ctx, user, greeting); err != nil || status == contract.Refused {
		e.log.Debug("Welcome message not delivered", "user", user, "err", err)
	}
}

func (e *RelayEngine) announce(ctx context.Context, channel domain.ChannelID, in domain.InboundUserMessage) {
	header := domain.RenderedMessage{
		Body: fmt.Sprintf("📩 New modmail from %s (%s)", in.Display.DisplayName, in.User),
		At:   in.At,
	}
	if err := e.gateway.SendToChannel(ctx, channel, header); err != nil {
		e.log.Warn("New-thread header not posted", "channel", channel, "err", err)
	}
}

func (e *RelayEngine) scheduleDeletion(record domain.ThreadRecord) {
	ticket := domain.ChannelDeletion{
		Guild:     record.Guild,
		Channel:   record.Channel,
		NotBefore: e.clock().Add(e.config.DeleteGrace),
	}
	select {
	case e.deletions <- ticket:
	default:
		e.log.Error("Janitor queue full, channel deletion dropped", "channel", record.Channel)
	}
}

func channelLabel(displayName string) string {
	clean := strings.ToLower(strings.ReplaceAll(displayName, " ", "-"))
	if len(clean) > 20 {
		clean = clean[:20]
	}
	return "modmail-" + clean
}
