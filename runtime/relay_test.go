package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"modmail/contract"
	"modmail/domain"
	"modmail/errors"
	"modmail/gateway"
	"modmail/observability"
	"modmail/repositories"
)

type relayFixture struct {
	engine    *RelayEngine
	registry  *ThreadRegistry
	gateway   *gateway.InMemory
	logs      *repositories.LogRepository
	metrics   *observability.Metrics
	deletions chan domain.ChannelDeletion
}

func newRelayFixture(t *testing.T, auth contract.Authorizer) *relayFixture {
	t.Helper()
	log := slog.Default()

	options := badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	logs, err := repositories.NewLogRepository(db, writer, log, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logs.Release() })

	chatGateway := gateway.NewInMemory()
	registry := NewThreadRegistry(repositories.NewThreadRepository(db, log), chatGateway, log)
	deletions := make(chan domain.ChannelDeletion, 4)
	metrics := observability.NewMetrics()

	engine := NewRelayEngine(
		log, chatGateway, auth, registry,
		logs, repositories.NewGuildConfigRepository(db, log), metrics,
		RelayConfig{GuildName: "Test Guild", SelfIdentity: "modmail-bot", DeleteGrace: 5 * time.Second},
		deletions,
	)
	return &relayFixture{
		engine:    engine,
		registry:  registry,
		gateway:   chatGateway,
		logs:      logs,
		metrics:   metrics,
		deletions: deletions,
	}
}

func userMessage(content string) domain.InboundUserMessage {
	return domain.InboundUserMessage{
		Guild:   "guild-1",
		User:    "alice",
		Content: content,
		Display: domain.SenderMeta{DisplayName: "Alice"},
		At:      time.Now().UTC(),
		Origin:  "dm-alice",
		Message: "msg-origin-1",
	}
}

func TestRelay_First_User_Message_Opens_Thread(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, gateway.AllowAll{})
	ctx := context.Background()

	req.NoError(f.engine.HandleUserMessage(ctx, userMessage("hello, I need help")))

	record, found, err := f.registry.FindOpen("guild-1", "alice")
	req.NoError(err)
	req.True(found)

	// Welcome DM.
	directs := f.gateway.Directs("alice")
	req.Len(directs, 1)
	req.Equal("Modmail Started", directs[0].Title)

	// New-thread header then the forwarded content, in order.
	messages := f.gateway.ChannelMessages(record.Channel)
	req.Len(messages, 2)
	req.Contains(messages[0].Body, "New modmail from Alice")
	req.Equal("hello, I need help", messages[1].Body)
	req.Equal("Alice", messages[1].Author)
	req.Contains(messages[1].Footer, "User ID: alice")

	// Receipt ack on the user's own message.
	req.Equal([]string{"✅"}, f.gateway.Reactions("dm-alice", "msg-origin-1"))

	// Audit trail.
	entries, _, err := f.logs.ListForOwner("guild-1", "alice", nil)
	req.NoError(err)
	req.Len(entries, 1)
	req.Equal(domain.FromUser, entries[0].Direction)
	req.Equal(domain.UserID("alice"), entries[0].Author)

	stats := f.metrics.Snapshot()
	req.Equal(uint64(1), stats.ThreadsOpened)
	req.Equal(uint64(1), stats.UserMessages)
}

func TestRelay_Second_Message_Reuses_Thread(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, gateway.AllowAll{})
	ctx := context.Background()

	req.NoError(f.engine.HandleUserMessage(ctx, userMessage("first")))
	req.NoError(f.engine.HandleUserMessage(ctx, userMessage("second")))

	req.Equal(1, f.gateway.CreatedChannels())

	record, _, err := f.registry.FindOpen("guild-1", "alice")
	req.NoError(err)
	// Header + two forwarded messages; no second welcome.
	req.Len(f.gateway.ChannelMessages(record.Channel), 3)
	req.Len(f.gateway.Directs("alice"), 1)
}

func TestRelay_Concurrent_First_Messages_Share_One_Thread(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, gateway.AllowAll{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := userMessage(fmt.Sprintf("hello %d", i))
			require.NoError(t, f.engine.HandleUserMessage(ctx, msg))
		}(i)
	}
	wg.Wait()

	req.Equal(1, f.gateway.CreatedChannels())

	record, found, err := f.registry.FindOpen("guild-1", "alice")
	req.NoError(err)
	req.True(found)

	// One header, both messages forwarded.
	req.Len(f.gateway.ChannelMessages(record.Channel), 3)

	entries, _, err := f.logs.ListForOwner("guild-1", "alice", nil)
	req.NoError(err)
	req.Len(entries, 2)
	req.Equal(uint64(1), f.metrics.Snapshot().ThreadsOpened)
}

func TestRelay_Staff_Reply_Reaches_User(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, gateway.AllowAll{})
	ctx := context.Background()

	req.NoError(f.engine.HandleUserMessage(ctx, userMessage("hello")))
	record, _, err := f.registry.FindOpen("guild-1", "alice")
	req.NoError(err)

	req.NoError(f.engine.HandleStaffMessage(ctx, domain.InboundStaffMessage{
		Guild:   "guild-1",
		Channel: record.Channel,
		Author:  "staff-1",
		Content: "we are on it",
		At:      time.Now().UTC(),
		Message: "msg-staff-1",
	}))

	directs := f.gateway.Directs("alice")
	req.Len(directs, 2) // welcome + reply
	reply := directs[1]
	req.Equal("Staff Reply", reply.Title)
	req.Equal("we are on it", reply.Body)
	// The individual staff identity never reaches the user.
	req.Equal("Test Guild Staff", reply.Footer)
	req.NotContains(reply.Body, "staff-1")

	// Ack on the staff message.
	req.Equal([]string{"✅"}, f.gateway.Reactions(record.Channel, "msg-staff-1"))

	entries, _, err := f.logs.ListForOwner("guild-1", "alice", nil)
	req.NoError(err)
	req.Len(entries, 2)
	req.Equal(domain.FromStaff, entries[0].Direction)
	req.Equal(domain.UserID("staff-1"), entries[0].Author)
}

func TestRelay_Blocked_User_Gets_Warning_Not_Log_Entry(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, gateway.AllowAll{})
	ctx := context.Background()

	req.NoError(f.engine.HandleUserMessage(ctx, userMessage("hello")))
	record, _, err := f.registry.FindOpen("guild-1", "alice")
	req.NoError(err)

	f.gateway.Block("alice")

	req.NoError(f.engine.HandleStaffMessage(ctx, domain.InboundStaffMessage{
		Guild:   "guild-1",
		Channel: record.Channel,
		Author:  "staff-1",
		Content: "can you see this?",
		At:      time.Now().UTC(),
		Message: "msg-staff-1",
	}))

	messages := f.gateway.ChannelMessages(record.Channel)
	last := messages[len(messages)-1]
	req.Contains(last.Body, "Could not deliver message")

	// A reply that never reached the user is not part of the audit trail.
	entries, _, err := f.logs.ListForOwner("guild-1", "alice", nil)
	req.NoError(err)
	req.Len(entries, 1)
	req.Equal(domain.FromUser, entries[0].Direction)

	req.Equal(uint64(1), f.metrics.Snapshot().DeliveryFailures)
	req.Equal(uint64(0), f.metrics.Snapshot().StaffReplies)
}

type denyAll struct{}

func (denyAll) IsAuthorized(_ context.Context, _ domain.UserID, _ domain.GuildID) (bool, error) {
	return false, nil
}

func TestRelay_Unauthorized_Staff_Message_Is_Dropped(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, denyAll{})
	ctx := context.Background()

	// Open a thread by hand; HandleUserMessage does not consult the authorizer.
	record, _, err := f.registry.Open(ctx, "guild-1", "alice", "modmail-alice", nil)
	req.NoError(err)

	req.NoError(f.engine.HandleStaffMessage(ctx, domain.InboundStaffMessage{
		Guild:   "guild-1",
		Channel: record.Channel,
		Author:  "intruder",
		Content: "let me in",
		At:      time.Now().UTC(),
		Message: "msg-1",
	}))

	req.Empty(f.gateway.Directs("alice"))
	entries, _, err := f.logs.ListForOwner("guild-1", "alice", nil)
	req.NoError(err)
	req.Empty(entries)
}

func TestRelay_Message_In_Unknown_Channel_Is_Dropped(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, gateway.AllowAll{})

	req.NoError(f.engine.HandleStaffMessage(context.Background(), domain.InboundStaffMessage{
		Guild:   "guild-1",
		Channel: "random-channel",
		Author:  "staff-1",
		Content: "hello?",
		At:      time.Now().UTC(),
		Message: "msg-1",
	}))
	req.Empty(f.gateway.Directs("alice"))
}

func TestRelay_Close_Notifies_And_Schedules_Deletion(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, gateway.AllowAll{})
	ctx := context.Background()

	before := time.Now().UTC()
	req.NoError(f.engine.HandleUserMessage(ctx, userMessage("hello")))
	record, _, err := f.registry.FindOpen("guild-1", "alice")
	req.NoError(err)

	req.NoError(f.engine.Close(ctx, domain.CloseThreadCommand{
		Guild: "guild-1",
		User:  "alice",
		Actor: lo.ToPtr(domain.UserID("staff-1")),
	}))

	// Closure DM names the actor.
	directs := f.gateway.Directs("alice")
	closure := directs[len(directs)-1]
	req.Equal("Modmail Closed", closure.Title)
	req.Equal("Closed by staff-1", closure.Footer)

	// Channel notice mentions the pending deletion.
	messages := f.gateway.ChannelMessages(record.Channel)
	req.Contains(messages[len(messages)-1].Body, "will be deleted in")

	// One deletion ticket, not before the grace delay.
	select {
	case ticket := <-f.deletions:
		req.Equal(record.Channel, ticket.Channel)
		req.False(ticket.NotBefore.Before(before.Add(5 * time.Second)))
	default:
		req.Fail("expected a deletion ticket")
	}

	// The registry slot is free again.
	_, found, err := f.registry.FindOpen("guild-1", "alice")
	req.NoError(err)
	req.False(found)
	req.Equal(uint64(1), f.metrics.Snapshot().ThreadsClosed)
}

func TestRelay_Close_Without_Thread_Is_Benign(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, gateway.AllowAll{})

	req.NoError(f.engine.Close(context.Background(), domain.CloseThreadCommand{
		Guild: "guild-1",
		User:  "nobody",
	}))
	req.Equal(uint64(0), f.metrics.Snapshot().ThreadsClosed)
}

func TestRelay_New_Message_After_Close_Opens_Fresh_Thread(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, gateway.AllowAll{})
	ctx := context.Background()

	req.NoError(f.engine.HandleUserMessage(ctx, userMessage("first contact")))
	first, _, err := f.registry.FindOpen("guild-1", "alice")
	req.NoError(err)

	req.NoError(f.engine.Close(ctx, domain.CloseThreadCommand{Guild: "guild-1", User: "alice"}))
	req.NoError(f.engine.HandleUserMessage(ctx, userMessage("me again")))

	second, found, err := f.registry.FindOpen("guild-1", "alice")
	req.NoError(err)
	req.True(found)
	req.NotEqual(first.Channel, second.Channel)
	req.Equal(2, f.gateway.CreatedChannels())

	// History spans both threads.
	entries, _, err := f.logs.ListForOwner("guild-1", "alice", nil)
	req.NoError(err)
	req.Len(entries, 2)
}

func TestRelay_RemoveMessage(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t, gateway.AllowAll{})
	ctx := context.Background()

	req.NoError(f.engine.HandleUserMessage(ctx, userMessage("delete me")))
	record, _, err := f.registry.FindOpen("guild-1", "alice")
	req.NoError(err)

	message, ok := f.gateway.LastMessageID(record.Channel)
	req.True(ok)

	req.NoError(f.engine.RemoveMessage(ctx, domain.RemoveMessageCommand{
		Channel: record.Channel,
		Message: message,
	}))
	req.Len(f.gateway.ChannelMessages(record.Channel), 1)

	// Removing it again reports the benign miss.
	err = f.engine.RemoveMessage(ctx, domain.RemoveMessageCommand{
		Channel: record.Channel,
		Message: message,
	})
	req.ErrorIs(err, errors.ErrMessageNotFound)
}
