// Package gateway provides in-process implementations of the channel
// gateway contract. The real chat transport lives in an external adapter;
// the in-memory gateway keeps the engine testable and runnable locally.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"modmail/contract"
	"modmail/domain"
)

type storedMessage struct {
	id  domain.MessageID
	msg domain.RenderedMessage
}

type memoryChannel struct {
	guild    domain.GuildID
	label    string
	allowed  []string
	messages []storedMessage
}

// InMemory is a Gateway backed by maps. Beyond the contract it exposes
// inspection helpers used by tests and the local harness.
type InMemory struct {
	mu         sync.Mutex
	channels   map[domain.ChannelID]*memoryChannel
	directs    map[domain.UserID][]domain.RenderedMessage
	blocked    map[domain.UserID]bool
	reactions  map[string][]string
	created    int
	failDelete map[domain.ChannelID]error
}

func NewInMemory() *InMemory {
	return &InMemory{
		channels:   make(map[domain.ChannelID]*memoryChannel),
		directs:    make(map[domain.UserID][]domain.RenderedMessage),
		blocked:    make(map[domain.UserID]bool),
		reactions:  make(map[string][]string),
		failDelete: make(map[domain.ChannelID]error),
	}
}

func (g *InMemory) CreateChannel(_ context.Context, guild domain.GuildID, ownerLabel string, allowed []string) (domain.ChannelID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := domain.ChannelID(uuid.NewString())
	g.channels[id] = &memoryChannel{guild: guild, label: ownerLabel, allowed: allowed}
	g.created++
	return id, nil
}

func (g *InMemory) DeleteChannel(_ context.Context, channel domain.ChannelID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failDelete[channel]; ok {
		return err
	}
	if _, ok := g.channels[channel]; !ok {
		return fmt.Errorf("unknown channel %s", channel)
	}
	delete(g.channels, channel)
	return nil
}

func (g *InMemory) SendToChannel(_ context.Context, channel domain.ChannelID, msg domain.RenderedMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.channels[channel]
	if !ok {
		return fmt.Errorf("unknown channel %s", channel)
	}
	ch.messages = append(ch.messages, storedMessage{id: domain.MessageID(uuid.NewString()), msg: msg})
	return nil
}

func (g *InMemory) SendDirect(_ context.Context, user domain.UserID, msg domain.RenderedMessage) (contract.DeliveryStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.blocked[user] {
		return contract.Refused, nil
	}
	g.directs[user] = append(g.directs[user], msg)
	return contract.Delivered, nil
}

// React never fails: the origin of a reaction may be a channel the gateway
// does not track (e.g. the user's own DM channel).
func (g *InMemory) React(_ context.Context, channel domain.ChannelID, message domain.MessageID, emoji string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := reactionKey(channel, message)
	g.reactions[key] = append(g.reactions[key], emoji)
	return nil
}

func (g *InMemory) FetchMessage(_ context.Context, channel domain.ChannelID, message domain.MessageID) (domain.RenderedMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.channels[channel]
	if !ok {
		return domain.RenderedMessage{}, fmt.Errorf("unknown channel %s", channel)
	}
	for _, stored := range ch.messages {
		if stored.id == message {
			return stored.msg, nil
		}
	}
	return domain.RenderedMessage{}, fmt.Errorf("message %s not found in channel %s", message, channel)
}

func (g *InMemory) DeleteMessage(_ context.Context, channel domain.ChannelID, message domain.MessageID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.channels[channel]
	if !ok {
		return fmt.Errorf("unknown channel %s", channel)
	}
	for i, stored := range ch.messages {
		if stored.id == message {
			ch.messages = append(ch.messages[:i], ch.messages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message %s not found in channel %s", message, channel)
}

// Block makes future direct deliveries to user come back Refused.
func (g *InMemory) Block(user domain.UserID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[user] = true
}

// FailDeleteChannel forces DeleteChannel for this channel to return err.
func (g *InMemory) FailDeleteChannel(channel domain.ChannelID, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failDelete[channel] = err
}

// CreatedChannels counts every channel ever created, deleted ones included.
func (g *InMemory) CreatedChannels() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.created
}

// LiveChannels counts the channels that currently exist.
func (g *InMemory) LiveChannels() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.channels)
}

func (g *InMemory) HasChannel(channel domain.ChannelID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.channels[channel]
	return ok
}

func (g *InMemory) ChannelMessages(channel domain.ChannelID) []domain.RenderedMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.channels[channel]
	if !ok {
		return nil
	}
	messages := make([]domain.RenderedMessage, 0, len(ch.messages))
	for _, stored := range ch.messages {
		messages = append(messages, stored.msg)
	}
	return messages
}

// LastMessageID returns the id of the newest message in a channel, for
// exercising fetch/delete in tests.
func (g *InMemory) LastMessageID(channel domain.ChannelID) (domain.MessageID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.channels[channel]
	if !ok || len(ch.messages) == 0 {
		return "", false
	}
	return ch.messages[len(ch.messages)-1].id, true
}

func (g *InMemory) Directs(user domain.UserID) []domain.RenderedMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.RenderedMessage(nil), g.directs[user]...)
}

func (g *InMemory) Reactions(channel domain.ChannelID, message domain.MessageID) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.reactions[reactionKey(channel, message)]...)
}

func reactionKey(channel domain.ChannelID, message domain.MessageID) string {
	return fmt.Sprintf("%s/%s", channel, message)
}

// AllowAll authorizes everyone. Useful for the local harness and tests that
// are not about permissions.
type AllowAll struct{}

func (AllowAll) IsAuthorized(_ context.Context, _ domain.UserID, _ domain.GuildID) (bool, error) {
	return true, nil
}
