//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"modmail/domain"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// DeliveryStatus is the explicit outcome of a direct-message attempt.
// A refusal (user disallows DMs) is a normal result, never an error.
type DeliveryStatus int

const (
	Delivered DeliveryStatus = iota
	Refused
)

// Gateway is the chat platform capability the core drives. The core never
// touches the wire: channels, direct messages and reactions are opaque
// operations that may block, fail, or be refused.
type Gateway interface {
	// CreateChannel opens a restricted channel for one thread. Only the
	// allowed identities (staff role, process identity) may read or write.
	CreateChannel(ctx context.Context, guild domain.GuildID, ownerLabel string, allowed []string) (domain.ChannelID, error)
	DeleteChannel(ctx context.Context, channel domain.ChannelID) error
	SendToChannel(ctx context.Context, channel domain.ChannelID, msg domain.RenderedMessage) error
	// SendDirect reports Refused when the recipient disallows direct
	// messages; the error return is reserved for transport failures.
	SendDirect(ctx context.Context, user domain.UserID, msg domain.RenderedMessage) (DeliveryStatus, error)
	React(ctx context.Context, channel domain.ChannelID, message domain.MessageID, emoji string) error
	FetchMessage(ctx context.Context, channel domain.ChannelID, message domain.MessageID) (domain.RenderedMessage, error)
	DeleteMessage(ctx context.Context, channel domain.ChannelID, message domain.MessageID) error
}

// Authorizer answers the single permission question the core ever asks.
// Role semantics live entirely in the outer layer.
type Authorizer interface {
	IsAuthorized(ctx context.Context, user domain.UserID, guild domain.GuildID) (bool, error)
}
