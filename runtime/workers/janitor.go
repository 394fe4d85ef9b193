package workers

import (
	"context"
	"log/slog"
	"time"

	"modmail/contract"
	"modmail/domain"
)

// ChannelJanitor deletes thread channels once their post-closure grace delay
// has elapsed. Deletions arrive on a queue so closing a thread never blocks
// on the delay; the grace period is identical for every ticket, which keeps
// the queue naturally ordered by due time.
type ChannelJanitor struct {
	log     *slog.Logger
	gateway contract.Gateway
	queue   <-chan domain.ChannelDeletion
	clock   func() time.Time
}

func NewChannelJanitor(log *slog.Logger, gateway contract.Gateway, queue <-chan domain.ChannelDeletion) *ChannelJanitor {
	return &ChannelJanitor{
		log:     log,
		gateway: gateway,
		queue:   queue,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

func (w *ChannelJanitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ticket, ok := <-w.queue:
			if !ok {
				return nil
			}
			if wait := ticket.NotBefore.Sub(w.clock()); wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
			// Deletion failure is logged, never fatal: the channel may
			// already be gone.
			if err := w.gateway.DeleteChannel(ctx, ticket.Channel); err != nil {
				w.log.Warn("Thread channel not deleted", "channel", ticket.Channel, "err", err)
				continue
			}
			w.log.Debug("Thread channel deleted", "channel", ticket.Channel)
		}
	}
}
