package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"modmail/contract"
	"modmail/domain"
	"modmail/observability"
)

type StaleLister interface {
	ListStale(guild domain.GuildID, olderThan time.Time) ([]domain.ThreadRecord, error)
}

type ThreadCloser interface {
	Close(ctx context.Context, cmd domain.CloseThreadCommand) error
}

// IdleSweeper closes threads idle past the inactivity window. One worker,
// one loop: the next tick cannot start a sweep while the previous one still
// runs, so overlapping sweeps are impossible by construction.
type IdleSweeper struct {
	log      *slog.Logger
	guild    domain.GuildID
	window   time.Duration
	interval time.Duration
	threads  StaleLister
	closer   ThreadCloser
	gateway  contract.Gateway
	metrics  *observability.Metrics
	clock    func() time.Time
}

func NewIdleSweeper(
	log *slog.Logger,
	guild domain.GuildID,
	window time.Duration,
	interval time.Duration,
	threads StaleLister,
	closer ThreadCloser,
	gateway contract.Gateway,
	metrics *observability.Metrics,
) *IdleSweeper {
	return &IdleSweeper{
		log:      log,
		guild:    guild,
		window:   window,
		interval: interval,
		threads:  threads,
		closer:   closer,
		gateway:  gateway,
		metrics:  metrics,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

func (w *IdleSweeper) Run(ctx context.Context) error {
	w.log.Info("Starting idle sweeper", "window", w.window, "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				// A failed cycle is retried at the next tick.
				w.log.Error("Sweep cycle failed", "err", err)
			}
		}
	}
}

// sweep closes every stale thread it can and keeps going on per-record
// failures; one broken channel must not protect the rest from closure.
func (w *IdleSweeper) sweep(ctx context.Context) error {
	threshold := w.clock().Add(-w.window)
	records, err := w.threads.ListStale(w.guild, threshold)
	if err != nil {
		return err
	}

	for _, record := range records {
		notice := domain.RenderedMessage{
			Body: fmt.Sprintf("This thread has been inactive for %s and will now be closed.", w.window),
		}
		if err := w.gateway.SendToChannel(ctx, record.Channel, notice); err != nil {
			w.log.Debug("Inactivity notice not posted", "channel", record.Channel, "err", err)
		}
		if err := w.closer.Close(ctx, domain.CloseThreadCommand{Guild: record.Guild, User: record.User}); err != nil {
			w.log.Error("Stale thread not closed", "user", record.User, "channel", record.Channel, "err", err)
			continue
		}
		w.log.Info("Idle thread closed", "user", record.User, "channel", record.Channel)
	}
	w.metrics.SweepCompleted()
	return nil
}
