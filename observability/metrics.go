package observability

import (
	"sync/atomic"
	"time"
)

// RelayStats is a point-in-time snapshot of the relay counters.
type RelayStats struct {
	UserMessages     uint64 `json:"user_messages"`
	StaffReplies     uint64 `json:"staff_replies"`
	DeliveryFailures uint64 `json:"delivery_failures"`
	ThreadsOpened    uint64 `json:"threads_opened"`
	ThreadsClosed    uint64 `json:"threads_closed"`
	SweepCycles      uint64 `json:"sweep_cycles"`
	Since            string `json:"since"`
}

// Metrics aggregates relay activity with atomic counters so every component
// can report without coordination.
type Metrics struct {
	userMessages     atomic.Uint64
	staffReplies     atomic.Uint64
	deliveryFailures atomic.Uint64
	threadsOpened    atomic.Uint64
	threadsClosed    atomic.Uint64
	sweepCycles      atomic.Uint64
	started          time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{started: time.Now().UTC()}
}

func (m *Metrics) UserMessageRelayed()  { m.userMessages.Add(1) }
func (m *Metrics) StaffReplyDelivered() { m.staffReplies.Add(1) }
func (m *Metrics) DeliveryFailed()      { m.deliveryFailures.Add(1) }
func (m *Metrics) ThreadOpened()        { m.threadsOpened.Add(1) }
func (m *Metrics) ThreadClosed()        { m.threadsClosed.Add(1) }
func (m *Metrics) SweepCompleted()      { m.sweepCycles.Add(1) }

func (m *Metrics) Snapshot() RelayStats {
	return RelayStats{
		UserMessages:     m.userMessages.Load(),
		StaffReplies:     m.staffReplies.Load(),
		DeliveryFailures: m.deliveryFailures.Load(),
		ThreadsOpened:    m.threadsOpened.Load(),
		ThreadsClosed:    m.threadsClosed.Load(),
		SweepCycles:      m.sweepCycles.Load(),
		Since:            m.started.Format(time.RFC3339),
	}
}
