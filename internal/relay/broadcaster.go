package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Forwarder carries local broadcasts to other relay nodes.
type Forwarder interface {
	Forward(ctx context.Context, msg Message) error
}

type Broadcaster struct {
	reg       *Registry
	logger    *slog.Logger
	forwarder Forwarder
}

func NewBroadcaster(reg *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{reg: reg, logger: logger}
}

// SetForwarder installs f; call before any handler starts.
func (b *Broadcaster) SetForwarder(f Forwarder) { b.forwarder = f }

// Broadcast queues "[sender] payload" for every registered connection except
// sender and returns how many peers accepted it. It never waits on a peer's
// transport. Drops and failures are logged and counted, never returned.
func (b *Broadcaster) Broadcast(sender *Connection, payload []byte) int {
	start := time.Now()
	msg := Message{Origin: sender, Sender: sender.Addr(), Payload: payload}

	delivered := b.fanout(msg)
	BroadcastDuration.WithLabelValues("local").Observe(time.Since(start).Seconds())

	if b.forwarder != nil {
		if err := b.forwarder.Forward(context.Background(), msg); err != nil {
			b.logger.Warn("forward failed", "sender", msg.Sender, "error", err)
		}
	}
	return delivered
}

// Deliver fans out a message that arrived from another relay node to every
// local connection.
func (b *Broadcaster) Deliver(msg Message) int {
	start := time.Now()
	msg.Origin = nil
	delivered := b.fanout(msg)
	BroadcastDuration.WithLabelValues("remote").Observe(time.Since(start).Seconds())
	return delivered
}

func (b *Broadcaster) fanout(msg Message) int {
	peers := b.reg.Snapshot()
	out := msg.Envelope()

	delivered := 0
	for _, p := range peers {
		if p == msg.Origin {
			continue
		}
		if err := p.Send(out); err != nil {
			result := "error"
			if errors.Is(err, ErrQueueFull) {
				result = "dropped"
			}
			Deliveries.WithLabelValues(result).Inc()
			derr := &DeliveryError{Peer: p.Addr(), Err: err}
			b.logger.Warn("broadcast delivery failed", "id", p.ID, "error", derr)
			continue
		}
		Deliveries.WithLabelValues("ok").Inc()
		delivered++
	}
	return delivered
}
