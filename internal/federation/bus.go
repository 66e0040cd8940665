// Package federation links relay nodes through a Redis Pub/Sub channel so a
// chunk received on one node reaches the peers connected to every node.
// Pub/Sub keeps nothing: a node that is down misses what was sent meanwhile.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/andy6609/broadcast-relay/internal/relay"
)

type Bus struct {
	cli     *redis.Client
	channel string
	node    string
	logger  *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// Message is the wire form published on the channel.
type Message struct {
	Node   string    `json:"node"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	When   time.Time `json:"when"`
}

func New(addr, channel string, logger *slog.Logger) *Bus {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}), channel, logger)
}

func NewWithClient(cli *redis.Client, channel string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		cli:     cli,
		channel: channel,
		node:    uuid.NewString(),
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

func (b *Bus) NodeID() string { return b.node }

// Ready is closed once Run's subscription is confirmed.
func (b *Bus) Ready() <-chan struct{} { return b.ready }

// Ping checks that Redis is reachable.
func (b *Bus) Ping(ctx context.Context) error {
	return b.cli.Ping(ctx).Err()
}

// Forward publishes a locally received chunk for the other nodes.
func (b *Bus) Forward(ctx context.Context, msg relay.Message) error {
	payload, err := json.Marshal(Message{
		Node:   b.node,
		Sender: msg.Sender,
		Text:   string(msg.Payload),
		When:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := b.cli.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Run subscribes and hands every message published by another node to
// deliver. It blocks until ctx is done or the subscription ends.
func (b *Bus) Run(ctx context.Context, deliver func(relay.Message)) error {
	sub := b.cli.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.readyOnce.Do(func() { close(b.ready) })
	b.logger.Info("federation subscribed", "channel", b.channel, "node", b.node)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("federation decode failed", "error", err)
				continue
			}
			if msg.Node == b.node {
				continue
			}
			deliver(relay.Message{Sender: msg.Sender, Payload: []byte(msg.Text)})
		}
	}
}

func (b *Bus) Close() error {
	return b.cli.Close()
}
