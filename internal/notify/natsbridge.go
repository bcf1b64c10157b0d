package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSBridge republishes locally-published events to NATS and feeds events
// from other replicas into the local SSE registry. Webhook dispatch stays on
// the publishing replica; the bridge carries SSE fanout only.
type NATSBridge struct {
	natsURL  string
	natsOpts []nats.Option
	notifier *Notifier
	logger   *slog.Logger

	// origin tags outbound messages so this replica skips its own.
	origin string

	mu   sync.Mutex
	conn *nats.Conn
}

// NATSBridgeConfig holds configuration for the bridge.
type NATSBridgeConfig struct {
	NatsURL   string
	NatsToken string
	Notifier  *Notifier
	Logger    *slog.Logger
}

// bridgeMsg is the wire envelope on the focus subjects.
type bridgeMsg struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// NewNATSBridge creates a bridge and hooks it into the notifier's publish
// path.
func NewNATSBridge(cfg NATSBridgeConfig) *NATSBridge {
	opts := []nats.Option{nats.Name("assistant-focus-bridge")}
	if cfg.NatsToken != "" {
		opts = append(opts, nats.Token(cfg.NatsToken))
	}
	b := &NATSBridge{
		natsURL:  cfg.NatsURL,
		natsOpts: opts,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		origin:   uuid.NewString(),
	}
	cfg.Notifier.republish = b.publish
	return b
}

func subjectFor(ev Event) string {
	return fmt.Sprintf("assistant.focus.%s.%s", ev.UserID, ev.Type)
}

func (b *NATSBridge) publish(ev Event) {
	b.mu.Lock()
	nc := b.conn
	b.mu.Unlock()
	if nc == nil {
		return
	}
	data, err := json.Marshal(bridgeMsg{Origin: b.origin, Event: ev})
	if err != nil {
		return
	}
	if err := nc.Publish(subjectFor(ev), data); err != nil {
		b.logger.Warn("nats republish failed", "subject", subjectFor(ev), "error", err)
	}
}

// Start connects and subscribes to the focus subjects, blocking until ctx is
// canceled. Reconnects with backoff on error.
func (b *NATSBridge) Start(ctx context.Context) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := b.run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("focus event bridge error, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (b *NATSBridge) run(ctx context.Context) error {
	nc, err := nats.Connect(b.natsURL, b.natsOpts...)
	if err != nil {
		return fmt.Errorf("NATS connect: %w", err)
	}
	defer nc.Close()

	b.mu.Lock()
	b.conn = nc
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
	}()

	sub, err := nc.Subscribe("assistant.focus.>", func(msg *nats.Msg) {
		b.handleRemote(msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe assistant.focus.>: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	b.logger.Info("focus event bridge subscribed", "url", b.natsURL, "subject", "assistant.focus.>")

	<-ctx.Done()
	return ctx.Err()
}

func (b *NATSBridge) handleRemote(msg *nats.Msg) {
	var m bridgeMsg
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		b.logger.Debug("skipping malformed focus event", "error", err)
		return
	}
	if m.Origin == b.origin {
		// Our own republish coming back around.
		return
	}
	b.notifier.fanout(m.Event)
}
