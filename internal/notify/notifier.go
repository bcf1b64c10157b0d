// Package notify fans focus lifecycle events out to SSE subscribers and
// user-configured webhooks, optionally bridging across replicas over NATS.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"skipper/assistant/internal/store"
)

// Event types published by the focus state machine.
const (
	EventFocusStarted     = "focus_started"
	EventFocusEnded       = "focus_ended"
	EventWorkStarted      = "pomodoro_work_started"
	EventBreakStarted     = "pomodoro_break_started"
	EventPomodoroComplete = "pomodoro_complete"

	// EventFocusBypass is reserved for urgent-contact escalation.
	EventFocusBypass = "focus_bypass"
)

// subscriberBuffer is the per-connection event backlog. A subscriber that
// falls further behind drops events rather than blocking the publisher.
const subscriberBuffer = 16

// Event is the envelope delivered to every sink.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Data      map[string]any `json:"data"`
}

// DeliveryResult records one webhook delivery attempt.
type DeliveryResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Subscriber is one live SSE connection's event feed.
type Subscriber struct {
	userID string
	ch     chan Event
}

// Events returns the subscriber's receive channel.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Notifier is the event fanout hub. Publish is safe to call concurrently
// with Register and Unregister.
type Notifier struct {
	store    store.Store
	logger   *slog.Logger
	webhooks *webhookDispatcher

	mu   sync.Mutex
	subs map[string][]*Subscriber

	// republish, when set, forwards locally-published events to the NATS
	// bridge after local delivery.
	republish func(Event)

	now func() time.Time
}

// New creates a Notifier over the given subscription store.
func New(s store.Store, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:    s,
		logger:   logger,
		webhooks: newWebhookDispatcher(logger),
		subs:     make(map[string][]*Subscriber),
		now:      time.Now,
	}
}

// Register adds an SSE subscriber for the user.
func (n *Notifier) Register(userID string) *Subscriber {
	sub := &Subscriber{userID: userID, ch: make(chan Event, subscriberBuffer)}
	n.mu.Lock()
	n.subs[userID] = append(n.subs[userID], sub)
	n.mu.Unlock()
	return sub
}

// Unregister removes a subscriber. Safe to call more than once and while a
// publish is in flight; the publisher holds its own snapshot of the list.
func (n *Notifier) Unregister(sub *Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.subs[sub.userID]
	for i, s := range list {
		if s == sub {
			n.subs[sub.userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(n.subs[sub.userID]) == 0 {
		delete(n.subs, sub.userID)
	}
}

// Publish delivers an event to the user's SSE subscribers, then to matching
// webhook subscriptions, returning one DeliveryResult per webhook target.
// SSE delivery completes before the first webhook request starts.
func (n *Notifier) Publish(ctx context.Context, userID, eventType string, data map[string]any) []DeliveryResult {
	ev := Event{Type: eventType, Timestamp: n.now().UTC(), UserID: userID, Data: data}

	n.fanout(ev)
	results := n.dispatchWebhooks(ctx, ev)

	if n.republish != nil {
		n.republish(ev)
	}
	return results
}

// fanout delivers to local SSE subscribers, non-blocking.
func (n *Notifier) fanout(ev Event) {
	n.mu.Lock()
	snapshot := append([]*Subscriber(nil), n.subs[ev.UserID]...)
	n.mu.Unlock()

	for _, sub := range snapshot {
		select {
		case sub.ch <- ev:
		default:
			n.logger.Warn("sse subscriber backlog full, dropping event",
				"user", ev.UserID, "type", ev.Type)
		}
	}
}

func (n *Notifier) dispatchWebhooks(ctx context.Context, ev Event) []DeliveryResult {
	subs, err := n.store.WebhookSubscriptions(ctx, ev.UserID)
	if err != nil {
		n.logger.Error("load webhook subscriptions", "user", ev.UserID, "error", err)
		return nil
	}
	var results []DeliveryResult
	for _, sub := range subs {
		if !sub.Enabled || !sub.Wants(ev.Type) {
			continue
		}
		results = append(results, n.webhooks.deliver(ctx, sub, ev))
	}
	return results
}
