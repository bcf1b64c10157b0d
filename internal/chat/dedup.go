package chat

import (
	"context"
	"time"

	"skipper/assistant/internal/store"
)

// dedupTTL covers Slack's retry window with margin.
const dedupTTL = 300 * time.Second

// Dedup filters duplicate inbound event deliveries. Slack redelivers events
// when an ack is slow; processing must be idempotent per event ID.
type Dedup struct {
	kv store.Store
}

// NewDedup creates a Dedup over the store's key-value surface.
func NewDedup(kv store.Store) *Dedup {
	return &Dedup{kv: kv}
}

// Seen records the event ID and reports whether it was already recorded
// within the dedup window. The first caller for an ID gets false.
func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	set, err := d.kv.SetNX(ctx, "slack_event:"+eventID, "1", dedupTTL)
	if err != nil {
		return false, err
	}
	return !set, nil
}
