package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"skipper/assistant/internal/store"
)

const webhookTimeout = 10 * time.Second

// webhookDispatcher POSTs events to subscription URLs. No retries; a failed
// delivery is reported in the DeliveryResult and the caller moves on.
type webhookDispatcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func newWebhookDispatcher(logger *slog.Logger) *webhookDispatcher {
	return &webhookDispatcher{
		httpClient: &http.Client{Timeout: webhookTimeout},
		logger:     logger,
	}
}

func (d *webhookDispatcher) deliver(ctx context.Context, sub *store.WebhookSubscription, ev Event) DeliveryResult {
	res := DeliveryResult{Name: sub.ID}

	body, err := json.Marshal(ev)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Warn("webhook delivery failed", "subscription", sub.ID, "url", sub.URL, "error", err)
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Error = fmt.Sprintf("status %d", resp.StatusCode)
		d.logger.Warn("webhook delivery rejected", "subscription", sub.ID, "status", resp.StatusCode)
		return res
	}
	res.Success = true
	return res
}
