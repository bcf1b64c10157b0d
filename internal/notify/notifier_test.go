package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"skipper/assistant/internal/store"
)

func TestPublish_SSEFanout(t *testing.T) {
	n := New(store.NewMemory(), slog.Default())
	sub := n.Register("u1")
	other := n.Register("u2")

	n.Publish(context.Background(), "u1", EventFocusStarted, map[string]any{"duration_minutes": 50})

	select {
	case ev := <-sub.Events():
		if ev.Type != EventFocusStarted || ev.UserID != "u1" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Data["duration_minutes"] != 50 {
			t.Errorf("data = %v", ev.Data)
		}
	default:
		t.Fatal("subscriber received nothing")
	}
	select {
	case ev := <-other.Events():
		t.Fatalf("cross-user delivery: %+v", ev)
	default:
	}
}

func TestPublish_DropOnFullBacklog(t *testing.T) {
	n := New(store.NewMemory(), slog.Default())
	sub := n.Register("u1")

	// Fill the buffer and one more; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+5; i++ {
			n.Publish(context.Background(), "u1", EventFocusStarted, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	drained := 0
	for {
		select {
		case <-sub.Events():
			drained++
			continue
		default:
		}
		break
	}
	if drained != subscriberBuffer {
		t.Errorf("drained %d events, want %d buffered", drained, subscriberBuffer)
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	n := New(store.NewMemory(), slog.Default())
	sub := n.Register("u1")
	n.Unregister(sub)
	n.Unregister(sub)

	n.Publish(context.Background(), "u1", EventFocusEnded, nil)
	select {
	case ev := <-sub.Events():
		t.Fatalf("unregistered subscriber received %+v", ev)
	default:
	}
}

func TestPublish_Webhooks(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	n := New(mem, slog.Default())

	type received struct {
		Type   string         `json:"type"`
		UserID string         `json:"user_id"`
		Data   map[string]any `json:"data"`
	}
	var mu sync.Mutex
	var got []received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body received
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, body)
		mu.Unlock()
	}))
	defer srv.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	mem.PutWebhookSubscription(ctx, &store.WebhookSubscription{
		ID: "hook-ok", UserID: "u1", URL: srv.URL, Enabled: true,
		EventTypes: []string{EventFocusStarted, EventFocusEnded},
	})
	mem.PutWebhookSubscription(ctx, &store.WebhookSubscription{
		ID: "hook-bad", UserID: "u1", URL: bad.URL, Enabled: true,
		EventTypes: []string{EventFocusStarted},
	})
	mem.PutWebhookSubscription(ctx, &store.WebhookSubscription{
		ID: "hook-off", UserID: "u1", URL: srv.URL, Enabled: false,
		EventTypes: []string{EventFocusStarted},
	})
	mem.PutWebhookSubscription(ctx, &store.WebhookSubscription{
		ID: "hook-other", UserID: "u1", URL: srv.URL, Enabled: true,
		EventTypes: []string{EventPomodoroComplete},
	})

	results := n.Publish(ctx, "u1", EventFocusStarted, map[string]any{"k": "v"})
	if len(results) != 2 {
		t.Fatalf("got %d delivery results, want 2 (matching, enabled only): %+v", len(results), results)
	}
	byName := map[string]DeliveryResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	if !byName["hook-ok"].Success {
		t.Errorf("hook-ok: %+v", byName["hook-ok"])
	}
	if byName["hook-bad"].Success || byName["hook-bad"].Error == "" {
		t.Errorf("hook-bad should fail with an error string: %+v", byName["hook-bad"])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Type != EventFocusStarted || got[0].UserID != "u1" {
		t.Fatalf("delivered payloads = %+v", got)
	}
}

func TestStreamHandler(t *testing.T) {
	n := New(store.NewMemory(), slog.Default())
	h := n.StreamHandler(func(r *http.Request) (string, error) {
		return r.Header.Get("X-Assistant-User"), nil
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("X-Assistant-User", "u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if resp.Header.Get("X-Accel-Buffering") != "no" {
		t.Error("missing X-Accel-Buffering header")
	}

	// Wait for the subscriber to register, then publish.
	deadline := time.Now().Add(2 * time.Second)
	for {
		n.mu.Lock()
		registered := len(n.subs["u1"]) > 0
		n.mu.Unlock()
		if registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	n.Publish(context.Background(), "u1", EventWorkStarted, map[string]any{"session": 1})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(line) != "event: "+EventWorkStarted {
		t.Fatalf("first line = %q", line)
	}
	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "data: ") {
		t.Fatalf("second line = %q", line)
	}
	var ev Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.UserID != "u1" || ev.Type != EventWorkStarted {
		t.Errorf("event = %+v", ev)
	}
}

func TestStreamHandler_Unauthorized(t *testing.T) {
	n := New(store.NewMemory(), slog.Default())
	h := n.StreamHandler(func(*http.Request) (string, error) {
		return "", http.ErrNoCookie
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/focus/events", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}
