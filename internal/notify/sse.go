package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const keepaliveInterval = 30 * time.Second

// StreamHandler serves the user's event feed as Server-Sent Events. userFrom
// resolves the requesting user; a non-nil error is written as 401. Wire
// format is "event: <type>\ndata: <json>\n\n" with a comment keepalive every
// 30 seconds of idle.
func (n *Notifier) StreamHandler(userFrom func(*http.Request) (string, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := userFrom(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		// Keep reverse proxies from buffering the stream.
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := n.Register(userID)
		defer n.Unregister(sub)
		n.logger.Debug("sse subscriber connected", "user", userID)

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-r.Context().Done():
				n.logger.Debug("sse subscriber disconnected", "user", userID)
				return
			case ev := <-sub.Events():
				data, err := json.Marshal(ev)
				if err != nil {
					n.logger.Error("marshal sse event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
				flusher.Flush()
				keepalive.Reset(keepaliveInterval)
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			}
		}
	})
}
