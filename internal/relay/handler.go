package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const keepaliveInterval = 15 * time.Second

var errBadTab = errors.New("tab must be a non-negative integer")

// ParseFilter reads ?tab=N and ?kinds=captured,cleared.
func ParseFilter(q url.Values) (Filter, error) {
	f := Filter{TabID: AnyTab}
	if v := q.Get("tab"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Filter{}, errBadTab
		}
		f.TabID = n
	}
	if v := q.Get("kinds"); v != "" {
		f.Kinds = make(map[string]bool)
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				f.Kinds[k] = true
			}
		}
	}
	return f, nil
}

// SSEHandler streams store events as server-sent events. Idle streams get a
// comment line every 15s so intermediaries keep them open.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		filter, err := ParseFilter(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		flusher.Flush()

		sub := broker.Subscribe(filter)
		defer broker.Unsubscribe(sub)
		slog.Debug("event stream opened", "remote", r.RemoteAddr, "tab", filter.TabID)

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepalive.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case evt, ok := <-sub.C:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, evt.Payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
