package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/dgnsrekt/mediasniff/internal/mediastore"
	"github.com/dgnsrekt/mediasniff/internal/types"
)

// SSE event names.
const (
	EventCaptured = "captured"
	EventCleared  = "cleared"
)

type changePayload struct {
	TabID    int                     `json:"tabId"`
	Resource *types.CapturedResource `json:"resource,omitempty"`
}

// FromChange converts a store change into an SSE event. Inserts and merges
// both publish the record's current state as "captured".
func FromChange(c mediastore.Change) (Event, bool) {
	kind := EventCaptured
	if c.Kind == mediastore.ChangeCleared {
		kind = EventCleared
	}
	data, err := json.Marshal(changePayload{TabID: c.TabID, Resource: c.Resource})
	if err != nil {
		slog.Debug("relay: encode change failed", "tab_id", c.TabID, "error", err)
		return Event{}, false
	}
	return Event{Kind: kind, TabID: c.TabID, Payload: string(data)}, true
}

// Follow publishes every change of store to b.
func Follow(store *mediastore.Store, b *Broker) {
	store.OnChange(func(c mediastore.Change) {
		if evt, ok := FromChange(c); ok {
			b.Publish(evt)
		}
	})
}
