package capture

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/cdproto/network"

	"github.com/dgnsrekt/mediasniff/internal/types"
)

// HTTPCapture adapts CDP Network events to the intake handlers.
type HTTPCapture struct {
	intake      *Intake
	tabRegistry types.TabInfoProvider
}

func NewHTTPCapture(intake *Intake, tabRegistry types.TabInfoProvider) *HTTPCapture {
	return &HTTPCapture{
		intake:      intake,
		tabRegistry: tabRegistry,
	}
}

func (h *HTTPCapture) OnRequestWillBeSent(targetID string, ev *network.EventRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	tabID, ok := h.resolve(targetID)
	if !ok {
		return
	}
	h.intake.OnBeforeRequest(tabID, ev.Request.URL)
}

func (h *HTTPCapture) OnResponseReceived(targetID string, ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	tabID, ok := h.resolve(targetID)
	if !ok {
		return
	}
	h.intake.OnHeadersReceived(tabID, ev.Response.URL, headerMapToStringMap(ev.Response.Headers))
}

func (h *HTTPCapture) resolve(targetID string) (int, bool) {
	info, ok := h.tabRegistry.GetByStringID(targetID)
	if !ok {
		slog.Debug("network event for unknown target", "target_id", targetID)
		return 0, false
	}
	return info.TabID, true
}

// headerMapToStringMap lower-cases header names. Non-string values are
// formatted.
func headerMapToStringMap(headers map[string]any) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.ToLower(k)
		switch val := v.(type) {
		case string:
			result[key] = val
		case nil:
		default:
			result[key] = fmt.Sprint(val)
		}
	}
	return result
}
