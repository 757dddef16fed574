// Package capture turns browser network events into store observations.
package capture

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgnsrekt/mediasniff/internal/classify"
	"github.com/dgnsrekt/mediasniff/internal/mediastore"
	"github.com/dgnsrekt/mediasniff/internal/types"
)

var contentRangeTotal = regexp.MustCompile(`/(\d+)`)

var ignoredPrefixes = []string{"chrome", "about", "devtools", "data:", "blob:"}

// Intake applies the classifier to network events and submits hits to the
// store. Both handlers return without waiting on durable storage.
type Intake struct {
	store *mediastore.Store
}

func NewIntake(store *mediastore.Store) *Intake {
	return &Intake{store: store}
}

// OnBeforeRequest handles a request that is about to be sent. Every matching
// request matcher submits one observation; they collapse to a single record
// through the base key.
func (in *Intake) OnBeforeRequest(tabID int, rawURL string) {
	if ignored(tabID, rawURL) {
		return
	}
	for _, m := range classify.ClassifyRequest(rawURL) {
		out := in.store.InsertOrMerge(types.Observation{
			TabID:      tabID,
			URL:        rawURL,
			DetectedBy: m.DetectedBy,
			Site:       m.Site,
		})
		slog.Debug("request classified", "tab_id", tabID, "matcher", m.Matcher, "outcome", out.String(), "url", truncateURL(rawURL))
	}
}

// OnHeadersReceived handles response headers. Header names must already be
// lower-cased.
func (in *Intake) OnHeadersReceived(tabID int, rawURL string, headers map[string]string) {
	if ignored(tabID, rawURL) {
		return
	}
	contentType := headers["content-type"]
	size := effectiveSize(headers)

	m, ok := classify.ClassifyResponse(rawURL, contentType, size)
	if !ok {
		return
	}
	out := in.store.InsertOrMerge(types.Observation{
		TabID:       tabID,
		URL:         rawURL,
		DetectedBy:  m.DetectedBy,
		ContentType: contentType,
		SizeBytes:   size,
		Site:        m.Site,
	})
	slog.Debug("response classified", "tab_id", tabID, "matcher", m.Matcher, "outcome", out.String(), "size", size, "url", truncateURL(rawURL))
}

// effectiveSize prefers a positive total from Content-Range over
// Content-Length, so a ranged chunk reports the size of the whole resource.
func effectiveSize(headers map[string]string) int64 {
	var size int64
	if v, err := strconv.ParseInt(strings.TrimSpace(headers["content-length"]), 10, 64); err == nil && v > 0 {
		size = v
	}
	if m := contentRangeTotal.FindStringSubmatch(headers["content-range"]); m != nil {
		if total, err := strconv.ParseInt(m[1], 10, 64); err == nil && total > 0 {
			size = total
		}
	}
	return size
}

func ignored(tabID int, rawURL string) bool {
	if tabID < 0 {
		return true
	}
	for _, p := range ignoredPrefixes {
		if strings.HasPrefix(rawURL, p) {
			return true
		}
	}
	return false
}

func truncateURL(u string) string {
	if len(u) > 100 {
		return u[:100] + "..."
	}
	return u
}
