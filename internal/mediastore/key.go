package mediastore

import (
	"strconv"
	"strings"

	"github.com/dgnsrekt/mediasniff/internal/classify"
	"github.com/dgnsrekt/mediasniff/internal/types"
)

// MinRangeChunk is the smallest explicit byte-range span accepted for
// range-keyed streams. Smaller spans are player probes.
const MinRangeChunk = 100 * 1024

// BaseKey derives the dedup key for a resource. YouTube streams collapse on
// content id + itag so transient range/session parameters do not split a
// variant; everything else collapses on origin + path.
func BaseKey(rawURL string, site types.Site) string {
	u, err := classify.ParseAbsolute(rawURL)
	if err != nil {
		return rawURL
	}
	if site == types.SiteYouTube {
		q := u.Query()
		id := q.Get("id")
		if id == "" {
			id = u.EscapedPath()
		}
		return "yt:" + id + ":" + q.Get("itag")
	}
	return u.Scheme + "://" + u.Host + u.EscapedPath()
}

// isProbe reports whether a range-keyed URL requests fewer than MinRangeChunk
// bytes. Unparseable ranges are not probes; open-ended ones are.
func isProbe(rawURL string, site types.Site) bool {
	if site != types.SiteYouTube {
		return false
	}
	u, err := classify.ParseAbsolute(rawURL)
	if err != nil {
		return false
	}
	r := u.Query().Get("range")
	if r == "" {
		return false
	}
	startStr, endStr, ok := strings.Cut(r, "-")
	if !ok {
		return false
	}
	start, ok := rangeBound(startStr)
	if !ok {
		return false
	}
	end, ok := rangeBound(endStr)
	if !ok {
		return false
	}
	return end-start < MinRangeChunk
}

// rangeBound parses one side of a range. An empty side counts as 0, so an
// open-ended range like "100-" is treated as a probe.
func rangeBound(s string) (int64, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
