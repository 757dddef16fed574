// Package classify decides whether an observed URL (and optional response
// headers) refers to a downloadable media resource.
//
// Everything here is pure: the same inputs always produce the same output and
// nothing performs I/O.
package classify

import (
	"regexp"
	"strings"

	"github.com/dgnsrekt/mediasniff/internal/types"
)

// LargeBodyThreshold is the response size above which an opaque body with a
// media-suggestive URL is treated as media.
const LargeBodyThreshold = 300 * 1024

var (
	mediaExtPattern    = regexp.MustCompile(`(?i)\.(mp4|webm|mkv|m4v|avi|mov|flv|wmv|m3u8|mpd|mp3|m4a|ogg|aac|flac|wav)(\?|#|$)`)
	staticAssetPattern = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|svg|ico|webp|css|js|woff|woff2|ttf|eot|json|xml|txt)(\?|#|$)`)
	segmentPattern     = regexp.MustCompile(`(?i)\.(ts|m4s)(\?|#|$)`)
	mediaContentType   = regexp.MustCompile(`(?i)^(video|audio)/`)
)

var mediaKeywords = []string{"video", "media", "stream", "play", "clip"}

// Input is what a matcher sees. ContentType and SizeBytes are only known once
// response headers have arrived.
type Input struct {
	URL         string
	ContentType string
	SizeBytes   int64
	Site        types.Site
}

// Matcher is a named predicate. Site, when set, tags every hit with that
// platform; otherwise the hit carries the site detected from the URL.
type Matcher struct {
	Name       string
	DetectedBy types.DetectedBy
	Site       types.Site
	Match      func(in Input) bool
}

// Match is one positive classification.
type Match struct {
	Matcher    string
	DetectedBy types.DetectedBy
	Site       types.Site
}

// RequestMatchers run before a request is sent, when only the URL is known.
var RequestMatchers = []Matcher{
	{Name: "media-extension", DetectedBy: types.DetectedByURLPattern, Match: func(in Input) bool {
		return mediaExtPattern.MatchString(in.URL)
	}},
	siteMatcher("youtube-videoplayback", types.SiteYouTube),
	siteMatcher("instagram-cdn", types.SiteInstagram),
	siteMatcher("tiktok-cdn", types.SiteTikTok),
	siteMatcher("twitter-cdn", types.SiteTwitter),
	siteMatcher("facebook-cdn", types.SiteFacebook),
}

// ResponseMatchers run once response headers are available. Only the first hit
// counts.
var ResponseMatchers = []Matcher{
	{Name: "media-content-type", DetectedBy: types.DetectedByContentType, Match: func(in Input) bool {
		return IsMediaContentType(in.ContentType)
	}},
	{Name: "large-media-body", DetectedBy: types.DetectedByLargeMedia, Match: func(in Input) bool {
		if in.SizeBytes <= LargeBodyThreshold {
			return false
		}
		return in.Site != types.SiteNone || hasMediaKeyword(in.URL)
	}},
}

func siteMatcher(name string, site types.Site) Matcher {
	return Matcher{
		Name:       name,
		DetectedBy: types.DetectedBySitePattern,
		Site:       site,
		Match: func(in Input) bool {
			return matchesSite(in.URL, site)
		},
	}
}

// ClassifyRequest returns every request matcher that accepts rawURL, in
// matcher order. Excluded static assets never match.
func ClassifyRequest(rawURL string) []Match {
	if IsExcluded(rawURL) {
		return nil
	}
	in := Input{URL: rawURL, Site: DetectSite(rawURL)}
	var matches []Match
	for _, m := range RequestMatchers {
		if !m.Match(in) {
			continue
		}
		site := m.Site
		if site == types.SiteNone {
			site = in.Site
		}
		matches = append(matches, Match{Matcher: m.Name, DetectedBy: m.DetectedBy, Site: site})
	}
	return matches
}

// ClassifyResponse evaluates the response matchers against a URL and its
// effective content type and size.
func ClassifyResponse(rawURL, contentType string, sizeBytes int64) (Match, bool) {
	if IsExcluded(rawURL) {
		return Match{}, false
	}
	in := Input{URL: rawURL, ContentType: contentType, SizeBytes: sizeBytes, Site: DetectSite(rawURL)}
	for _, m := range ResponseMatchers {
		if m.Match(in) {
			return Match{Matcher: m.Name, DetectedBy: m.DetectedBy, Site: in.Site}, true
		}
	}
	return Match{}, false
}

// IsExcluded reports whether rawURL names a static asset (image, stylesheet,
// script, font, structured data). Exclusion overrides every positive signal.
func IsExcluded(rawURL string) bool {
	return staticAssetPattern.MatchString(rawURL)
}

// IsSegment reports whether rawURL looks like a streaming chunk.
func IsSegment(rawURL string) bool {
	return segmentPattern.MatchString(rawURL)
}

// HasMediaExtension reports whether rawURL ends in a known media extension.
func HasMediaExtension(rawURL string) bool {
	return mediaExtPattern.MatchString(rawURL)
}

// IsMediaContentType reports whether a Content-Type is video/* or audio/*.
func IsMediaContentType(contentType string) bool {
	return mediaContentType.MatchString(contentType)
}

func hasMediaKeyword(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, kw := range mediaKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
