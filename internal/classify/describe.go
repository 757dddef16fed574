package classify

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/dgnsrekt/mediasniff/internal/types"
)

var urlExtPattern = regexp.MustCompile(`(?i)\.(mp4|webm|mkv|m4v|avi|mov|flv|wmv|mp3|m4a|ogg|aac|flac|wav|m3u8|mpd)(\?|#|$)`)

var errNotAbsolute = errors.New("classify: url is not absolute")

// Description carries the descriptive fields derived for a new resource.
type Description struct {
	FilenameHint string
	Extension    *string
	Quality      string
	IsAudioOnly  bool
}

// Describe derives filename, extension and quality for a resource.
func Describe(rawURL, contentType string, site types.Site) Description {
	d := Description{
		FilenameHint: FilenameHint(rawURL, site),
		Extension:    Extension(rawURL, contentType),
	}
	if site == types.SiteYouTube {
		d.Quality, d.IsAudioOnly = YouTubeQuality(rawURL)
	}
	return d
}

// ParseAbsolute parses rawURL and requires a scheme and host.
func ParseAbsolute(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errNotAbsolute
	}
	return u, nil
}

// FilenameHint derives a human filename for the resource.
func FilenameHint(rawURL string, site types.Site) string {
	u, err := ParseAbsolute(rawURL)
	if err != nil {
		return truncate(rawURL, 60)
	}

	switch site {
	case types.SiteYouTube:
		q := u.Query()
		if strings.Contains(q.Get("mime"), "audio") {
			return "youtube_audio_" + q.Get("itag")
		}
		return "youtube_video_" + q.Get("itag")
	case types.SiteInstagram:
		last := lastPathSegment(u.EscapedPath())
		if last == "" {
			last = "video"
		}
		return "instagram_" + last
	case types.SiteTikTok, types.SiteTwitter, types.SiteFacebook:
		return string(site) + "_video"
	}

	last := lastPathSegment(u.EscapedPath())
	decoded, err := url.PathUnescape(last)
	if err != nil {
		return truncate(rawURL, 60)
	}
	if decoded == "" {
		return u.Hostname()
	}
	return decoded
}

// Extension prefers the Content-Type derived extension and falls back to the
// URL. Nil means unknown.
func Extension(rawURL, contentType string) *string {
	if ext := extensionFromContentType(contentType); ext != "" {
		return &ext
	}
	if m := urlExtPattern.FindStringSubmatch(rawURL); m != nil {
		ext := strings.ToLower(m[1])
		return &ext
	}
	return nil
}

func extensionFromContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case ct == "":
		return ""
	case strings.Contains(ct, "audio") && strings.Contains(ct, "mp4"):
		return "m4a"
	case strings.Contains(ct, "mp4"), strings.Contains(ct, "m4v"):
		return "mp4"
	case strings.Contains(ct, "webm"):
		return "webm"
	case strings.Contains(ct, "audio") && strings.Contains(ct, "mpeg"):
		return "mp3"
	case strings.Contains(ct, "ogg"):
		return "ogg"
	}
	return ""
}

// YouTubeQuality maps the itag of a videoplayback URL to a quality label.
// Unknown itags fall back to the quality parameter, then to "audio" or "video".
func YouTubeQuality(rawURL string) (string, bool) {
	u, err := ParseAbsolute(rawURL)
	if err != nil {
		return "", false
	}
	q := u.Query()
	isAudio := strings.Contains(q.Get("mime"), "audio")
	if label, ok := youtubeItagLabels[q.Get("itag")]; ok {
		return label, isAudio
	}
	if quality := q.Get("quality"); quality != "" {
		return quality, isAudio
	}
	if isAudio {
		return "audio", true
	}
	return "video", false
}

func lastPathSegment(path string) string {
	parts := strings.Split(path, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
