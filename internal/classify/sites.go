package classify

import (
	"regexp"

	"github.com/dgnsrekt/mediasniff/internal/types"
)

var (
	youtubePattern        = regexp.MustCompile(`(?i)googlevideo\.com/videoplayback`)
	instagramVideoPattern = regexp.MustCompile(`(?i)(cdninstagram\.com|fbcdn\.net|instagram\.com).*\.(mp4|m4v)`)
	instagramMediaPattern = regexp.MustCompile(`(?i)(cdninstagram\.com|fbcdn\.net).*video`)
	facebookPattern       = regexp.MustCompile(`(?i)(fbcdn\.net|fbvideo|facebook\.com).*video`)
	twitterPattern        = regexp.MustCompile(`(?i)(twimg\.com|video\.twimg).*\.(mp4|m3u8)`)
	tiktokPattern         = regexp.MustCompile(`(?i)(tiktokcdn\.com|musical\.ly|byteoversea|tiktok).*video`)
)

// siteSignature is a host+path signature for one platform's media CDN.
type siteSignature struct {
	site  types.Site
	match func(rawURL string) bool
}

// siteSignatures is evaluated in order; the first hit names the site.
var siteSignatures = []siteSignature{
	{site: types.SiteYouTube, match: youtubePattern.MatchString},
	{site: types.SiteInstagram, match: func(u string) bool {
		return instagramVideoPattern.MatchString(u) || instagramMediaPattern.MatchString(u)
	}},
	{site: types.SiteFacebook, match: facebookPattern.MatchString},
	{site: types.SiteTwitter, match: twitterPattern.MatchString},
	{site: types.SiteTikTok, match: tiktokPattern.MatchString},
}

// DetectSite returns the platform whose CDN signature matches rawURL.
func DetectSite(rawURL string) types.Site {
	for _, sig := range siteSignatures {
		if sig.match(rawURL) {
			return sig.site
		}
	}
	return types.SiteNone
}

func matchesSite(rawURL string, site types.Site) bool {
	for _, sig := range siteSignatures {
		if sig.site == site {
			return sig.match(rawURL)
		}
	}
	return false
}

// youtubeItagLabels maps stream format identifiers to human quality labels.
var youtubeItagLabels = map[string]string{
	"18": "360p", "22": "720p", "37": "1080p", "38": "4K",
	"133": "240p", "134": "360p", "135": "480p", "136": "720p",
	"137": "1080p", "138": "4K", "160": "144p",
	"242": "240p", "243": "360p", "244": "480p", "247": "720p",
	"248": "1080p", "271": "1440p", "313": "2160p",
	"298": "720p60", "299": "1080p60", "302": "720p60", "303": "1080p60",
	"139": "audio 48k", "140": "audio 128k", "141": "audio 256k",
	"171": "audio 128k", "172": "audio 256k",
	"249": "audio 50k", "250": "audio 70k", "251": "audio 160k",
}
