package types

import (
	"encoding/json"
	"time"
)

// Site identifies one of the supported media platforms.
type Site string

const (
	SiteNone      Site = ""
	SiteYouTube   Site = "youtube"
	SiteInstagram Site = "instagram"
	SiteFacebook  Site = "facebook"
	SiteTwitter   Site = "twitter"
	SiteTikTok    Site = "tiktok"
)

// MarshalJSON encodes an unknown site as null.
func (s Site) MarshalJSON() ([]byte, error) {
	if s == SiteNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON accepts null or a site name.
func (s *Site) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = SiteNone
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Site(raw)
	return nil
}

// DetectedBy names the signal that first qualified a resource as media.
type DetectedBy string

const (
	DetectedByURLPattern  DetectedBy = "url-pattern"
	DetectedBySitePattern DetectedBy = "site-specific-pattern"
	DetectedByContentType DetectedBy = "content-type"
	DetectedByLargeMedia  DetectedBy = "large-media-heuristic"
)

// CapturedResource is one logical media resource observed for one tab.
type CapturedResource struct {
	URL          string     `json:"url"`
	BaseKey      string     `json:"baseKey"`
	FilenameHint string     `json:"filename"`
	Extension    *string    `json:"extension"`
	DetectedBy   DetectedBy `json:"detectedBy"`
	ContentType  *string    `json:"contentType"`
	SizeBytes    int64      `json:"size"`
	IsSegment    bool       `json:"isSegment"`
	Site         Site       `json:"site"`
	Quality      string     `json:"quality"`
	IsAudioOnly  bool       `json:"isAudio"`
	FirstSeenAt  time.Time  `json:"timestamp"`
}

// Observation is a single piece of evidence submitted by event intake.
// Empty ContentType and zero SizeBytes mean "not observed".
type Observation struct {
	TabID       int
	URL         string
	DetectedBy  DetectedBy
	ContentType string
	SizeBytes   int64
	Site        Site
}
