package headerrules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/network"
)

func TestDefaults(t *testing.T) {
	rules := Defaults()
	if err := Validate(rules); err != nil {
		t.Fatalf("Validate(Defaults()) = %v; want nil", err)
	}
	wantIDs := []int{1001, 1002, 1003, 1004}
	for i, r := range rules {
		if r.ID != wantIDs[i] {
			t.Fatalf("rules[%d].ID = %d; want %d", i, r.ID, wantIDs[i])
		}
		if r.Referer != r.Origin+"/" {
			t.Fatalf("rule %d Referer = %q; want Origin plus trailing slash", r.ID, r.Referer)
		}
		if strings.HasSuffix(r.Origin, "/") {
			t.Fatalf("rule %d Origin = %q; want no trailing slash", r.ID, r.Origin)
		}
	}
}

func TestMatch(t *testing.T) {
	set := NewSet(Defaults())
	tests := []struct {
		url      string
		rt       network.ResourceType
		wantID   int
		wantSite string
	}{
		{url: "https://rr3---sn-abc.googlevideo.com/videoplayback?itag=22", rt: network.ResourceTypeMedia, wantID: 1001, wantSite: "youtube"},
		{url: "https://scontent.cdninstagram.com/v/t50/clip.mp4", rt: network.ResourceTypeXHR, wantID: 1002, wantSite: "instagram"},
		{url: "https://video.xx.fbcdn.net/v/a.mp4", rt: network.ResourceTypeOther, wantID: 1002, wantSite: "instagram"},
		{url: "https://v16.tiktokcdn.com/video/tos/a.mp4", rt: network.ResourceTypeMedia, wantID: 1003, wantSite: "tiktok"},
		{url: "https://video.twimg.com/ext_tw_video/a.mp4", rt: network.ResourceTypeMedia, wantID: 1004, wantSite: "twitter"},
		{url: "https://video.twimg.com/ext_tw_video/a.mp4", rt: "", wantID: 1004, wantSite: "twitter"},
	}
	for _, tt := range tests {
		r, ok := set.Match(tt.url, tt.rt)
		if !ok {
			t.Fatalf("Match(%q, %q) found no rule", tt.url, tt.rt)
		}
		if r.ID != tt.wantID || r.Site != tt.wantSite {
			t.Fatalf("Match(%q) = %d/%s; want %d/%s", tt.url, r.ID, r.Site, tt.wantID, tt.wantSite)
		}
	}
}

func TestMatchMisses(t *testing.T) {
	set := NewSet(Defaults())
	cases := []struct {
		url string
		rt  network.ResourceType
	}{
		{url: "https://rr3.googlevideo.com/videoplayback", rt: network.ResourceTypeDocument},
		{url: "https://notgooglevideo.com/videoplayback", rt: network.ResourceTypeMedia},
		{url: "https://example.com/a.mp4", rt: network.ResourceTypeMedia},
		{url: "not a url", rt: network.ResourceTypeMedia},
	}
	for _, c := range cases {
		if r, ok := set.Match(c.url, c.rt); ok {
			t.Fatalf("Match(%q, %q) = rule %d; want none", c.url, c.rt, r.ID)
		}
	}
}

func TestApplyReplacesCaseInsensitively(t *testing.T) {
	r, _ := NewSet(Defaults()).MatchSite("youtube")
	got := r.Apply(map[string]string{"referer": "https://evil.example/", "Accept": "*/*"})
	if got["Referer"] != "https://www.youtube.com/" || got["Origin"] != "https://www.youtube.com" {
		t.Fatalf("Apply() = %v", got)
	}
	if _, ok := got["referer"]; ok {
		t.Fatalf("Apply() kept the lower-case referer: %v", got)
	}
	if got["Accept"] != "*/*" {
		t.Fatalf("Apply() dropped unrelated header: %v", got)
	}
}

func TestHeaderEntries(t *testing.T) {
	set := NewSet(Defaults())
	entries, ok := set.HeaderEntries("https://video.twimg.com/a.mp4", network.ResourceTypeMedia, network.Headers{"Range": "bytes=0-"})
	if !ok {
		t.Fatalf("HeaderEntries() found no rule")
	}
	got := map[string]string{}
	for _, e := range entries {
		got[e.Name] = e.Value
	}
	if got["Origin"] != "https://twitter.com" || got["Referer"] != "https://twitter.com/" || got["Range"] != "bytes=0-" {
		t.Fatalf("HeaderEntries() = %v", got)
	}

	if _, ok := set.HeaderEntries("https://example.com/a.mp4", network.ResourceTypeMedia, nil); ok {
		t.Fatalf("HeaderEntries() matched an uncovered host")
	}
}

func TestPatternsCoverEveryDomainAndType(t *testing.T) {
	patterns := NewSet(Defaults()).Patterns()
	// 6 domains x 3 resource types
	if len(patterns) != 18 {
		t.Fatalf("len(Patterns()) = %d; want 18", len(patterns))
	}
}

func TestLoadFileReplacesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := `rules:
  - id: 2001
    site: vimeo
    domains: [vimeocdn.com]
    referer: https://vimeo.com/
    origin: https://vimeo.com
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}

	rules, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(rules) != 1 || rules[0].ID != 2001 {
		t.Fatalf("LoadFile() = %+v; want one rule 2001", rules)
	}
	if len(rules[0].ResourceTypes) != 3 {
		t.Fatalf("ResourceTypes = %v; want defaults filled", rules[0].ResourceTypes)
	}
	if _, ok := NewSet(rules).Match("https://f.vimeocdn.com/a.mp4", network.ResourceTypeXHR); !ok {
		t.Fatalf("loaded rule does not match its domain")
	}
}

func TestLoadFileValidation(t *testing.T) {
	cases := map[string]string{
		"empty":     "rules: []\n",
		"no_id":     "rules:\n  - domains: [a.com]\n    referer: https://a.com/\n",
		"duplicate": "rules:\n  - {id: 1, domains: [a.com], origin: https://a.com}\n  - {id: 1, domains: [b.com], origin: https://b.com}\n",
		"no_domain": "rules:\n  - {id: 1, origin: https://a.com}\n",
		"no_header": "rules:\n  - {id: 1, domains: [a.com]}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rules.yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("os.WriteFile() failed: %v", err)
			}
			if _, err := LoadFile(path); err == nil {
				t.Fatalf("LoadFile() = nil error; want validation failure")
			}
		})
	}
}
