// Package headerrules holds the Referer/Origin rewrite rules applied to media
// CDN requests so they are served outside their embedding page.
package headerrules

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"gopkg.in/yaml.v3"
)

// Rule sets Referer and Origin on requests to any of Domains (or their
// subdomains) whose resource type is listed.
type Rule struct {
	ID            int                    `yaml:"id" json:"id"`
	Site          string                 `yaml:"site" json:"site"`
	Domains       []string               `yaml:"domains" json:"domains"`
	Referer       string                 `yaml:"referer" json:"referer"`
	Origin        string                 `yaml:"origin" json:"origin"`
	ResourceTypes []network.ResourceType `yaml:"resource_types" json:"resourceTypes"`
}

var defaultResourceTypes = []network.ResourceType{
	network.ResourceTypeXHR,
	network.ResourceTypeMedia,
	network.ResourceTypeOther,
}

// Defaults returns the built-in rule set.
func Defaults() []Rule {
	return []Rule{
		siteRule(1001, "youtube", "https://www.youtube.com", "googlevideo.com"),
		siteRule(1002, "instagram", "https://www.instagram.com", "cdninstagram.com", "fbcdn.net"),
		siteRule(1003, "tiktok", "https://www.tiktok.com", "tiktokcdn.com", "byteoversea.com"),
		siteRule(1004, "twitter", "https://twitter.com", "twimg.com"),
	}
}

func siteRule(id int, site, origin string, domains ...string) Rule {
	return Rule{
		ID:            id,
		Site:          site,
		Domains:       domains,
		Referer:       origin + "/",
		Origin:        origin,
		ResourceTypes: append([]network.ResourceType(nil), defaultResourceTypes...),
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFile reads a YAML rule file. Its rules replace the defaults entirely.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("header rules: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("header rules: %w", err)
	}
	if err := Validate(f.Rules); err != nil {
		return nil, err
	}
	for i := range f.Rules {
		if len(f.Rules[i].ResourceTypes) == 0 {
			f.Rules[i].ResourceTypes = append([]network.ResourceType(nil), defaultResourceTypes...)
		}
	}
	return f.Rules, nil
}

// Validate checks ids are unique and every rule has a domain and a header.
func Validate(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("header rules: at least one rule is required")
	}
	seen := make(map[int]bool, len(rules))
	for i, r := range rules {
		if r.ID <= 0 {
			return fmt.Errorf("header rules: rules[%d] missing id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("header rules: duplicate id %d", r.ID)
		}
		seen[r.ID] = true
		if len(r.Domains) == 0 {
			return fmt.Errorf("header rules: rule %d has no domains", r.ID)
		}
		if r.Referer == "" && r.Origin == "" {
			return fmt.Errorf("header rules: rule %d sets no headers", r.ID)
		}
	}
	return nil
}

// Set is an installed rule list. Later installs replace earlier ones.
type Set struct {
	rules []Rule
}

func NewSet(rules []Rule) *Set {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Set{rules: sorted}
}

// Rules returns a copy of the installed rules in id order.
func (s *Set) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Match returns the first rule covering rawURL and resource type rt. An empty
// rt matches any listed type.
func (s *Set) Match(rawURL string, rt network.ResourceType) (Rule, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return Rule{}, false
	}
	host := strings.ToLower(u.Hostname())
	for _, r := range s.rules {
		if !r.coversHost(host) {
			continue
		}
		if rt == "" || r.coversType(rt) {
			return r, true
		}
	}
	return Rule{}, false
}

// MatchSite returns the rule for a site name such as "youtube".
func (s *Set) MatchSite(site string) (Rule, bool) {
	for _, r := range s.rules {
		if strings.EqualFold(r.Site, site) {
			return r, true
		}
	}
	return Rule{}, false
}

func (r Rule) coversHost(host string) bool {
	for _, d := range r.Domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (r Rule) coversType(rt network.ResourceType) bool {
	for _, t := range r.ResourceTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// Apply returns headers with the rule's Referer and Origin set, replacing any
// existing values regardless of case.
func (r Rule) Apply(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		if (r.Referer != "" && strings.EqualFold(k, "Referer")) || (r.Origin != "" && strings.EqualFold(k, "Origin")) {
			continue
		}
		out[k] = v
	}
	if r.Referer != "" {
		out["Referer"] = r.Referer
	}
	if r.Origin != "" {
		out["Origin"] = r.Origin
	}
	return out
}

// Patterns returns the Fetch interception patterns covering every rule at the
// request stage.
func (s *Set) Patterns() []*fetch.RequestPattern {
	var patterns []*fetch.RequestPattern
	for _, r := range s.rules {
		for _, d := range r.Domains {
			for _, rt := range r.ResourceTypes {
				patterns = append(patterns, &fetch.RequestPattern{
					URLPattern:   "*://*" + d + "/*",
					ResourceType: rt,
					RequestStage: fetch.RequestStageRequest,
				})
			}
		}
	}
	return patterns
}

// HeaderEntries rewrites a paused request's headers. ok is false when no rule
// applies and the request should continue unchanged.
func (s *Set) HeaderEntries(rawURL string, rt network.ResourceType, headers network.Headers) ([]*fetch.HeaderEntry, bool) {
	rule, ok := s.Match(rawURL, rt)
	if !ok {
		return nil, false
	}
	plain := make(map[string]string, len(headers))
	for k, v := range headers {
		if str, isStr := v.(string); isStr {
			plain[k] = str
		}
	}
	applied := rule.Apply(plain)

	names := make([]string, 0, len(applied))
	for k := range applied {
		names = append(names, k)
	}
	sort.Strings(names)

	entries := make([]*fetch.HeaderEntry, 0, len(names))
	for _, k := range names {
		entries = append(entries, &fetch.HeaderEntry{Name: k, Value: applied[k]})
	}
	return entries, true
}
