package types

// TabInfo holds metadata about an attached browser tab.
type TabInfo struct {
	TargetID string
	TabID    int
	URL      string
}

// TabInfoProvider resolves CDP target IDs to numeric tab IDs.
// This breaks the import cycle between capture and cdp packages.
type TabInfoProvider interface {
	GetByStringID(targetID string) (*TabInfo, bool)
}
