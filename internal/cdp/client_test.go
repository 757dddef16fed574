package cdp

import (
	"context"
	"testing"

	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/mediasniff/internal/capture"
	"github.com/dgnsrekt/mediasniff/internal/mediastore"
	"github.com/dgnsrekt/mediasniff/internal/types"
)

func newTestClient(t *testing.T) (*Client, *mediastore.Store, *TabContext) {
	t.Helper()
	store := mediastore.NewStore(nil)
	registry := NewTabRegistry()
	httpCapture := capture.NewHTTPCapture(capture.NewIntake(store), registry)
	c := NewClient(Options{}, httpCapture, store, nil, registry)

	info := registry.Register("ABCDEF0123456789", "https://example.com/watch")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	tab := &TabContext{ID: "ABCDEF0123456789", TabID: info.TabID, ctx: ctx, cancel: cancel}
	c.tabs[tab.ID] = tab
	return c, store, tab
}

func request(url string) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{Request: &network.Request{URL: url}}
}

func TestTopFrameNavigationClearsSession(t *testing.T) {
	c, store, tab := newTestClient(t)
	handler := c.createEventHandler(tab)

	handler(request("https://cdn.example.com/a.mp4"))
	if !store.HasSession(tab.TabID) {
		t.Fatalf("request did not create a session")
	}

	handler(&page.EventNavigatedWithinDocument{URL: "https://example.com/watch#t=10"})
	if !store.HasSession(tab.TabID) {
		t.Fatalf("same-document navigation cleared the session")
	}

	handler(&page.EventFrameNavigated{Frame: &cdproto.Frame{ID: "child", ParentID: "main", URL: "https://ads.example.com/"}})
	if !store.HasSession(tab.TabID) {
		t.Fatalf("child frame navigation cleared the session")
	}

	handler(&page.EventFrameNavigated{Frame: &cdproto.Frame{ID: "main", URL: "https://example.com/next"}})
	if store.HasSession(tab.TabID) {
		t.Fatalf("top-level navigation kept the session")
	}

	info, ok := c.tabRegistry.Get(tab.ID)
	if !ok || info.URL != "https://example.com/next" {
		t.Fatalf("registry URL = %+v; want updated to the new document", info)
	}
}

func TestTargetDestroyedClearsSession(t *testing.T) {
	c, store, tab := newTestClient(t)
	c.createEventHandler(tab)(request("https://cdn.example.com/a.webm"))

	c.onBrowserEvent(&target.EventTargetDestroyed{TargetID: tab.ID})

	if store.HasSession(tab.TabID) {
		t.Fatalf("closed tab kept its session")
	}
	if c.GetTabCount() != 0 {
		t.Fatalf("GetTabCount() = %d; want 0", c.GetTabCount())
	}
	if _, ok := c.tabRegistry.Get(tab.ID); ok {
		t.Fatalf("registry still holds the closed tab")
	}
}

func TestTargetDestroyedUnknownTarget(t *testing.T) {
	c, store, tab := newTestClient(t)
	c.createEventHandler(tab)(request("https://cdn.example.com/a.webm"))

	c.onBrowserEvent(&target.EventTargetDestroyed{TargetID: "OTHER"})

	if !store.HasSession(tab.TabID) {
		t.Fatalf("unrelated target close cleared the session")
	}
}

func TestMatchesTabURL(t *testing.T) {
	c := NewClient(Options{TabURLFilter: "YouTube.com"}, nil, nil, nil, NewTabRegistry())
	if !c.matchesTabURL("https://www.youtube.com/watch?v=1") {
		t.Fatalf("matchesTabURL() = false; want case-insensitive match")
	}
	if c.matchesTabURL("https://vimeo.com/1") {
		t.Fatalf("matchesTabURL() = true; want false")
	}

	all := NewClient(Options{}, nil, nil, nil, NewTabRegistry())
	if !all.matchesTabURL("about:blank") {
		t.Fatalf("empty filter should match every tab")
	}
}

var _ SessionClearer = (*mediastore.Store)(nil)
var _ types.TabInfoProvider = (*TabRegistry)(nil)
