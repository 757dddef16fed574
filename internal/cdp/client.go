// Package cdp holds the browser session: one chromedp connection, a
// registry of attached page targets and the lifecycle events that bound each
// tab's capture session.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/mediasniff/internal/capture"
	"github.com/dgnsrekt/mediasniff/internal/headerrules"
)

// SessionClearer drops a tab's capture session.
type SessionClearer interface {
	Clear(tabID int)
}

// Options configures a Client.
type Options struct {
	CDPURL       string
	TabURLFilter string
}

// Client manages CDP connections to browser tabs.
type Client struct {
	opts        Options
	httpCapture *capture.HTTPCapture
	sessions    SessionClearer
	rules       *headerrules.Set
	tabRegistry *TabRegistry

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	ownTarget     target.ID

	tabs   map[target.ID]*TabContext
	tabsMu sync.RWMutex
	wg     sync.WaitGroup
}

type TabContext struct {
	ID     target.ID
	TabID  int
	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(opts Options, httpCapture *capture.HTTPCapture, sessions SessionClearer, rules *headerrules.Set, tabRegistry *TabRegistry) *Client {
	return &Client{
		opts:        opts,
		httpCapture: httpCapture,
		sessions:    sessions,
		rules:       rules,
		tabRegistry: tabRegistry,
		tabs:        make(map[target.ID]*TabContext),
	}
}

// Connect attaches to every existing page target and follows targets created
// and destroyed afterwards.
func (c *Client) Connect(ctx context.Context) error {
	_ = ctx
	slog.Info("connecting to chromium", "url", c.opts.CDPURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.opts.CDPURL)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)

	if err := chromedp.Run(c.browserCtx); err != nil {
		c.allocCancel()
		return fmt.Errorf("cdp: connect to browser: %w", err)
	}

	browserCDP := chromedp.FromContext(c.browserCtx)
	if browserCDP.Target != nil {
		c.ownTarget = browserCDP.Target.TargetID
	}
	chromedp.ListenBrowser(c.browserCtx, c.onBrowserEvent)
	browser := browserCDP.Browser
	if err := target.SetDiscoverTargets(true).Do(cdproto.WithExecutor(c.browserCtx, browser)); err != nil {
		slog.Warn("target discovery unavailable, only existing tabs are followed", "error", err)
	}

	targets, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		c.allocCancel()
		return fmt.Errorf("cdp: enumerate targets: %w", err)
	}
	slog.Info("found browser targets", "count", len(targets))

	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if err := c.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
		}
	}

	slog.Info("attached to tabs", "count", c.GetTabCount(), "tab_url_filter", c.opts.TabURLFilter)
	return nil
}

func (c *Client) onBrowserEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo == nil || e.TargetInfo.Type != "page" {
			return
		}
		c.attachAsync(e.TargetInfo)
	case *target.EventTargetInfoChanged:
		// A tab opened blank may only match the URL filter after navigating.
		if e.TargetInfo == nil || e.TargetInfo.Type != "page" {
			return
		}
		c.tabsMu.RLock()
		_, attached := c.tabs[e.TargetInfo.TargetID]
		c.tabsMu.RUnlock()
		if !attached {
			c.attachAsync(e.TargetInfo)
		}
	case *target.EventTargetDestroyed:
		c.detachTab(e.TargetID)
	}
}

// attachAsync attaches off the event goroutine, since attaching issues CDP
// commands whose replies arrive on it.
func (c *Client) attachAsync(info *target.Info) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.attachToTab(info.TargetID, info.URL); err != nil {
			slog.Debug("failed to attach to tab", "target_id", info.TargetID, "error", err)
		}
	}()
}

func (c *Client) attachToTab(targetID target.ID, url string) error {
	if targetID == c.ownTarget {
		return nil
	}
	if !c.matchesTabURL(url) {
		slog.Debug("skipping tab (url filter)", "url", truncateURL(url))
		return nil
	}

	c.tabsMu.Lock()
	if _, ok := c.tabs[targetID]; ok {
		c.tabsMu.Unlock()
		return nil
	}
	info := c.tabRegistry.Register(targetID, url)
	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(targetID))
	tab := &TabContext{ID: targetID, TabID: info.TabID, ctx: tabCtx, cancel: tabCancel}
	c.tabs[targetID] = tab
	c.tabsMu.Unlock()

	actions := []chromedp.Action{network.Enable(), page.Enable()}
	if c.rules != nil {
		actions = append(actions, fetch.Enable().WithPatterns(c.rules.Patterns()))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		c.forget(targetID)
		tabCancel()
		return fmt.Errorf("cdp: enable network/page/fetch domains: %w", err)
	}

	slog.Info("tab attached", "target_id", targetID, "tab_id", info.TabID, "url", truncateURL(url))
	chromedp.ListenTarget(tabCtx, c.createEventHandler(tab))
	return nil
}

func (c *Client) forget(targetID target.ID) (*TabContext, bool) {
	c.tabsMu.Lock()
	tab, ok := c.tabs[targetID]
	delete(c.tabs, targetID)
	c.tabsMu.Unlock()
	c.tabRegistry.Remove(targetID)
	return tab, ok
}

// detachTab ends a closed tab's session.
func (c *Client) detachTab(targetID target.ID) {
	tab, ok := c.forget(targetID)
	if !ok {
		return
	}
	tab.cancel()
	c.sessions.Clear(tab.TabID)
	slog.Info("tab closed", "target_id", targetID, "tab_id", tab.TabID)
}

func (c *Client) createEventHandler(tab *TabContext) func(ev interface{}) {
	targetID := string(tab.ID)
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				c.tabRegistry.Register(tab.ID, e.Frame.URL)
				c.sessions.Clear(tab.TabID)
				slog.Info("tab navigated (full)", "tab_id", tab.TabID, "url", truncateURL(e.Frame.URL))
			}
		case *page.EventNavigatedWithinDocument:
			c.tabRegistry.Register(tab.ID, e.URL)
			slog.Debug("tab navigated (same document)", "tab_id", tab.TabID, "url", truncateURL(e.URL))
		case *network.EventRequestWillBeSent:
			c.httpCapture.OnRequestWillBeSent(targetID, e)
		case *network.EventResponseReceived:
			c.httpCapture.OnResponseReceived(targetID, e)
		case *fetch.EventRequestPaused:
			go c.continuePaused(tab, e)
		}
	}
}

// continuePaused resumes an intercepted request, rewriting Referer/Origin
// when a rule covers it. Every paused request must be continued.
func (c *Client) continuePaused(tab *TabContext, ev *fetch.EventRequestPaused) {
	cont := fetch.ContinueRequest(ev.RequestID)
	if ev.Request != nil && c.rules != nil {
		if headers, ok := c.rules.HeaderEntries(ev.Request.URL, ev.ResourceType, ev.Request.Headers); ok {
			cont = cont.WithHeaders(headers)
		}
	}
	if err := chromedp.Run(tab.ctx, cont); err != nil {
		slog.Debug("failed to continue paused request", "tab_id", tab.TabID, "error", err)
	}
}

func (c *Client) Close() error {
	c.tabsMu.Lock()
	c.tabs = make(map[target.ID]*TabContext)
	c.tabsMu.Unlock()

	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.wg.Wait()

	slog.Info("cdp client closed")
	return nil
}

func (c *Client) GetTabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

func (c *Client) matchesTabURL(url string) bool {
	if c.opts.TabURLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(c.opts.TabURLFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
