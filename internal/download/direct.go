package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/mediasniff/internal/classify"
	"github.com/dgnsrekt/mediasniff/internal/headerrules"
)

// State of a direct download.
type State string

const (
	StatePending  State = "pending"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// Status reports a direct download's progress.
type Status struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Path       string    `json:"path,omitempty"`
	State      State     `json:"state"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// statusRetention bounds how long a finished download stays queryable.
const statusRetention = time.Hour

// Direct streams resources into a local directory, applying the header rule
// for the resource's site so CDNs serve it outside the page.
type Direct struct {
	dir    string
	client *http.Client
	rules  *headerrules.Set

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	statuses  map[string]*Status
	retention time.Duration
}

var _ Facility = (*Direct)(nil)

// NewDirect creates a Direct facility. A nil client uses http.DefaultClient;
// nil rules sends requests unmodified.
func NewDirect(dir string, client *http.Client, rules *headerrules.Set) *Direct {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Direct{
		dir:      dir,
		client:   client,
		rules:    rules,
		ctx:      ctx,
		cancel:   cancel,
		statuses:  make(map[string]*Status),
		retention: statusRetention,
	}
}

func (d *Direct) Download(_ context.Context, req Request) (string, error) {
	if _, err := classify.ParseAbsolute(req.URL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("download: create directory: %w", err)
	}

	id := newID()
	st := &Status{ID: id, URL: req.URL, State: StatePending, StartedAt: time.Now().UTC()}
	d.mu.Lock()
	d.pruneLocked(st.StartedAt)
	d.statuses[id] = st
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		path, n, err := d.fetch(req)
		d.mu.Lock()
		defer d.mu.Unlock()
		st.Path = path
		st.Bytes = n
		st.FinishedAt = time.Now().UTC()
		if err != nil {
			st.State = StateFailed
			st.Error = err.Error()
			slog.Warn("download failed", "download_id", id, "error", err)
			return
		}
		st.State = StateComplete
		slog.Info("download complete", "download_id", id, "path", path, "bytes", n)
	}()

	slog.Info("download started", "download_id", id, "filename", req.Filename, "site", string(req.Site))
	return id, nil
}

func (d *Direct) fetch(req Request) (string, int64, error) {
	httpReq, err := http.NewRequestWithContext(d.ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", 0, err
	}
	if rule, ok := d.ruleFor(req); ok {
		for k, v := range rule.Apply(nil) {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", 0, fmt.Errorf("download: status=%d", resp.StatusCode)
	}

	f, path, err := createUnique(d.dir, SanitizeFilename(req.Filename))
	if err != nil {
		return "", 0, err
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(path)
		return path, n, fmt.Errorf("download: write body: %w", copyErr)
	}
	if closeErr != nil {
		return path, n, fmt.Errorf("download: close file: %w", closeErr)
	}
	return path, n, nil
}

func (d *Direct) ruleFor(req Request) (headerrules.Rule, bool) {
	if d.rules == nil {
		return headerrules.Rule{}, false
	}
	if rule, ok := d.rules.Match(req.URL, ""); ok {
		return rule, true
	}
	if req.Site != "" {
		return d.rules.MatchSite(string(req.Site))
	}
	return headerrules.Rule{}, false
}

// Status returns a copy of a download's status.
func (d *Direct) Status(id string) (Status, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.statuses[id]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// pruneLocked forgets downloads that finished more than retention ago.
// Pending downloads are always kept.
func (d *Direct) pruneLocked(now time.Time) {
	for id, st := range d.statuses {
		if st.State != StatePending && now.Sub(st.FinishedAt) > d.retention {
			delete(d.statuses, id)
		}
	}
}

// Close cancels in-flight downloads and waits for them to stop.
func (d *Direct) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}

// SanitizeFilename strips path components and characters most filesystems
// reject. An empty result becomes video.mp4.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(strings.TrimSpace(b.String()), ".")
	if out == "" {
		return "video.mp4"
	}
	return out
}

// createUnique opens dir/name, adding " (n)" before the extension when the
// name is taken.
func createUnique(dir, name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("download: create file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("download: no free name for %s", name)
}
