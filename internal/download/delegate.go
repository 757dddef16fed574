package download

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultDelegateURL is where the media-extraction server listens.
const DefaultDelegateURL = "http://127.0.0.1:9876"

// Delegate forwards downloads to the local media-extraction server, which
// runs the actual extraction out of process.
type Delegate struct {
	baseURL string
	client  *http.Client
}

var _ Facility = (*Delegate)(nil)

func NewDelegate(baseURL string, client *http.Client) *Delegate {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultDelegateURL
	}
	return &Delegate{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// DelegateStatus is the server's /status document.
type DelegateStatus struct {
	Running     bool   `json:"running"`
	YtDlp       bool   `json:"ytdlp"`
	YtDlpPath   string `json:"ytdlp_path"`
	DownloadDir string `json:"download_dir"`
}

type delegateDownload struct {
	URL           string `json:"url"`
	Quality       string `json:"quality"`
	Site          string `json:"site"`
	Title         string `json:"title"`
	Playlist      bool   `json:"playlist"`
	PlaylistItems string `json:"playlist_items"`
}

type delegateReply struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	DownloadDir string `json:"download_dir"`
	Playlist    bool   `json:"playlist"`
	Error       string `json:"error"`
}

// PlaylistVideo is one entry of a playlist listing.
type PlaylistVideo struct {
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Duration *float64 `json:"duration"`
	ID       string   `json:"id"`
}

// PlaylistInfo is the server's /playlist-info reply.
type PlaylistInfo struct {
	Success       bool            `json:"success"`
	PlaylistTitle string          `json:"playlist_title"`
	Count         int             `json:"count"`
	Videos        []PlaylistVideo `json:"videos"`
	Error         string          `json:"error,omitempty"`
}

// Ping reports whether the server answers /ping.
func (d *Delegate) Ping(ctx context.Context) bool {
	var out struct {
		Pong bool `json:"pong"`
	}
	if err := d.do(ctx, http.MethodGet, "/ping", nil, &out); err != nil {
		slog.Debug("delegate ping failed", "error", err)
		return false
	}
	return out.Pong
}

// Status fetches the server's /status document.
func (d *Delegate) Status(ctx context.Context) (DelegateStatus, error) {
	var st DelegateStatus
	if err := d.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return DelegateStatus{}, err
	}
	return st, nil
}

// Download asks the server to fetch req. The server does not issue
// identifiers, so the handle is generated locally.
func (d *Delegate) Download(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	title := req.Title
	if title == "" {
		title = req.Filename
	}
	body := delegateDownload{
		URL:     req.URL,
		Quality: delegateQuality(req.Quality),
		Site:    string(req.Site),
		Title:   title,
	}
	var reply delegateReply
	if err := d.do(ctx, http.MethodPost, "/download", body, &reply); err != nil {
		return "", err
	}
	if !reply.Success {
		return "", fmt.Errorf("delegate: download rejected: %s", reply.Error)
	}
	id := newID()
	slog.Info("delegate download started", "download_id", id, "download_dir", reply.DownloadDir, "message", reply.Message)
	return id, nil
}

// PlaylistInfo lists a playlist's entries without downloading them.
func (d *Delegate) PlaylistInfo(ctx context.Context, url string) (PlaylistInfo, error) {
	var info PlaylistInfo
	if err := d.do(ctx, http.MethodPost, "/playlist-info", delegateDownload{URL: url}, &info); err != nil {
		return PlaylistInfo{}, err
	}
	return info, nil
}

func (d *Delegate) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("delegate: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("delegate: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("delegate: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("delegate: %s %s failed: status=%d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("delegate: %s %s failed: status=%d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("delegate: decode response: %w", err)
	}
	return nil
}

// delegateQuality maps a record quality label onto the server's selectors:
// best, 720, 480, 360 or audio.
func delegateQuality(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	switch {
	case q == "":
		return "best"
	case strings.Contains(q, "audio"):
		return "audio"
	}
	q = strings.TrimSuffix(q, "p")
	switch q {
	case "720", "480", "360", "best":
		return q
	}
	return "best"
}
