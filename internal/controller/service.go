// Package controller answers consumer queries and commands against the
// capture store.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/dgnsrekt/mediasniff/internal/download"
	"github.com/dgnsrekt/mediasniff/internal/mediastore"
	"github.com/dgnsrekt/mediasniff/internal/types"
)

// DefaultFilename is used when a download names no file.
const DefaultFilename = "video.mp4"

// youtubeVolatileParams make a googlevideo URL address a single chunk.
var youtubeVolatileParams = []string{"range", "rn", "rbuf"}

// SessionLoader reads a tab's durable snapshot.
type SessionLoader interface {
	Load(ctx context.Context, tabID int) ([]types.CapturedResource, error)
}

// TabSummary describes one tab with captured media.
type TabSummary struct {
	TabID int `json:"tab_id"`
	Count int `json:"count"`
}

// Service wraps the capture store and the download facility.
type Service struct {
	store     *mediastore.Store
	loader    SessionLoader
	downloads download.Facility
}

// NewService builds a Service. loader and downloads may be nil; lazy restore
// and downloads are then unavailable.
func NewService(store *mediastore.Store, loader SessionLoader, downloads download.Facility) *Service {
	return &Service{store: store, loader: loader, downloads: downloads}
}

// GetCapturedMedia returns the tab's ranked records. When memory holds
// nothing for the tab, its durable snapshot is restored first; a failed
// restore yields an empty list.
func (s *Service) GetCapturedMedia(ctx context.Context, tabID int) ([]types.CapturedResource, error) {
	if tabID < 0 {
		return nil, newError(CodeValidation, "tab_id must be non-negative", nil)
	}
	if !s.store.HasSession(tabID) && s.loader != nil {
		records, err := s.loader.Load(ctx, tabID)
		if err != nil {
			slog.Warn("lazy restore failed", "tab_id", tabID, "error", err)
			return []types.CapturedResource{}, nil
		}
		s.store.RestoreIfAbsent(tabID, records)
	}
	ranked := s.store.RankedSnapshot(tabID)
	if ranked == nil {
		ranked = []types.CapturedResource{}
	}
	return ranked, nil
}

// ClearCapturedMedia drops the tab's records in memory and storage.
func (s *Service) ClearCapturedMedia(_ context.Context, tabID int) error {
	if tabID < 0 {
		return newError(CodeValidation, "tab_id must be non-negative", nil)
	}
	s.store.Clear(tabID)
	return nil
}

// DownloadMedia hands a URL to the download facility and returns its handle.
func (s *Service) DownloadMedia(ctx context.Context, req download.Request) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", newError(CodeValidation, "url is required", nil)
	}
	if s.downloads == nil {
		return "", newError(CodeDownloadFailed, "no download facility configured", nil)
	}
	if req.Site == types.SiteYouTube {
		req.URL = CleanYouTubeURL(req.URL)
	}
	if req.Filename == "" {
		req.Filename = DefaultFilename
	}

	id, err := s.downloads.Download(ctx, req)
	if err != nil {
		if errors.Is(err, download.ErrInvalidURL) {
			return "", newError(CodeValidation, "url is not a valid absolute url", err)
		}
		return "", newError(CodeDownloadFailed, "download could not be started", err)
	}
	return id, nil
}

// ListTabs reports every tab holding records in memory.
func (s *Service) ListTabs() []TabSummary {
	ids := s.store.TabIDs()
	out := make([]TabSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, TabSummary{TabID: id, Count: len(s.store.Records(id))})
	}
	return out
}

// CleanYouTubeURL strips the chunk-selecting parameters so the URL names the
// whole stream. Unparseable input is returned unchanged.
func CleanYouTubeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	q := u.Query()
	for _, p := range youtubeVolatileParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
