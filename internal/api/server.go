package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/mediasniff/internal/controller"
	"github.com/dgnsrekt/mediasniff/internal/download"
	"github.com/dgnsrekt/mediasniff/internal/relay"
	"github.com/dgnsrekt/mediasniff/internal/types"
)

type Service interface {
	GetCapturedMedia(ctx context.Context, tabID int) ([]types.CapturedResource, error)
	ClearCapturedMedia(ctx context.Context, tabID int) error
	DownloadMedia(ctx context.Context, req download.Request) (string, error)
	ListTabs() []controller.TabSummary
	Dispatch(ctx context.Context, msg controller.Message) controller.Response
	DispatchRaw(ctx context.Context, data []byte) controller.Response
}

// TabLister reports the browser tabs currently attached.
type TabLister interface {
	List() []types.TabInfo
}

// DelegateProber reaches the media-extraction server.
type DelegateProber interface {
	Ping(ctx context.Context) bool
	Status(ctx context.Context) (download.DelegateStatus, error)
	PlaylistInfo(ctx context.Context, url string) (download.PlaylistInfo, error)
}

// DownloadTracker reports downloads started by a local facility.
type DownloadTracker interface {
	Status(id string) (download.Status, bool)
}

// Options wires the optional surfaces. Nil fields disable them.
type Options struct {
	Broker    *relay.Broker
	Tabs      TabLister
	Delegate  DelegateProber
	Downloads DownloadTracker
}

type tabIDInput struct {
	TabID int `path:"tab_id" minimum:"0" doc:"Numeric tab id"`
}

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("mediasniff API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Post("/api/v1/messages", messageHandler(svc))
	router.Get("/ws", commandSocketHandler(svc))
	if opts.Broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(opts.Broker))
	}

	registerMediaHandlers(api, svc, opts.Tabs)
	registerDownloadStatusHandler(api, opts.Downloads)
	registerMiscHandlers(api, opts.Delegate)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *controller.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case controller.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case controller.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case controller.CodeDownloadFailed:
			msg := coded.Message
			if coded.Cause != nil {
				msg = fmt.Sprintf("%s: %v", coded.Message, coded.Cause)
			}
			return huma.Error502BadGateway(msg)
		case controller.CodeStorageUnavailable:
			return huma.Error503ServiceUnavailable(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
