package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/mediasniff/internal/download"
)

func registerMiscHandlers(api huma.API, delegate DelegateProber) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type delegateStatusOutput struct {
		Body struct {
			Reachable bool                     `json:"reachable"`
			Status    *download.DelegateStatus `json:"status,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delegate-status", Method: http.MethodGet, Path: "/api/v1/delegate/status", Summary: "Media-extraction server status", Tags: []string{"Downloads"}},
		func(ctx context.Context, input *struct{}) (*delegateStatusOutput, error) {
			if delegate == nil {
				return nil, huma.Error404NotFound("delegate download mode is not configured")
			}
			out := &delegateStatusOutput{}
			if !delegate.Ping(ctx) {
				return out, nil
			}
			out.Body.Reachable = true
			st, err := delegate.Status(ctx)
			if err != nil {
				return nil, huma.Error502BadGateway("delegate status failed", err)
			}
			out.Body.Status = &st
			return out, nil
		})

	type playlistInput struct {
		Body struct {
			URL string `json:"url" minLength:"1" doc:"Playlist URL"`
		}
	}
	type playlistOutput struct {
		Body download.PlaylistInfo
	}
	huma.Register(api, huma.Operation{OperationID: "delegate-playlist-info", Method: http.MethodPost, Path: "/api/v1/delegate/playlist-info", Summary: "List a playlist's entries through the media-extraction server", Tags: []string{"Downloads"}},
		func(ctx context.Context, input *playlistInput) (*playlistOutput, error) {
			if delegate == nil {
				return nil, huma.Error404NotFound("delegate download mode is not configured")
			}
			info, err := delegate.PlaylistInfo(ctx, input.Body.URL)
			if err != nil {
				return nil, huma.Error502BadGateway("playlist lookup failed", err)
			}
			return &playlistOutput{Body: info}, nil
		})
}
