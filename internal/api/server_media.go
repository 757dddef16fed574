package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/mediasniff/internal/download"
	"github.com/dgnsrekt/mediasniff/internal/types"
)

const maxMessageBytes = 1 << 20

type tabOutput struct {
	TabID    int    `json:"tab_id"`
	TargetID string `json:"target_id,omitempty"`
	URL      string `json:"url,omitempty"`
	Count    int    `json:"count"`
}

type mediaOutput struct {
	Body struct {
		URLs []types.CapturedResource `json:"urls"`
	}
}

type ackOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

type downloadInput struct {
	Body struct {
		URL      string `json:"url" minLength:"1" doc:"Media URL"`
		Filename string `json:"filename,omitempty" doc:"Suggested file name; video.mp4 when empty"`
		Site     string `json:"site,omitempty" doc:"youtube, instagram, facebook, twitter or tiktok"`
		Quality  string `json:"quality,omitempty" doc:"Quality label passed to the delegate server"`
		Title    string `json:"title,omitempty"`
	}
}

type downloadOutput struct {
	Body struct {
		Success    bool   `json:"success"`
		DownloadID string `json:"downloadId"`
	}
}

func registerMediaHandlers(api huma.API, svc Service, tabs TabLister) {
	type tabsOutput struct {
		Body struct {
			Tabs []tabOutput `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List attached tabs and tabs holding captured media", Tags: []string{"Media"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			out := &tabsOutput{}
			out.Body.Tabs = mergeTabs(svc, tabs)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-captured-media", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/media", Summary: "Ranked captured media for a tab", Tags: []string{"Media"}},
		func(ctx context.Context, input *tabIDInput) (*mediaOutput, error) {
			records, err := svc.GetCapturedMedia(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &mediaOutput{}
			out.Body.URLs = records
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "clear-captured-media", Method: http.MethodDelete, Path: "/api/v1/tabs/{tab_id}/media", Summary: "Clear a tab's captured media", Tags: []string{"Media"}},
		func(ctx context.Context, input *tabIDInput) (*ackOutput, error) {
			if err := svc.ClearCapturedMedia(ctx, input.TabID); err != nil {
				return nil, mapErr(err)
			}
			out := &ackOutput{}
			out.Body.Success = true
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "download-media", Method: http.MethodPost, Path: "/api/v1/downloads", Summary: "Start a download", Tags: []string{"Downloads"}},
		func(ctx context.Context, input *downloadInput) (*downloadOutput, error) {
			id, err := svc.DownloadMedia(ctx, download.Request{
				URL:      input.Body.URL,
				Filename: input.Body.Filename,
				Site:     types.Site(input.Body.Site),
				Quality:  input.Body.Quality,
				Title:    input.Body.Title,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			out := &downloadOutput{}
			out.Body.Success = true
			out.Body.DownloadID = id
			return out, nil
		})
}

func registerDownloadStatusHandler(api huma.API, tracker DownloadTracker) {
	type statusInput struct {
		ID string `path:"id" doc:"Handle returned by POST /api/v1/downloads"`
	}
	type statusOutput struct {
		Body download.Status
	}
	huma.Register(api, huma.Operation{OperationID: "download-status", Method: http.MethodGet, Path: "/api/v1/downloads/{id}", Summary: "Progress of a direct download", Tags: []string{"Downloads"}},
		func(ctx context.Context, input *statusInput) (*statusOutput, error) {
			if tracker == nil {
				return nil, huma.Error404NotFound("download tracking needs direct download mode")
			}
			st, ok := tracker.Status(input.ID)
			if !ok {
				return nil, huma.Error404NotFound("unknown or expired download id")
			}
			return &statusOutput{Body: st}, nil
		})
}

func mergeTabs(svc Service, tabs TabLister) []tabOutput {
	byID := make(map[int]*tabOutput)
	if tabs != nil {
		for _, t := range tabs.List() {
			byID[t.TabID] = &tabOutput{TabID: t.TabID, TargetID: t.TargetID, URL: t.URL}
		}
	}
	for _, s := range svc.ListTabs() {
		if t, ok := byID[s.TabID]; ok {
			t.Count = s.Count
			continue
		}
		byID[s.TabID] = &tabOutput{TabID: s.TabID, Count: s.Count}
	}

	out := make([]tabOutput, 0, len(byID))
	for _, t := range byID {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// messageHandler accepts one raw command message and writes its response.
// It sits outside huma because the response shape depends on the action.
func messageHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
		if err != nil {
			http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
			return
		}
		resp := svc.DispatchRaw(r.Context(), data)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Debug("message response write failed", "error", err)
		}
	}
}
