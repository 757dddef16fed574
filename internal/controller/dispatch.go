package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/mediasniff/internal/download"
	"github.com/dgnsrekt/mediasniff/internal/types"
)

// Command actions.
const (
	ActionGetCapturedMedia   = "getCapturedMedia"
	ActionClearCapturedMedia = "clearCapturedMedia"
	ActionDownloadMedia      = "downloadMedia"
)

// Message is an inbound command.
type Message struct {
	Action   string     `json:"action"`
	TabID    *int       `json:"tabId,omitempty"`
	URL      string     `json:"url,omitempty"`
	Filename string     `json:"filename,omitempty"`
	Site     types.Site `json:"site,omitempty"`
	Quality  string     `json:"quality,omitempty"`
	Title    string     `json:"title,omitempty"`
}

// Response is the single reply to a Message. Its JSON form depends on the
// command: {urls:[...]} for queries, {success,downloadId|error} otherwise.
type Response struct {
	URLs       []types.CapturedResource
	Success    bool
	DownloadID string
	Error      string

	query bool
}

func mediaResponse(records []types.CapturedResource) Response {
	if records == nil {
		records = []types.CapturedResource{}
	}
	return Response{URLs: records, query: true}
}

func failure(msg string) Response {
	return Response{Success: false, Error: msg}
}

type ackJSON struct {
	Success    bool   `json:"success"`
	DownloadID string `json:"downloadId,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.query {
		return json.Marshal(struct {
			URLs []types.CapturedResource `json:"urls"`
		}{URLs: r.URLs})
	}
	return json.Marshal(ackJSON{Success: r.Success, DownloadID: r.DownloadID, Error: r.Error})
}

// Dispatch routes one message and always produces exactly one response.
// Panics in a handler become a failure response.
func (s *Service) Dispatch(ctx context.Context, msg Message) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("command handler panicked", "action", msg.Action, "panic", r)
			resp = failure(fmt.Sprintf("internal error: %v", r))
		}
	}()

	switch msg.Action {
	case ActionGetCapturedMedia:
		if msg.TabID == nil {
			return mediaResponse(nil)
		}
		records, err := s.GetCapturedMedia(ctx, *msg.TabID)
		if err != nil {
			return mediaResponse(nil)
		}
		return mediaResponse(records)

	case ActionClearCapturedMedia:
		if msg.TabID == nil {
			return failure("tabId is required")
		}
		if err := s.ClearCapturedMedia(ctx, *msg.TabID); err != nil {
			return failure(errorMessage(err))
		}
		return Response{Success: true}

	case ActionDownloadMedia:
		id, err := s.DownloadMedia(ctx, download.Request{
			URL:      msg.URL,
			Filename: msg.Filename,
			Site:     msg.Site,
			Quality:  msg.Quality,
			Title:    msg.Title,
		})
		if err != nil {
			return failure(errorMessage(err))
		}
		return Response{Success: true, DownloadID: id}

	default:
		return failure(fmt.Sprintf("unknown action %q", msg.Action))
	}
}

// DispatchRaw decodes a JSON message and dispatches it.
func (s *Service) DispatchRaw(ctx context.Context, data []byte) Response {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return failure("invalid message: " + err.Error())
	}
	return s.Dispatch(ctx, msg)
}

func errorMessage(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		if coded.Cause != nil {
			return coded.Message + ": " + coded.Cause.Error()
		}
		return coded.Message
	}
	return err.Error()
}
