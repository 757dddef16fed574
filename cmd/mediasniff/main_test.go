package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/mediasniff/internal/persist"
	"github.com/dgnsrekt/mediasniff/internal/storage"
	"github.com/dgnsrekt/mediasniff/internal/types"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("debug"))
	require.Equal(t, slog.LevelWarn, parseLevel("warn"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestShowCallsMediaEndpoint(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"urls":[]}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	app := newCLIApp(&out)
	err := app.RunContext(context.Background(), []string{"mediasniff", "--api", srv.URL, "show", "--tab", "12"})
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, gotMethod)
	require.Equal(t, "/api/v1/tabs/12/media", gotPath)
	require.Contains(t, out.String(), `"urls": []`)
}

func TestClearUsesDelete(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := newCLIApp(&out).Run([]string{"mediasniff", "--api", srv.URL, "clear", "--tab", "3"})
	require.NoError(t, err)
	require.Equal(t, http.MethodDelete, gotMethod)
}

func TestAPIErrorStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"bad"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := newCLIApp(&out).Run([]string{"mediasniff", "--api", srv.URL, "tabs"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "400")
}

func TestRulesPrintsDefaults(t *testing.T) {
	var out bytes.Buffer
	err := newCLIApp(&out).Run([]string{"mediasniff", "rules", "--file", ""})
	require.NoError(t, err)
	s := out.String()
	require.True(t, strings.HasPrefix(s, "rules:"), s)
	require.Contains(t, s, "googlevideo.com")
	require.Contains(t, s, "twimg.com")
}

func TestFanoutSkipsDisabledHandlers(t *testing.T) {
	var debug, warn bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	logger := slog.New(h).With("tab", 4)
	logger.Info("captured")

	require.Contains(t, debug.String(), "captured")
	require.Contains(t, debug.String(), "tab=4")
	require.Empty(t, warn.String())
}

type closeRecorder struct {
	storage.SessionStorage
	events []string
}

func (c *closeRecorder) Set(ctx context.Context, key string, value []byte) error {
	c.events = append(c.events, "set "+key)
	return c.SessionStorage.Set(ctx, key, value)
}

func (c *closeRecorder) Close() error {
	c.events = append(c.events, "close")
	return c.SessionStorage.Close()
}

func TestCloseSessionsDrainsThenClosesBackend(t *testing.T) {
	backend := &closeRecorder{SessionStorage: storage.NewMemory()}
	bridge := persist.NewBridge(backend, 4)
	bridge.Save(1, []types.CapturedResource{{URL: "https://cdn.example.com/a.mp4"}})

	closeSessions(bridge, backend)

	require.Equal(t, []string{"set tab_1", "close"}, backend.events)
}

func TestCloseSessionsReleasesSQLite(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.Open("sqlite", dir)
	require.NoError(t, err)
	bridge := persist.NewBridge(backend, 4)
	bridge.Save(2, []types.CapturedResource{{URL: "https://cdn.example.com/b.mp4"}})

	closeSessions(bridge, backend)

	reopened, err := storage.Open("sqlite", dir)
	require.NoError(t, err)
	defer reopened.Close()
	_, ok, err := reopened.Get(context.Background(), persist.Key(2))
	require.NoError(t, err)
	require.True(t, ok)
}
