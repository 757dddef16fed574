package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dgnsrekt/mediasniff/internal/api"
	"github.com/dgnsrekt/mediasniff/internal/browser"
	"github.com/dgnsrekt/mediasniff/internal/capture"
	"github.com/dgnsrekt/mediasniff/internal/cdp"
	"github.com/dgnsrekt/mediasniff/internal/config"
	"github.com/dgnsrekt/mediasniff/internal/controller"
	"github.com/dgnsrekt/mediasniff/internal/download"
	"github.com/dgnsrekt/mediasniff/internal/headerrules"
	"github.com/dgnsrekt/mediasniff/internal/mediastore"
	"github.com/dgnsrekt/mediasniff/internal/netutil"
	"github.com/dgnsrekt/mediasniff/internal/persist"
	"github.com/dgnsrekt/mediasniff/internal/relay"
	"github.com/dgnsrekt/mediasniff/internal/storage"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Attach to Chromium and serve captured media over HTTP",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := setupLogger(cfg.LogLevel, cfg.LogFile, cfg.LogFormat); err != nil {
				return fmt.Errorf("logger setup failed: %w", err)
			}
			return serve(c.Context, cfg)
		},
	}
}

func loadRules(path string) (*headerrules.Set, error) {
	if path == "" {
		return headerrules.NewSet(headerrules.Defaults()), nil
	}
	rules, err := headerrules.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return headerrules.NewSet(rules), nil
}

// closeSessions drains the write queue into the backend, then closes it.
func closeSessions(bridge *persist.Bridge, backend storage.SessionStorage) {
	if err := bridge.Close(); err != nil {
		slog.Warn("persist bridge close failed", "error", err)
	}
	if err := backend.Close(); err != nil {
		slog.Warn("session storage close failed", "error", err)
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	slog.Info("mediasniff config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"bind_addr", cfg.BindAddr,
		"tab_url_filter", cfg.TabURLFilter,
		"storage", cfg.StorageKind,
		"data_dir", cfg.DataDir,
		"download_mode", cfg.DownloadMode,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules, err := loadRules(cfg.HeaderRulesFile)
	if err != nil {
		return err
	}

	backend, err := storage.Open(cfg.StorageKind, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open session storage: %w", err)
	}
	bridge := persist.NewBridge(backend, cfg.WriteBuffer)
	defer closeSessions(bridge, backend)

	store := mediastore.NewStore(bridge)
	if _, err := bridge.RestoreAll(ctx, store); err != nil {
		slog.Warn("session restore failed, starting empty", "error", err)
	}

	broker := relay.NewBroker()
	relay.Follow(store, broker)

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		profile := cfg.ProfileDir
		if profile == "" {
			profile = filepath.Join(cfg.DataDir, "profile")
		}
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: profile,
		})
		if err := launcher.Launch(ctx); err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		defer launcher.Stop()
	}

	tabs := cdp.NewTabRegistry()
	httpCapture := capture.NewHTTPCapture(capture.NewIntake(store), tabs)
	cdpClient := cdp.NewClient(cdp.Options{CDPURL: cfg.GetCDPURL(), TabURLFilter: cfg.TabURLFilter}, httpCapture, store, rules, tabs)
	if err := cdpClient.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = cdpClient.Close() }()

	opts := api.Options{Broker: broker, Tabs: tabs}
	var facility download.Facility
	switch cfg.DownloadMode {
	case config.DownloadDelegate:
		delegate := download.NewDelegate(cfg.DelegateURL, nil)
		if !delegate.Ping(ctx) {
			slog.Warn("delegate download server unreachable", "url", cfg.DelegateURL)
		}
		facility = delegate
		opts.Delegate = delegate
	default:
		direct := download.NewDirect(cfg.DownloadDir, nil, rules)
		defer func() { _ = direct.Close() }()
		facility = direct
		opts.Downloads = direct
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.BindCandidates, cfg.BindAutoFallback)
	if err != nil {
		return err
	}
	addr := ln.Addr().String()

	svc := controller.NewService(store, bridge, facility)
	srv := &http.Server{Handler: api.NewServer(svc, opts), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mediasniff listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if n := bridge.Dropped(); n > 0 {
		slog.Warn("session writes dropped during run", "count", n)
	}
	return nil
}
