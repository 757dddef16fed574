package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Version is stamped at build time.
var Version = "dev"

func main() {
	app := newCLIApp(os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mediasniff:", err)
		os.Exit(1)
	}
}

func newCLIApp(out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "mediasniff",
		Usage:   "Capture and classify streaming media seen by a Chromium browser",
		Version: Version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Value: "http://127.0.0.1:8190", Usage: "Base URL of a running mediasniff server", EnvVars: []string{"MEDIASNIFF_API"}},
		},
		Commands: []*cli.Command{
			serveCmd(),
			showCmd(out),
			clearCmd(out),
			tabsCmd(out),
			rulesCmd(out),
		},
	}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger writes to stdout and a rotating file. The pretty format swaps
// the stdout side for a colored charm handler; the file stays plain text.
func setupLogger(level, filename, format string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}
	slogLevel := parseLevel(level)

	if format == "pretty" {
		console := charmlog.NewWithOptions(os.Stdout, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Level:           charmlog.Level(slogLevel),
		})
		file := slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: slogLevel})
		slog.SetDefault(slog.New(fanout{console, file}))
		return nil
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
