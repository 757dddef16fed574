package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

const defaultReadyTimeout = 15 * time.Second

// Config describes the Chromium instance started for capture.
type Config struct {
	Binary       string
	CDPAddress   string
	CDPPort      int
	StartURL     string
	ProfileDir   string
	Headless     bool
	ExtraArgs    []string
	ReadyTimeout time.Duration
}

// Launcher owns a browser process started with remote debugging enabled.
type Launcher struct {
	cfg  Config
	cmd  *exec.Cmd
	done chan struct{}
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	return &Launcher{cfg: cfg}
}

var browserCandidates = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

func detectBrowser(override string) (string, error) {
	if override != "" {
		return exec.LookPath(override)
	}
	for _, name := range browserCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no chromium binary found on PATH (tried %v)", browserCandidates)
}

func endpoint(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}

func portOpen(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", endpoint(address, port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c Config) args() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(c.CDPPort),
		"--remote-debugging-address=" + c.CDPAddress,
		"--user-data-dir=" + c.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--autoplay-policy=no-user-gesture-required",
	}
	if c.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, c.ExtraArgs...)
	return append(args, c.StartURL)
}

// Launch starts the browser and waits until its debugging endpoint answers.
// A browser already listening on the port is reused.
func (l *Launcher) Launch(ctx context.Context) error {
	if portOpen(l.cfg.CDPAddress, l.cfg.CDPPort) {
		slog.Info("debugging port already open, reusing browser", "endpoint", endpoint(l.cfg.CDPAddress, l.cfg.CDPPort))
		return nil
	}

	path, err := detectBrowser(l.cfg.Binary)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	l.cmd = exec.Command(path, l.cfg.args()...)
	l.cmd.Stdout = os.Stdout
	l.cmd.Stderr = os.Stderr
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	l.done = make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(l.done)
	}()
	slog.Info("browser process started", "path", path, "pid", l.cmd.Process.Pid)

	if err := waitForCDP(ctx, versionURL(l.cfg.CDPAddress, l.cfg.CDPPort), l.cfg.ReadyTimeout, l.done); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for debugging endpoint: %w", err)
	}
	slog.Info("debugging endpoint ready", "endpoint", endpoint(l.cfg.CDPAddress, l.cfg.CDPPort))
	return nil
}

func versionURL(address string, port int) string {
	return "http://" + endpoint(address, port) + "/json/version"
}

// waitForCDP polls url until it answers 200. exited closing early means the
// process died before becoming ready.
func waitForCDP(ctx context.Context, url string, timeout time.Duration, exited <-chan struct{}) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return fmt.Errorf("browser exited before %s answered", url)
		case <-deadline.C:
			return fmt.Errorf("no answer from %s within %s", url, timeout)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Running reports whether a process started by Launch is still alive.
func (l *Launcher) Running() bool {
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Stop sends SIGTERM and escalates to SIGKILL after five seconds.
func (l *Launcher) Stop() {
	if !l.Running() {
		return
	}
	slog.Info("stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		slog.Warn("browser ignored SIGTERM, killing", "pid", l.cmd.Process.Pid)
		_ = l.cmd.Process.Kill()
		<-l.done
	}
}
