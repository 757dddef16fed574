package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Download modes.
const (
	DownloadDirect   = "direct"
	DownloadDelegate = "delegate"
)

// Config holds all configuration for mediasniff.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	TabURLFilter string

	// HTTP API
	BindAddr         string
	BindCandidates   []string
	BindAutoFallback bool

	// Durable session storage
	StorageKind string
	DataDir     string
	WriteBuffer int

	// Optional YAML replacing the built-in header rules
	HeaderRulesFile string

	// Downloads
	DownloadMode string
	DownloadDir  string
	DelegateURL  string

	// Optional browser launch
	LaunchBrowser bool
	StartURL      string
	ProfileDir    string

	LogLevel  string
	LogFile   string
	LogFormat string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		TabURLFilter:     getEnvOrDefault("MEDIASNIFF_TAB_URL_FILTER", ""),
		BindAddr:         getEnvOrDefault("MEDIASNIFF_BIND_ADDR", "127.0.0.1:8190"),
		BindCandidates:   getEnvListOrDefault("MEDIASNIFF_BIND_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		BindAutoFallback: getEnvBoolOrDefault("MEDIASNIFF_BIND_AUTO_FALLBACK", true),
		StorageKind:      strings.ToLower(getEnvOrDefault("MEDIASNIFF_STORAGE", "file")),
		DataDir:          getEnvOrDefault("MEDIASNIFF_DATA_DIR", "./mediasniff_data"),
		WriteBuffer:      getEnvIntOrDefault("MEDIASNIFF_WRITE_BUFFER", 256),
		HeaderRulesFile:  getEnvOrDefault("MEDIASNIFF_HEADER_RULES_FILE", ""),
		DownloadMode:     strings.ToLower(getEnvOrDefault("MEDIASNIFF_DOWNLOAD_MODE", DownloadDirect)),
		DownloadDir:      getEnvOrDefault("MEDIASNIFF_DOWNLOAD_DIR", defaultDownloadDir()),
		DelegateURL:      getEnvOrDefault("MEDIASNIFF_DELEGATE_URL", "http://127.0.0.1:9876"),
		LaunchBrowser:    getEnvBoolOrDefault("MEDIASNIFF_LAUNCH_BROWSER", false),
		StartURL:         getEnvOrDefault("MEDIASNIFF_START_URL", "about:blank"),
		ProfileDir:       getEnvOrDefault("MEDIASNIFF_PROFILE_DIR", ""),
		LogLevel:         strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("LOG_FILE", "logs/mediasniff.log"),
		LogFormat:        strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.StorageKind {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("config: MEDIASNIFF_STORAGE must be file, sqlite or memory, got %q", c.StorageKind)
	}
	switch c.DownloadMode {
	case DownloadDirect, DownloadDelegate:
	default:
		return fmt.Errorf("config: MEDIASNIFF_DOWNLOAD_MODE must be direct or delegate, got %q", c.DownloadMode)
	}
	switch c.LogFormat {
	case "text", "pretty":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be text or pretty, got %q", c.LogFormat)
	}
	if c.CDPPort <= 0 || c.CDPPort > 65535 {
		return fmt.Errorf("config: CHROMIUM_CDP_PORT out of range: %d", c.CDPPort)
	}
	if c.WriteBuffer < 1 {
		c.WriteBuffer = 1
	}
	return nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./downloads"
	}
	return filepath.Join(home, "Downloads")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
