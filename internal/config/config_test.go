package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, k := range []string{"CHROMIUM_CDP_PORT", "MEDIASNIFF_STORAGE", "MEDIASNIFF_DOWNLOAD_MODE", "LOG_FORMAT", "MEDIASNIFF_BIND_ADDR"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GetCDPURL() != "http://127.0.0.1:9222" {
		t.Fatalf("GetCDPURL() = %q; want http://127.0.0.1:9222", cfg.GetCDPURL())
	}
	if cfg.StorageKind != "file" || cfg.DownloadMode != DownloadDirect || cfg.BindAddr != "127.0.0.1:8190" {
		t.Fatalf("Load() = %+v; unexpected defaults", cfg)
	}
	if cfg.WriteBuffer != 256 {
		t.Fatalf("WriteBuffer = %d; want 256", cfg.WriteBuffer)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHROMIUM_CDP_PORT", "9333")
	t.Setenv("MEDIASNIFF_STORAGE", "SQLite")
	t.Setenv("MEDIASNIFF_DOWNLOAD_MODE", "delegate")
	t.Setenv("MEDIASNIFF_LAUNCH_BROWSER", "true")
	t.Setenv("MEDIASNIFF_WRITE_BUFFER", "not-a-number")
	t.Setenv("MEDIASNIFF_BIND_CANDIDATES", " 127.0.0.1:9001, ,127.0.0.1:9002")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPPort != 9333 || cfg.StorageKind != "sqlite" || cfg.DownloadMode != DownloadDelegate || !cfg.LaunchBrowser {
		t.Fatalf("Load() = %+v; overrides not applied", cfg)
	}
	if cfg.WriteBuffer != 256 {
		t.Fatalf("WriteBuffer = %d; want default on parse failure", cfg.WriteBuffer)
	}
	if len(cfg.BindCandidates) != 2 || cfg.BindCandidates[1] != "127.0.0.1:9002" {
		t.Fatalf("BindCandidates = %v; want two trimmed entries", cfg.BindCandidates)
	}
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	t.Chdir(t.TempDir())
	cases := map[string]string{
		"MEDIASNIFF_STORAGE":       "redis",
		"MEDIASNIFF_DOWNLOAD_MODE": "torrent",
		"LOG_FORMAT":               "xml",
		"CHROMIUM_CDP_PORT":        "70000",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%s = nil error; want failure", key, val)
			}
		})
	}
}
