package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingDefaultFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), DefaultFile), false)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Stream.Port != 1180 || cfg.Stream.FPS != 30 || cfg.Stream.Host != "localhost" {
		t.Fatalf("unexpected stream defaults %+v", cfg.Stream)
	}
	if cfg.Stream.RetryDelay().Milliseconds() != 1000 {
		t.Fatalf("expected 1s retry delay, got %v", cfg.Stream.RetryDelay())
	}
	if cfg.Stream.ReadTimeout() != 0 {
		t.Fatalf("expected read timeout off by default, got %v", cfg.Stream.ReadTimeout())
	}
	if cfg.Stream.InitialBufferBytes != 64*1024 {
		t.Fatalf("unexpected initial buffer %d", cfg.Stream.InitialBufferBytes)
	}
	if cfg.Feed.Root != "GRIP" || cfg.UI.Mode != UIModeTview {
		t.Fatalf("unexpected feed/ui defaults %+v %+v", cfg.Feed, cfg.UI)
	}
	if cfg.LoadedFrom != "" {
		t.Fatalf("defaults should not claim a source, got %q", cfg.LoadedFrom)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), true); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadAppliesFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gripview.yaml")
	body := `stream:
  host: "roborio-254-frc.local"
  fps: 15
feed:
  enabled: true
  root: "/VISION/"
ui:
  mode: "HEADLESS"
  hidden: ["lines"]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Stream.Host != "roborio-254-frc.local" || cfg.Stream.FPS != 15 || cfg.Stream.Port != 1180 {
		t.Fatalf("unexpected stream %+v", cfg.Stream)
	}
	if cfg.Feed.Root != "VISION" || !cfg.Feed.Enabled {
		t.Fatalf("unexpected feed %+v", cfg.Feed)
	}
	if cfg.UI.Mode != UIModeHeadless || len(cfg.UI.Hidden) != 1 {
		t.Fatalf("unexpected ui %+v", cfg.UI)
	}
	if cfg.LoadedFrom != path {
		t.Fatalf("expected LoadedFrom=%s, got %s", path, cfg.LoadedFrom)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"negative fps": "stream:\n  fps: -1\n",
		"port range":   "stream:\n  port: 70000\n",
		"ui mode":      "ui:\n  mode: gtk\n",
		"qos":          "feed:\n  qos: 3\n",
	}
	for name, body := range cases {
		if _, err := Parse([]byte(body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if _, err := Parse([]byte("stream: [")); err == nil {
		t.Fatalf("expected parse error for malformed yaml")
	}
}

func TestResolvePathOrder(t *testing.T) {
	t.Setenv(EnvVar, "")
	if p, explicit := ResolvePath(""); p != DefaultFile || explicit {
		t.Fatalf("expected default file, got %q explicit=%v", p, explicit)
	}
	t.Setenv(EnvVar, "/etc/gripview.yaml")
	if p, explicit := ResolvePath(""); p != "/etc/gripview.yaml" || !explicit {
		t.Fatalf("expected env path, got %q", p)
	}
	if p, _ := ResolvePath("local.yaml"); p != "local.yaml" {
		t.Fatalf("flag should win, got %q", p)
	}
}

func TestPrintSummarizesEnabledSections(t *testing.T) {
	cfg := Default()
	cfg.Archive.Enabled = true
	var buf bytes.Buffer
	cfg.Print(&buf)
	out := buf.String()
	if !strings.Contains(out, "Stream: localhost:1180 at 30 fps") {
		t.Fatalf("missing stream line: %s", out)
	}
	if !strings.Contains(out, "Archive: data/archive") {
		t.Fatalf("missing archive line: %s", out)
	}
	if strings.Contains(out, "Recorder:") {
		t.Fatalf("disabled recorder should not print: %s", out)
	}
}
