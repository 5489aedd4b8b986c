// Package config loads the viewer's YAML configuration, fills defaults, and
// validates the result before anything dials the network.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file used when neither the -config flag
// nor the GRIPVIEW_CONFIG environment variable names one.
const DefaultFile = "gripview.yaml"

// EnvVar names the environment variable consulted for the config path.
const EnvVar = "GRIPVIEW_CONFIG"

// Config represents the complete viewer configuration.
type Config struct {
	Stream   StreamConfig   `yaml:"stream"`
	Feed     FeedConfig     `yaml:"feed"`
	UI       UIConfig       `yaml:"ui"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Recorder RecorderConfig `yaml:"recorder"`
	Logging  LoggingConfig  `yaml:"logging"`

	// LoadedFrom is the file the configuration was read from, empty for defaults.
	LoadedFrom string `yaml:"-"`
}

// StreamConfig describes the vision server connection.
type StreamConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	FPS                int    `yaml:"fps"`
	RetryDelayMS       int    `yaml:"retry_delay_ms"`
	DialTimeoutMS      int    `yaml:"dial_timeout_ms"`
	ReadTimeoutMS      int    `yaml:"read_timeout_ms"`
	InitialBufferBytes int    `yaml:"initial_buffer_bytes"`
}

// FeedConfig contains the MQTT report feed settings.
type FeedConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Root     string `yaml:"root"`
	ClientID string `yaml:"client_id"`
	QoS      int    `yaml:"qos"`
}

// UIConfig selects the render sink.
type UIConfig struct {
	Mode                 string `yaml:"mode"`
	RefreshFPS           int    `yaml:"refresh_fps"`
	StatsIntervalSeconds int    `yaml:"stats_interval_seconds"`
	// Hidden lists report keys that start hidden.
	Hidden []string `yaml:"hidden"`
}

// ArchiveConfig controls the Pebble frame archive.
type ArchiveConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Path             string `yaml:"path"`
	IntervalMS       int    `yaml:"interval_ms"`
	RetentionMinutes int    `yaml:"retention_minutes"`
}

// RecorderConfig controls the SQLite event recorder.
type RecorderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`
	PerKindLimit int    `yaml:"per_kind_limit"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

const (
	UIModeTview    = "tview"
	UIModeHeadless = "headless"
)

// Default returns a normalized configuration with no file applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Purpose: Resolve which config file to read.
// Key aspects: Explicit flag wins, then the environment, then DefaultFile.
// Upstream: main.
// Downstream: None.
func ResolvePath(flagPath string) (path string, explicit bool) {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p, true
	}
	if p := strings.TrimSpace(os.Getenv(EnvVar)); p != "" {
		return p, true
	}
	return DefaultFile, false
}

// Load loads configuration from a YAML file. When the file is missing and was
// not named explicitly, defaults are returned.
func Load(filename string, explicit bool) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.LoadedFrom = filename
	return cfg, nil
}

// Parse decodes, normalizes, and validates YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	c.Stream.Host = strings.TrimSpace(c.Stream.Host)
	if c.Stream.Host == "" {
		c.Stream.Host = "localhost"
	}
	if c.Stream.Port == 0 {
		c.Stream.Port = 1180
	}
	if c.Stream.FPS == 0 {
		c.Stream.FPS = 30
	}
	if c.Stream.RetryDelayMS <= 0 {
		c.Stream.RetryDelayMS = 1000
	}
	if c.Stream.DialTimeoutMS <= 0 {
		c.Stream.DialTimeoutMS = 5000
	}
	if c.Stream.InitialBufferBytes <= 0 {
		c.Stream.InitialBufferBytes = 64 * 1024
	}

	if strings.TrimSpace(c.Feed.Broker) == "" {
		c.Feed.Broker = "localhost"
	}
	if c.Feed.Port == 0 {
		c.Feed.Port = 1883
	}
	c.Feed.Root = strings.Trim(strings.TrimSpace(c.Feed.Root), "/")
	if c.Feed.Root == "" {
		c.Feed.Root = "GRIP"
	}

	c.UI.Mode = strings.ToLower(strings.TrimSpace(c.UI.Mode))
	if c.UI.Mode == "" {
		c.UI.Mode = UIModeTview
	}
	if c.UI.RefreshFPS <= 0 {
		c.UI.RefreshFPS = 30
	}
	if c.UI.StatsIntervalSeconds <= 0 {
		c.UI.StatsIntervalSeconds = 5
	}

	if strings.TrimSpace(c.Archive.Path) == "" {
		c.Archive.Path = "data/archive"
	}
	if c.Archive.IntervalMS <= 0 {
		c.Archive.IntervalMS = 1000
	}
	if c.Archive.RetentionMinutes <= 0 {
		c.Archive.RetentionMinutes = 60
	}

	if strings.TrimSpace(c.Recorder.Path) == "" {
		c.Recorder.Path = "data/events.db"
	}
	if c.Recorder.PerKindLimit <= 0 {
		c.Recorder.PerKindLimit = 10000
	}

	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = "data/logs"
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
}

// Validate rejects settings the stream client cannot run with.
func (c *Config) Validate() error {
	if c.Stream.Host == "" {
		return errors.New("stream.host must not be empty")
	}
	if c.Stream.Port < 1 || c.Stream.Port > 65535 {
		return fmt.Errorf("stream.port %d out of range", c.Stream.Port)
	}
	if c.Stream.FPS <= 0 {
		return fmt.Errorf("stream.fps must be positive, got %d", c.Stream.FPS)
	}
	if c.Feed.Port < 1 || c.Feed.Port > 65535 {
		return fmt.Errorf("feed.port %d out of range", c.Feed.Port)
	}
	if c.Feed.QoS < 0 || c.Feed.QoS > 2 {
		return fmt.Errorf("feed.qos must be 0, 1, or 2, got %d", c.Feed.QoS)
	}
	switch c.UI.Mode {
	case UIModeTview, UIModeHeadless:
	default:
		return fmt.Errorf("ui.mode %q is not one of %s, %s", c.UI.Mode, UIModeTview, UIModeHeadless)
	}
	return nil
}

// RetryDelay returns the backoff between capture cycles.
func (s StreamConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMS) * time.Millisecond
}

// DialTimeout returns the connect timeout.
func (s StreamConfig) DialTimeout() time.Duration {
	return time.Duration(s.DialTimeoutMS) * time.Millisecond
}

// ReadTimeout returns the per-frame read timeout. Zero (the default) and
// negative values disable it so an idle camera does not drop the session.
func (s StreamConfig) ReadTimeout() time.Duration {
	return time.Duration(max(s.ReadTimeoutMS, 0)) * time.Millisecond
}

// Interval returns the archive sampling interval.
func (a ArchiveConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMS) * time.Millisecond
}

// Retention returns how long archived frames are kept.
func (a ArchiveConfig) Retention() time.Duration {
	return time.Duration(a.RetentionMinutes) * time.Minute
}

// Print displays the configuration.
func (c *Config) Print(w io.Writer) {
	source := c.LoadedFrom
	if source == "" {
		source = "(defaults)"
	}
	fmt.Fprintf(w, "Config: %s\n", source)
	fmt.Fprintf(w, "Stream: %s:%d at %d fps (retry %dms)\n", c.Stream.Host, c.Stream.Port, c.Stream.FPS, c.Stream.RetryDelayMS)
	if c.Feed.Enabled {
		fmt.Fprintf(w, "Feed: %s:%d (root: %s)\n", c.Feed.Broker, c.Feed.Port, c.Feed.Root)
	}
	fmt.Fprintf(w, "UI: %s (refresh %d fps)\n", c.UI.Mode, c.UI.RefreshFPS)
	if len(c.UI.Hidden) > 0 {
		fmt.Fprintf(w, "Hidden reports: %s\n", strings.Join(c.UI.Hidden, ", "))
	}
	if c.Archive.Enabled {
		fmt.Fprintf(w, "Archive: %s every %dms, keep %dm\n", c.Archive.Path, c.Archive.IntervalMS, c.Archive.RetentionMinutes)
	}
	if c.Recorder.Enabled {
		fmt.Fprintf(w, "Recorder: %s (limit %d per kind)\n", c.Recorder.Path, c.Recorder.PerKindLimit)
	}
	if c.Logging.Enabled {
		fmt.Fprintf(w, "Logging: %s (keep %d days)\n", c.Logging.Dir, c.Logging.RetentionDays)
	}
}
