// Program gripview connects to a GRIP vision stream, decodes each frame, and
// draws the latest image with report overlays in a terminal dashboard (or logs
// scene summaries when headless). Reports arrive over MQTT; frames can be
// sampled into a Pebble archive and session events into SQLite.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gripview/archive"
	"gripview/config"
	"gripview/feed"
	"gripview/recorder"
	"gripview/report"
	"gripview/stats"
	"gripview/stream"
	"gripview/ui"

	"golang.org/x/term"
)

// Version will be set at build time
var Version = "dev"

type cliFlags struct {
	configPath string
	host       string
	port       int
	fps        int
	hide       string
	headless   bool
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("gripview", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to the YAML config (default $"+config.EnvVar+" or "+config.DefaultFile+")")
	fs.StringVar(&f.host, "host", "", "vision server host (overrides stream.host)")
	fs.IntVar(&f.port, "port", 0, "vision server port (overrides stream.port)")
	fs.IntVar(&f.fps, "fps", 0, "requested frames per second (overrides stream.fps)")
	fs.StringVar(&f.hide, "hide", "", "comma-separated report keys to start hidden")
	fs.BoolVar(&f.headless, "headless", false, "log scene summaries instead of drawing the dashboard")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}

// Purpose: Overlay command-line overrides on the loaded config.
// Key aspects: Only flags that were set win; the result is re-validated.
// Upstream: main startup.
// Downstream: config.Validate.
func applyFlags(cfg *config.Config, f cliFlags) error {
	if h := strings.TrimSpace(f.host); h != "" {
		cfg.Stream.Host = h
	}
	if f.port > 0 {
		cfg.Stream.Port = f.port
	}
	if f.fps > 0 {
		cfg.Stream.FPS = f.fps
	}
	for _, key := range strings.Split(f.hide, ",") {
		if key = strings.TrimSpace(key); key != "" {
			cfg.UI.Hidden = append(cfg.UI.Hidden, key)
		}
	}
	if f.headless {
		cfg.UI.Mode = config.UIModeHeadless
	}
	return cfg.Validate()
}

// Purpose: Report whether stdout is a TTY for UI gating.
// Key aspects: Uses term.IsTerminal on stdout fd.
// Upstream: main UI selection.
// Downstream: term.IsTerminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func streamOptions(cfg config.StreamConfig, v *viewer) stream.Options {
	return stream.Options{
		RetryDelay:  cfg.RetryDelay(),
		DialTimeout: cfg.DialTimeout(),
		ReadTimeout: cfg.ReadTimeout(),
		BufferSize:  cfg.InitialBufferBytes,
		Notify:      v.invalidate,
		OnEvent:     v.onEvent,
	}
}

// Purpose: Program entrypoint; wires config, stream, feed, storage, and UI.
// Key aspects: Runs until SIGINT/SIGTERM or the dashboard quits, then stops
// components producer-first so no callback outlives its sink.
// Upstream: OS process start.
// Downstream: stream.Client, feed.Client, ui surfaces, archive, recorder.
func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	path, explicit := config.ResolvePath(flags.configPath)
	cfg, err := config.Load(path, explicit)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if err := applyFlags(cfg, flags); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fanout, err := setupLogging(cfg.Logging, os.Stdout)
	log.SetFlags(0)
	log.SetOutput(fanout)
	if err != nil {
		log.Printf("Logging: file logging disabled: %v", err)
	}
	defer fanout.Close()

	if cfg.LoadedFrom != "" {
		log.Printf("Loaded configuration from %s", cfg.LoadedFrom)
	} else {
		log.Printf("No configuration file found; using defaults")
	}

	tracker := stats.NewTracker()
	registry := report.NewRegistry()
	v := newViewer(registry, tracker, cfg.UI.Hidden)

	if cfg.Recorder.Enabled {
		rec, err := recorder.NewRecorder(cfg.Recorder.Path, cfg.Recorder.PerKindLimit)
		if err != nil {
			log.Printf("Recorder: disabled: %v", err)
		} else {
			v.recorder = rec
			log.Printf("Recorder: logging session events to %s (limit %d per kind)", cfg.Recorder.Path, cfg.Recorder.PerKindLimit)
		}
	}

	stopRetention := make(chan struct{})
	if cfg.Archive.Enabled {
		store, err := archive.Open(cfg.Archive.Path, archive.Options{Interval: cfg.Archive.Interval()})
		if err != nil {
			log.Printf("Archive: disabled: %v", err)
		} else {
			v.archive = store
			logLatestArchived(store)
			store.StartRetention(cfg.Archive.Retention(), time.Minute, stopRetention)
		}
	}

	client := stream.NewClient(stream.Settings{
		Host: cfg.Stream.Host,
		Port: cfg.Stream.Port,
		FPS:  cfg.Stream.FPS,
	}, streamOptions(cfg.Stream, v))
	v.display = client

	surface, dashboardActive := buildSurface(cfg, v, client)
	surface.WaitReady()
	v.setSurface(surface)
	if dashboardActive {
		fanout.SetConsoleSink(surface.SystemWriter(), false)
		fanout.SetRotateHook(func(rot logRotation) {
			now := time.Now()
			fanout.WriteFileOnlyLine(fmt.Sprintf("Stats for %s (continued from %s):", rot.Day.Format(logFileDateLayout), filepath.Base(rot.Closed)), now)
			for _, line := range v.statsLines() {
				fanout.WriteFileOnlyLine(line, now)
			}
		})
		surface.SetStats([]string{"Initializing..."})
	} else {
		cfg.Print(os.Stdout)
	}
	log.Printf("gripview v%s starting", Version)

	tree := feed.NewTree(cfg.Feed.Root)
	tree.AddSubTableListener(v.onSubTable)
	tree.AddValueListener(v.onValue)
	var feedClient *feed.Client
	if cfg.Feed.Enabled {
		feedClient = feed.NewClient(feed.Options{
			Broker:   cfg.Feed.Broker,
			Port:     cfg.Feed.Port,
			ClientID: cfg.Feed.ClientID,
			QoS:      byte(cfg.Feed.QoS),
		}, tree)
		if err := feedClient.Connect(); err != nil {
			log.Printf("Feed: %v", err)
		}
	} else {
		log.Printf("Feed: disabled; no report overlays will appear")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.Start(ctx)
	log.Printf("Stream: requesting %d fps from %s", cfg.Stream.FPS, client.Settings().Addr())

	statsDone := make(chan struct{})
	go runStats(time.Duration(cfg.UI.StatsIntervalSeconds)*time.Second, v, surface, fanout, statsDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
	case <-surface.Done():
		log.Printf("UI: quit requested")
	}
	log.Println("Shutting down gracefully...")

	close(statsDone)
	client.Stop()
	if feedClient != nil {
		feedClient.Stop()
		if dropped := feedClient.Dropped(); dropped > 0 {
			log.Printf("Feed: %d malformed messages dropped", dropped)
		}
	}
	v.setSurface(nil)
	surface.Stop()
	fanout.SetConsoleSink(os.Stdout, true)
	close(stopRetention)
	if v.archive != nil {
		if err := v.archive.Close(); err != nil {
			log.Printf("Archive: close: %v", err)
		}
	}
	if v.recorder != nil {
		if err := v.recorder.Close(); err != nil {
			log.Printf("Recorder: close: %v", err)
		}
	}
	for _, line := range v.statsLines() {
		log.Println(line)
	}
	log.Println("gripview stopped")
}

// Purpose: Pick the render surface for this run.
// Key aspects: The dashboard needs an interactive console; everything else
// falls back to the headless logger.
// Upstream: main startup.
// Downstream: ui.NewDashboard, ui.NewHeadless.
func buildSurface(cfg *config.Config, v *viewer, client *stream.Client) (ui.Surface, bool) {
	interval := time.Second
	if cfg.UI.RefreshFPS > 0 {
		interval = max(time.Second/time.Duration(cfg.UI.RefreshFPS), 100*time.Millisecond)
	}
	switch cfg.UI.Mode {
	case config.UIModeTview:
		if isStdoutTTY() {
			dash := ui.NewDashboard(ui.DashboardConfig{RefreshFPS: cfg.UI.RefreshFPS}, v.scene, client, toggleRecorder{Registry: v.registry, rec: v.recorder})
			return dash, true
		}
		log.Printf("UI disabled (tview requires an interactive console)")
	case config.UIModeHeadless:
		log.Printf("UI disabled (mode=headless)")
	}
	return ui.NewHeadless(v.scene, interval, os.Stdout), false
}

// Purpose: Periodically push stats to the surface and the log file.
// Key aspects: Surfaces print stats outside the log, so the daily file gets
// its own copy.
// Upstream: main startup.
// Downstream: ui.Surface.SetStats, logFanout.WriteFileOnlyLine.
func runStats(interval time.Duration, v *viewer, surface ui.Surface, fanout *logFanout, done <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			lines := v.statsLines()
			surface.SetStats(lines)
			for _, line := range lines {
				fanout.WriteFileOnlyLine(line, now)
			}
		}
	}
}

func logLatestArchived(store *archive.Store) {
	rec, ok, err := store.Latest()
	if err != nil {
		log.Printf("Archive: %v", err)
		return
	}
	if !ok {
		log.Printf("Archive: empty")
		return
	}
	img, err := stream.DecodeImage(rec.Payload)
	if err != nil {
		log.Printf("Archive: last frame from %s is unreadable: %v", rec.At.Format(time.RFC3339), err)
		return
	}
	b := img.Bounds()
	log.Printf("Archive: %d frames, last %dx%d from %s", store.Count(), b.Dx(), b.Dy(), rec.At.Format(time.RFC3339))
}
