// Command framesim is a stand-in vision server for exercising gripview without
// a camera. It accepts the stream handshake, sends synthetic JPEG frames of a
// moving blob at the requested rate, and can publish the blob's position as a
// points report over MQTT so overlays line up with the picture.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"math"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gripview/feed"
	"gripview/stream"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	maxFPS     = 60
	defaultFPS = 30
)

type simConfig struct {
	width   int
	height  int
	quality int
	period  time.Duration
}

// blob is the simulated target at one instant.
type blob struct {
	X, Y, Size float64
}

// blobAt traces a slow ellipse across the frame.
func blobAt(cfg simConfig, at time.Duration) blob {
	phase := 2 * math.Pi * at.Seconds() / cfg.period.Seconds()
	w, h := float64(cfg.width), float64(cfg.height)
	size := math.Min(w, h) / 6
	return blob{
		X:    w/2 + (w/2-size)*math.Cos(phase),
		Y:    h/2 + (h/2-size)*math.Sin(phase),
		Size: size,
	}
}

// renderFrame paints a gradient background with the blob as a filled disc.
func renderFrame(cfg simConfig, b blob) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.width, cfg.height))
	r := b.Size / 2
	for y := 0; y < cfg.height; y++ {
		for x := 0; x < cfg.width; x++ {
			dx, dy := float64(x)+0.5-b.X, float64(y)+0.5-b.Y
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, color.RGBA{R: 40, G: 220, B: 60, A: 255})
				continue
			}
			shade := uint8(32 + 64*y/cfg.height)
			img.SetRGBA(x, y, color.RGBA{R: shade, G: shade, B: shade + 24, A: 255})
		}
	}
	return img
}

func encodeFrame(cfg simConfig, b blob) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, renderFrame(cfg, b), &jpeg.Options{Quality: cfg.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clampFPS(fps int32) int {
	switch {
	case fps <= 0:
		return defaultFPS
	case fps > maxFPS:
		return maxFPS
	default:
		return int(fps)
	}
}

// server hands each connection its own frame loop.
type server struct {
	cfg   simConfig
	start time.Time
	wg    sync.WaitGroup
}

// Purpose: Accept viewers until ctx ends.
// Key aspects: One goroutine per connection; closing the listener unblocks Accept.
// Upstream: main, tests.
// Downstream: server.handle.
func (s *server) serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	addr := conn.RemoteAddr().String()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	hs, err := stream.ReadHandshake(conn)
	if err != nil {
		log.Printf("Sim: %s: handshake: %v", addr, err)
		return
	}
	conn.SetReadDeadline(time.Time{})
	fps := clampFPS(hs.FPS)
	log.Printf("Sim: %s connected, streaming %d fps (requested %d)", addr, fps, hs.FPS)

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	sent := 0
	for {
		payload, err := encodeFrame(s.cfg, blobAt(s.cfg, time.Since(s.start)))
		if err != nil {
			log.Printf("Sim: encode: %v", err)
			return
		}
		if err := stream.WriteFrame(conn, payload); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Printf("Sim: %s gone after %d frames: %v", addr, sent, err)
			}
			return
		}
		sent++
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Purpose: Publish the blob as a points report until ctx ends.
// Key aspects: Fields match the points overlay (x, y, size) under root/key.
// Upstream: main when -broker is set.
// Downstream: mqtt.Client.Publish, feed.EncodeArray.
func publishBlob(ctx context.Context, client mqtt.Client, cfg simConfig, start time.Time, root, key string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		b := blobAt(cfg, time.Since(start))
		for field, v := range map[string]float64{"x": b.X, "y": b.Y, "size": b.Size} {
			payload, err := feed.EncodeArray([]float64{v})
			if err != nil {
				log.Printf("Sim: encode %s: %v", field, err)
				continue
			}
			client.Publish(feed.Topic(root, key, field), 0, false, payload)
		}
	}
}

func connectBroker(host string, port int) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", host, port))
	opts.SetClientID(fmt.Sprintf("framesim-%d", time.Now().Unix()))
	opts.SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("broker %s:%d: connect timeout", host, port)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return client, nil
}

func main() {
	listen := flag.String("listen", fmt.Sprintf(":%d", stream.DefaultPort), "Address to accept viewers on")
	width := flag.Int("width", 320, "Frame width in pixels")
	height := flag.Int("height", 240, "Frame height in pixels")
	quality := flag.Int("quality", 70, "JPEG quality (1-100)")
	period := flag.Duration("period", 8*time.Second, "Time for the blob to complete one loop")
	broker := flag.String("broker", "", "MQTT broker host for the points report (disabled when empty)")
	brokerPort := flag.Int("broker_port", 1883, "MQTT broker port")
	root := flag.String("root", "GRIP", "Report namespace root")
	reportKey := flag.String("report", "blobs", "Report key for the simulated target")
	flag.Parse()

	cfg := simConfig{width: *width, height: *height, quality: *quality, period: *period}
	if cfg.width <= 0 || cfg.height <= 0 || cfg.period <= 0 {
		log.Fatalf("width, height and period must be positive")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatalf("listen %s: %v", *listen, err)
	}
	log.Printf("Sim: serving %dx%d frames on %s", cfg.width, cfg.height, ln.Addr())

	srv := &server{cfg: cfg, start: time.Now()}
	if *broker != "" {
		client, err := connectBroker(*broker, *brokerPort)
		if err != nil {
			log.Printf("Sim: report publishing disabled: %v", err)
		} else {
			defer client.Disconnect(250)
			log.Printf("Sim: publishing %s under %s", *reportKey, feed.TopicFilter(*root))
			go publishBlob(ctx, client, cfg, srv.start, *root, *reportKey, 100*time.Millisecond)
		}
	}

	if err := srv.serve(ctx, ln); err != nil {
		log.Fatalf("serve: %v", err)
	}
	log.Printf("Sim: stopped")
}
