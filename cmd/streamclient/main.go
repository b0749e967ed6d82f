package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gocv.io/x/gocv"

	"github.com/dudu/livesense/internal/camera"
	"github.com/dudu/livesense/internal/log"
	"github.com/dudu/livesense/internal/remote"
)

var (
	serverHost = flag.String("server", "localhost:8080", "livesense server host:port")
	source     = flag.String("source", "0", "Camera index or video file")
	fps        = flag.Int("fps", 10, "Frames sent per second")
	logLevel   = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Parse()
	log.Setup(log.Options{Level: *logLevel})

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	entry := log.WithComponent("streamclient")

	cam, err := camera.Open(*source, *fps, 640, 480)
	if err != nil {
		return err
	}
	defer cam.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := remote.NewClient(*serverHost)
	client.Start(ctx)
	defer client.Wait()

	go func() {
		for r := range client.OutputResult {
			for _, f := range r.Faces {
				entry.WithField("track", f.TrackID).Infof("frame %d: %s %.2f (%s) emotion=%s",
					r.Index, f.Liveness.Status, f.Liveness.Confidence, f.Liveness.Reason, f.Emotion.Label)
			}
		}
	}()

	frame := gocv.NewMat()
	defer frame.Close()

	ticker := time.NewTicker(time.Second / time.Duration(max(*fps, 1)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			entry.Info("shutting down...")
			return nil
		case <-ticker.C:
		}

		if !cam.Read(&frame) {
			if !cam.Live() {
				entry.Info("end of video")
				stop()
				return nil
			}
			continue
		}
		if frame.Empty() {
			continue
		}

		img, err := frame.ToImage()
		if err != nil {
			entry.Warnf("frame conversion failed: %v", err)
			continue
		}

		select {
		case client.InputFrames <- img:
		default:
			entry.Debug("client busy, frame skipped")
		}
	}
}
