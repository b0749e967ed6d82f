package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/dudu/livesense/internal/analysis"
	"github.com/dudu/livesense/internal/camera"
	"github.com/dudu/livesense/internal/config"
	"github.com/dudu/livesense/internal/log"
	"github.com/dudu/livesense/internal/pipeline"
	"github.com/dudu/livesense/internal/server"
	"github.com/dudu/livesense/internal/ui"
)

func init() {
	// Lock the main goroutine to the main OS thread.
	// This is required on macOS for OpenCV's highgui (window creation).
	runtime.LockOSThread()
}

type Flags struct {
	ConfigPath string
	Source     string
	Image      string
	Backend    string
	Preview    bool
	Landmarks  bool
	JSON       bool
	TargetFPS  int
}

func main() {
	flags := parseFlags()

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() Flags {
	f := Flags{}

	flag.StringVar(&f.ConfigPath, "config", "", "JSON configuration file")
	flag.StringVar(&f.Source, "source", "0", "Camera index or video file")
	flag.StringVar(&f.Source, "s", "0", "Camera index or video file (shorthand)")
	flag.StringVar(&f.Image, "image", "", "Analyze a single still image and exit")
	flag.StringVar(&f.Backend, "backend", "", "Detector backend: auto, anchor or native (overrides config)")
	flag.StringVar(&f.Backend, "b", "", "Detector backend (shorthand)")
	flag.BoolVar(&f.Preview, "preview", true, "Show preview window")
	flag.BoolVar(&f.Preview, "p", true, "Show preview window (shorthand)")
	flag.BoolVar(&f.Landmarks, "landmarks", false, "Draw landmarks in the preview")
	flag.BoolVar(&f.JSON, "json", false, "Print every frame result as a JSON line")
	flag.IntVar(&f.TargetFPS, "fps", 30, "Target frames per second")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "livesense - face detection, emotion and liveness analysis\n\n")
		fmt.Fprintf(os.Stderr, "Usage: livesense [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  livesense --source 0\n")
		fmt.Fprintf(os.Stderr, "  livesense --source clip.mp4 --backend native --json\n")
		fmt.Fprintf(os.Stderr, "  livesense --image face.jpg\n")
	}

	flag.Parse()
	return f
}

func run(f Flags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.Backend != "" {
		cfg.Detection.Backend = strings.ToLower(f.Backend)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := log.Setup(log.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	entry := logger.WithField("component", "main")
	log.Debug(log.Fields{"component": "main", "config": cfg.JSON()}, "configuration loaded")

	entry.Infof("loading models (backend: %s)...", cfg.Detection.Backend)
	p, err := pipeline.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer p.Close()
	entry.WithField("backend", p.Backend()).Info("models loaded")

	if f.Image != "" {
		return analyzeImage(p, f.Image)
	}
	return analyzeStream(p, f, entry)
}

// analyzeImage handles a still image: liveness is always judged static
func analyzeImage(p *pipeline.Pipeline, path string) error {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		return fmt.Errorf("failed to load image: %s", path)
	}
	defer img.Close()

	sess := p.NewSession(false)
	frame, err := p.Process(img, sess)
	if err != nil {
		return err
	}
	return printFrame(sess, frame, true)
}

func analyzeStream(p *pipeline.Pipeline, f Flags, entry *logrus.Entry) error {
	cam, err := camera.Open(f.Source, f.TargetFPS, 1280, 720)
	if err != nil {
		return err
	}
	defer cam.Close()
	entry.Infof("source %s opened: %dx%d", cam.Source(), cam.Width(), cam.Height())

	var window *ui.Window
	if f.Preview {
		window = ui.NewWindow("livesense", cam.Width(), cam.Height())
		defer window.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sess := p.NewSession(true)
	frame := gocv.NewMat()
	defer frame.Close()

	entry.Info("running... press 'q' to quit, 'r' to reset liveness")

	for {
		select {
		case <-sigChan:
			entry.Info("shutting down...")
			return nil
		default:
		}

		if !cam.Read(&frame) {
			if !cam.Live() {
				entry.Info("end of video")
				return nil
			}
			continue
		}
		if frame.Empty() {
			continue
		}

		result, err := p.Process(frame, sess)
		if err != nil {
			entry.Warnf("frame %d: %v", sess.Frames()-1, err)
		}
		if f.JSON && result != nil {
			if err := printFrame(sess, result, false); err != nil {
				return err
			}
		}

		if window == nil {
			continue
		}
		ui.DrawFrame(&frame, result, f.Landmarks)
		if result != nil {
			ui.DrawTiming(&frame, result.Timing)
		}
		window.Show(&frame)

		// WaitKey must be called to process window events on macOS
		key := window.WaitKey(1)
		switch {
		case ui.Key(key, 'q') || key == 27:
			entry.Info("quitting...")
			return nil
		case ui.Key(key, 'r'):
			sess.Reset()
			entry.Info("liveness reset")
		}
	}
}

func printFrame(sess *analysis.Session, frame *analysis.Frame, indent bool) error {
	dto := server.NewFrameDTO(sess.ID, frame, false)
	var (
		out []byte
		err error
	)
	if indent {
		out, err = jsoniter.MarshalIndent(dto, "", "  ")
	} else {
		out, err = jsoniter.Marshal(dto)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
