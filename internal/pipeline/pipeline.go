// Package pipeline assembles the analysis models from configuration and runs
// them on OpenCV frames.
package pipeline

import (
	"errors"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/dudu/livesense/internal/analysis"
	"github.com/dudu/livesense/internal/config"
	"github.com/dudu/livesense/internal/detector"
	"github.com/dudu/livesense/internal/emotion"
	"github.com/dudu/livesense/internal/inference"
	"github.com/dudu/livesense/internal/landmark"
	"github.com/dudu/livesense/internal/log"
	"github.com/dudu/livesense/internal/metrics"
)

// Pipeline owns the models and the processing resolution
type Pipeline struct {
	analyzer *analysis.Analyzer
	backend  Backend
	procW    int
	procH    int
	log      *logrus.Entry
}

// New initializes ONNX Runtime and loads every configured model. Stages
// already built are closed when a later one fails.
func New(cfg *config.Config, m *metrics.Metrics) (*Pipeline, error) {
	logger := log.WithComponent("pipeline")

	backend, err := ResolveBackend(Backend(cfg.Detection.Backend), cfg.Models)
	if err != nil {
		return nil, err
	}

	if err := inference.Initialize(cfg.Models.ORTLibrary); err != nil {
		return nil, fmt.Errorf("failed to initialize inference: %w", err)
	}
	sessOpts := inference.SessionOptions{UseCoreML: cfg.Models.EnableGPU}

	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		_ = inference.Shutdown()
	}

	det, err := newDetector(backend, cfg, sessOpts)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	closers = append(closers, det.Close)
	logger.WithField("backend", backend).Info("detector ready")

	opts := []analysis.Option{
		analysis.WithPolicy(cfg.Policy()),
		analysis.WithMaxFaces(cfg.Detection.MaxFaces),
		analysis.WithMetrics(m),
	}

	if cfg.Models.Mesh != "" {
		sess, err := inference.Load(cfg.Models.Mesh, sessOpts)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to load face mesh: %w", err)
		}
		mesh, err := landmark.NewMesh(sess, cfg.Detection.LandmarkDensity)
		if err != nil {
			sess.Close()
			cleanup()
			return nil, fmt.Errorf("failed to create face mesh: %w", err)
		}
		closers = append(closers, mesh.Close)
		opts = append(opts, analysis.WithLandmarks(mesh))
	} else {
		log.Warn(log.Fields{"component": "pipeline"}, "no face mesh model, liveness disabled")
	}

	if cfg.Models.Emotion != "" {
		sess, err := inference.Load(cfg.Models.Emotion, sessOpts)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to load emotion model: %w", err)
		}
		rec, err := emotion.NewRecognizer(sess, cfg.Detection.MinEmotionConfidence)
		if err != nil {
			sess.Close()
			cleanup()
			return nil, fmt.Errorf("failed to create emotion recognizer: %w", err)
		}
		closers = append(closers, rec.Close)
		opts = append(opts, analysis.WithEmotion(rec))
	}

	return &Pipeline{
		analyzer: analysis.New(det, opts...),
		backend:  backend,
		procW:    cfg.Detection.ProcessWidth,
		procH:    cfg.Detection.ProcessHeight,
		log:      logger,
	}, nil
}

func newDetector(backend Backend, cfg *config.Config, sessOpts inference.SessionOptions) (analysis.FaceDetector, error) {
	d := cfg.Detection
	if backend == BackendNative {
		return NewYuNet(cfg.Models.YuNet, d.MinConfidence, d.NMSThreshold)
	}

	enc, err := detector.ParseSizeEncoding(d.SizeEncoding)
	if err != nil {
		return nil, err
	}
	layout, err := detector.ParseBoxLayout(d.BoxLayout)
	if err != nil {
		return nil, err
	}

	sess, err := inference.Load(cfg.Models.Detector, sessOpts)
	if err != nil {
		return nil, err
	}

	opts := detector.DefaultOptions()
	opts.Decoder.MinScore = d.MinConfidence
	opts.Decoder.SizeEncoding = enc
	opts.Decoder.Layout = layout
	opts.NMSThreshold = d.NMSThreshold
	opts.TopK = d.MaxFaces

	det, err := detector.New(sess, opts)
	if err != nil {
		sess.Close()
		return nil, err
	}
	return det, nil
}

// Backend is the resolved detector backend
func (p *Pipeline) Backend() Backend {
	return p.backend
}

// Analyzer exposes the image-level analyzer, e.g. for the HTTP service
func (p *Pipeline) Analyzer() *analysis.Analyzer {
	return p.analyzer
}

// NewSession starts a session; video enables temporal liveness
func (p *Pipeline) NewSession(video bool) *analysis.Session {
	return p.analyzer.NewSession(video)
}

// Process analyzes a BGR frame. Frames larger than the processing
// resolution are downscaled first and results are mapped back to frame
// coordinates.
func (p *Pipeline) Process(frame gocv.Mat, sess *analysis.Session) (*analysis.Frame, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	scale := p.scaleFor(frame.Cols(), frame.Rows())
	src := frame
	if scale < 1 {
		resized := gocv.NewMat()
		defer resized.Close()
		size := image.Pt(int(float32(frame.Cols())*scale+0.5), int(float32(frame.Rows())*scale+0.5))
		gocv.Resize(frame, &resized, size, 0, 0, gocv.InterpolationArea)
		src = resized
	}

	img, err := src.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}

	result, err := p.analyzer.Analyze(sess, img)
	if err != nil {
		return result, err
	}

	if scale < 1 {
		inv := 1 / scale
		result.Width, result.Height = frame.Cols(), frame.Rows()
		for i := range result.Faces {
			result.Faces[i].Box = result.Faces[i].Box.Scale(inv)
		}
	}
	return result, nil
}

// ProcessImage analyzes an already decoded image at its own resolution
func (p *Pipeline) ProcessImage(img image.Image, sess *analysis.Session) (*analysis.Frame, error) {
	return p.analyzer.Analyze(sess, img)
}

func (p *Pipeline) scaleFor(w, h int) float32 {
	if p.procW <= 0 || p.procH <= 0 || w <= 0 || h <= 0 {
		return 1
	}
	s := min(float32(p.procW)/float32(w), float32(p.procH)/float32(h))
	return min(s, 1)
}

// Close releases all models and the runtime
func (p *Pipeline) Close() error {
	var errs []error
	if p.analyzer != nil {
		if err := p.analyzer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := inference.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	p.log.Debug("models released")
	return errors.Join(errs...)
}
