// Package server exposes face analysis over HTTP and WebSocket.
package server

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/dudu/livesense/internal/analysis"
	"github.com/dudu/livesense/internal/log"
	"github.com/dudu/livesense/internal/metrics"
)

// Analyzer is the analysis backend served by the handlers
type Analyzer interface {
	NewSession(video bool) *analysis.Session
	Analyze(sess *analysis.Session, img image.Image) (*analysis.Frame, error)
}

// Options tunes the service
type Options struct {
	// MaxStreamFPS caps analyzed frames per stream; excess frames are dropped
	MaxStreamFPS float64
	BodyLimit    int
	// MaxImageSide rejects images whose declared width or height is larger
	MaxImageSide int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultOptions returns the standard service limits
func DefaultOptions() Options {
	return Options{
		MaxStreamFPS: 15,
		BodyLimit:    10 * 1024 * 1024,
		MaxImageSide: 4096,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is the fiber application plus its dependencies
type Server struct {
	app      *fiber.App
	analyzer Analyzer
	metrics  *metrics.Metrics
	opts     Options
	log      *logrus.Entry
}

// New builds the app and registers all routes
func New(analyzer Analyzer, m *metrics.Metrics, opts Options) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "livesense",
		BodyLimit:             opts.BodyLimit,
		StrictRouting:         true,
		CaseSensitive:         true,
		DisableStartupMessage: true,
		JSONEncoder:           jsoniter.Marshal,
		JSONDecoder:           jsoniter.Unmarshal,
	})

	s := &Server{
		app:      app,
		analyzer: analyzer,
		metrics:  m,
		opts:     opts,
		log:      log.WithComponent("server"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.health)

	v1 := s.app.Group("/v1")
	v1.Post("/analyze", s.analyze)

	v1.Use("/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/stream", websocket.New(s.stream))
}

// App exposes the fiber app for tests and embedding
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown
func (s *Server) Listen(addr string) error {
	s.log.Infof("listening on %s", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops the listener and waits for active requests
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(HealthDTO{Status: "ok"})
}

// analyze handles a single still image. Liveness is always NOT_LIVE here
// since one image carries no temporal cues.
func (s *Server) analyze(c *fiber.Ctx) error {
	img, err := decodeImage(c.Body(), s.opts.MaxImageSide)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorDTO{Error: err.Error()})
	}

	sess := s.analyzer.NewSession(false)
	frame, err := s.analyzer.Analyze(sess, img)
	if err != nil {
		s.log.WithField("session", sess.ID).Warnf("analysis failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorDTO{Error: err.Error()})
	}

	return c.JSON(NewFrameDTO(sess.ID, frame, c.QueryBool("landmarks")))
}

// stream runs one video session per connection: binary frames in, JSON
// results out. The text message "reset" clears the session.
func (s *Server) stream(c *websocket.Conn) {
	sess := s.analyzer.NewSession(true)
	entry := s.log.WithField("session", sess.ID)
	limiter := rate.NewLimiter(rate.Limit(s.opts.MaxStreamFPS), 1)

	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	entry.Info("stream connected")
	defer entry.Info("stream disconnected")

	c.SetPingHandler(func(data string) error {
		if err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second)); err != nil {
			entry.Errorf("Error sending pong: %v", err)
		}
		return nil
	})

	for {
		if err := c.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
			entry.Errorf("Error setting read deadline: %v", err)
			return
		}

		messageType, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				entry.Errorf("stream error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if string(message) == "reset" {
				sess.Reset()
				entry.Debug("session reset")
			}
			continue
		case websocket.BinaryMessage:
		default:
			entry.Warnf("Received unexpected message type: %d", messageType)
			continue
		}

		if !limiter.Allow() {
			s.metrics.FrameDropped()
			continue
		}

		var reply any
		img, err := decodeImage(message, s.opts.MaxImageSide)
		if err == nil {
			var frame *analysis.Frame
			frame, err = s.analyzer.Analyze(sess, img)
			if err == nil {
				reply = NewFrameDTO(sess.ID, frame, false)
			}
		}
		if err != nil {
			entry.Warnf("frame rejected: %v", err)
			reply = ErrorDTO{Error: err.Error()}
		}

		if err := c.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
			entry.Errorf("Error setting write deadline: %v", err)
			return
		}
		if err := c.WriteJSON(reply); err != nil {
			entry.Errorf("Error writing JSON response: %v", err)
			return
		}
	}
}

// decodeImage reads the header first so an oversized declared frame is
// rejected before any pixel buffer is allocated. maxSide <= 0 disables the check.
func decodeImage(data []byte, maxSide int) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if maxSide > 0 && (cfg.Width > maxSide || cfg.Height > maxSide) {
		return nil, fmt.Errorf("image too large: %dx%d exceeds %dx%d", cfg.Width, cfg.Height, maxSide, maxSide)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
