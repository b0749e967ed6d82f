// Package config loads runtime settings from defaults, an optional JSON
// file, an optional .env file and LIVESENSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"

	"github.com/dudu/livesense/internal/liveness"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Models holds model file locations
type Models struct {
	Detector   string `json:"detector"`
	YuNet      string `json:"yunet"`
	Mesh       string `json:"mesh"`
	Emotion    string `json:"emotion"`
	ORTLibrary string `json:"ortLibrary"`
	EnableGPU  bool   `json:"enableGPU"`
}

// Detection holds detector and per-frame settings
type Detection struct {
	Backend              string  `json:"backend" validate:"oneof=auto anchor native"`
	MinConfidence        float32 `json:"minFaceDetectionConfidence" validate:"gt=0,lt=1"`
	NMSThreshold         float32 `json:"nmsThreshold" validate:"gt=0,lte=1"`
	MaxFaces             int     `json:"maxFaces" validate:"min=1"`
	SizeEncoding         string  `json:"sizeEncoding" validate:"oneof=exponential linear"`
	BoxLayout            string  `json:"boxLayout" validate:"oneof=xywh yxhw"`
	LandmarkDensity      int     `json:"landmarkDensity" validate:"oneof=68 106 468"`
	MinEmotionConfidence float32 `json:"minEmotionConfidence" validate:"gte=0,lte=1"`
	ProcessWidth         int     `json:"processWidth" validate:"min=16"`
	ProcessHeight        int     `json:"processHeight" validate:"min=16"`
}

// Liveness mirrors liveness.Policy with millisecond durations
type Liveness struct {
	EARClosedThreshold    float32 `json:"earClosedThreshold" validate:"gt=0,lt=1"`
	BlinkMinFrames        int     `json:"blinkMinFrames" validate:"min=1"`
	BlinkMaxFrames        int     `json:"blinkMaxFrames" validate:"gtefield=BlinkMinFrames"`
	CalibrationFrames     int     `json:"calibrationFrames" validate:"min=0"`
	HeadYawChangeMinDeg   float32 `json:"headYawChangeMinDeg" validate:"gt=0"`
	HeadPitchChangeMinDeg float32 `json:"headPitchChangeMinDeg" validate:"gt=0"`
	PoseSmoothingAlpha    float32 `json:"poseSmoothingAlpha" validate:"gt=0,lte=1"`
	MovementDebounceMs    int     `json:"movementDebounceMs" validate:"min=0"`
	WindowMs              int     `json:"livenessWindowMs" validate:"min=1"`
	ProbationMs           int     `json:"probationMs" validate:"min=0"`
	InactivityResetFactor float32 `json:"inactivityResetFactor" validate:"gte=1"`
}

// Server holds service settings
type Server struct {
	Addr         string  `json:"addr" validate:"required"`
	MetricsAddr  string  `json:"metricsAddr"`
	MaxStreamFPS float64 `json:"maxStreamFPS" validate:"gt=0"`
	BodyLimitMB  int     `json:"bodyLimitMB" validate:"min=1"`
	// MaxImageSide bounds the declared width and height of uploaded images
	MaxImageSide int     `json:"maxImageSide" validate:"min=16"`
}

// Log holds logger settings
type Log struct {
	Level string `json:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	File  string `json:"file"`
}

// Config is the complete runtime configuration
type Config struct {
	Models    Models    `json:"models"`
	Detection Detection `json:"detection"`
	Liveness  Liveness  `json:"liveness"`
	Server    Server    `json:"server"`
	Log       Log       `json:"log"`
}

// Default returns the built-in settings
func Default() *Config {
	p := liveness.DefaultPolicy()
	return &Config{
		Models: Models{
			Detector: "models/face_detection_short_range.onnx",
			YuNet:    "models/face_detection_yunet_2023mar.onnx",
			Mesh:     "models/face_mesh.onnx",
			Emotion:  "models/emotion.onnx",
		},
		Detection: Detection{
			Backend:              "auto",
			MinConfidence:        0.5,
			NMSThreshold:         0.3,
			MaxFaces:             2,
			SizeEncoding:         "exponential",
			BoxLayout:            "xywh",
			LandmarkDensity:      468,
			MinEmotionConfidence: 0.20,
			ProcessWidth:         320,
			ProcessHeight:        240,
		},
		Liveness: Liveness{
			EARClosedThreshold:    p.EARClosedThreshold,
			BlinkMinFrames:        p.BlinkMinFrames,
			BlinkMaxFrames:        p.BlinkMaxFrames,
			CalibrationFrames:     p.CalibrationFrames,
			HeadYawChangeMinDeg:   p.HeadYawChangeMinDeg,
			HeadPitchChangeMinDeg: p.HeadPitchChangeMinDeg,
			PoseSmoothingAlpha:    p.PoseSmoothingAlpha,
			MovementDebounceMs:    int(p.MovementDebounce.Milliseconds()),
			WindowMs:              int(p.Window.Milliseconds()),
			ProbationMs:           int(p.Probation.Milliseconds()),
			InactivityResetFactor: p.InactivityFactor,
		},
		Server: Server{
			Addr:         ":8080",
			MetricsAddr:  ":9090",
			MaxStreamFPS: 15,
			BodyLimitMB:  10,
			MaxImageSide: 4096,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty; envFiles default to
// ".env" and missing env files are ignored. Variables already set in the
// environment win over env files.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field constraint
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Policy converts the liveness section
func (c *Config) Policy() liveness.Policy {
	l := c.Liveness
	return liveness.Policy{
		EARClosedThreshold:    l.EARClosedThreshold,
		BlinkMinFrames:        l.BlinkMinFrames,
		BlinkMaxFrames:        l.BlinkMaxFrames,
		CalibrationFrames:     l.CalibrationFrames,
		HeadYawChangeMinDeg:   l.HeadYawChangeMinDeg,
		HeadPitchChangeMinDeg: l.HeadPitchChangeMinDeg,
		PoseSmoothingAlpha:    l.PoseSmoothingAlpha,
		MovementDebounce:      time.Duration(l.MovementDebounceMs) * time.Millisecond,
		Window:                time.Duration(l.WindowMs) * time.Millisecond,
		Probation:             time.Duration(l.ProbationMs) * time.Millisecond,
		InactivityFactor:      l.InactivityResetFactor,
	}
}

// JSON renders the configuration for logging
func (c *Config) JSON() string {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

var envVars = []envVar{
	{"LIVESENSE_DETECTOR_MODEL", func(c *Config, v string) error { c.Models.Detector = v; return nil }},
	{"LIVESENSE_YUNET_MODEL", func(c *Config, v string) error { c.Models.YuNet = v; return nil }},
	{"LIVESENSE_MESH_MODEL", func(c *Config, v string) error { c.Models.Mesh = v; return nil }},
	{"LIVESENSE_EMOTION_MODEL", func(c *Config, v string) error { c.Models.Emotion = v; return nil }},
	{"LIVESENSE_ORT_LIBRARY", func(c *Config, v string) error { c.Models.ORTLibrary = v; return nil }},
	{"LIVESENSE_ENABLE_GPU", func(c *Config, v string) error { return parseBool(v, &c.Models.EnableGPU) }},
	{"LIVESENSE_BACKEND", func(c *Config, v string) error { c.Detection.Backend = v; return nil }},
	{"LIVESENSE_MIN_CONFIDENCE", func(c *Config, v string) error { return parseFloat32(v, &c.Detection.MinConfidence) }},
	{"LIVESENSE_MAX_FACES", func(c *Config, v string) error { return parseInt(v, &c.Detection.MaxFaces) }},
	{"LIVESENSE_SIZE_ENCODING", func(c *Config, v string) error { c.Detection.SizeEncoding = v; return nil }},
	{"LIVESENSE_BOX_LAYOUT", func(c *Config, v string) error { c.Detection.BoxLayout = v; return nil }},
	{"LIVESENSE_LANDMARK_DENSITY", func(c *Config, v string) error { return parseInt(v, &c.Detection.LandmarkDensity) }},
	{"LIVESENSE_PROBATION_MS", func(c *Config, v string) error { return parseInt(v, &c.Liveness.ProbationMs) }},
	{"LIVESENSE_SERVER_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"LIVESENSE_METRICS_ADDR", func(c *Config, v string) error { c.Server.MetricsAddr = v; return nil }},
	{"LIVESENSE_MAX_STREAM_FPS", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Server.MaxStreamFPS = f
		return nil
	}},
	{"LIVESENSE_MAX_IMAGE_SIDE", func(c *Config, v string) error { return parseInt(v, &c.Server.MaxImageSide) }},
	{"LIVESENSE_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"LIVESENSE_LOG_FILE", func(c *Config, v string) error { c.Log.File = v; return nil }},
}

func (c *Config) applyEnv() error {
	for _, e := range envVars {
		v, ok := os.LookupEnv(e.name)
		if !ok || v == "" {
			continue
		}
		if err := e.set(c, v); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", e.name, v, err)
		}
	}
	return nil
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseFloat32(v string, dst *float32) error {
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return err
	}
	*dst = float32(f)
	return nil
}
