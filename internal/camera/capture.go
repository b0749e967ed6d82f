package camera

import (
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// Capture reads frames from a webcam or a video file
type Capture struct {
	source    string
	webcam    *gocv.VideoCapture
	live      bool
	targetFPS int
	width     int
	height    int
	mu        sync.Mutex
}

// Open opens source: a device index ("0") or a video file path. Resolution
// and fps are only requested from devices.
func Open(source string, targetFPS, width, height int) (*Capture, error) {
	if id, err := strconv.Atoi(source); err == nil {
		return NewCaptureWithResolution(id, targetFPS, width, height)
	}

	video, err := gocv.VideoCaptureFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", source, err)
	}
	return newCapture(source, video, false, targetFPS), nil
}

// NewCapture creates a new camera capture from device with default 720p resolution
func NewCapture(deviceID int, targetFPS int) (*Capture, error) {
	return NewCaptureWithResolution(deviceID, targetFPS, 1280, 720)
}

// NewCaptureWithResolution creates a new camera capture with specified resolution
func NewCaptureWithResolution(deviceID int, targetFPS int, width, height int) (*Capture, error) {
	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", deviceID, err)
	}

	if width > 0 && height > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	if targetFPS > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(targetFPS))
	}

	return newCapture(strconv.Itoa(deviceID), webcam, true, targetFPS), nil
}

func newCapture(source string, vc *gocv.VideoCapture, live bool, targetFPS int) *Capture {
	// camera may not support the requested resolution
	return &Capture{
		source:    source,
		webcam:    vc,
		live:      live,
		targetFPS: targetFPS,
		width:     int(vc.Get(gocv.VideoCaptureFrameWidth)),
		height:    int(vc.Get(gocv.VideoCaptureFrameHeight)),
	}
}

// Read captures a frame into the provided Mat. It returns false at the end
// of a file or when the device fails.
func (c *Capture) Read(frame *gocv.Mat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.webcam == nil {
		return false
	}

	return c.webcam.Read(frame)
}

// Live reports whether the source is a device rather than a file
func (c *Capture) Live() bool {
	return c.live
}

func (c *Capture) Source() string {
	return c.source
}

// FPS returns the source frame rate, falling back to the requested one
func (c *Capture) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.webcam != nil {
		if fps := c.webcam.Get(gocv.VideoCaptureFPS); fps > 0 {
			return fps
		}
	}
	return float64(c.targetFPS)
}

// Width returns frame width
func (c *Capture) Width() int {
	return c.width
}

// Height returns frame height
func (c *Capture) Height() int {
	return c.height
}

// Close releases the camera
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.webcam != nil {
		err := c.webcam.Close()
		c.webcam = nil
		return err
	}
	return nil
}
