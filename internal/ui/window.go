// Package ui shows frames and analysis overlays in an OpenCV window.
package ui

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Window manages the preview display
type Window struct {
	window     *gocv.Window
	name       string
	lastFrame  time.Time
	frameCount int
	fps        float64
}

// NewWindow creates a new preview window sized for width x height frames
func NewWindow(name string, width, height int) *Window {
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	window := gocv.NewWindow(name)
	// force the window to appear on macOS
	window.ResizeWindow(width, height)
	window.MoveWindow(100, 100)
	return &Window{
		window:    window,
		name:      name,
		lastFrame: time.Now(),
	}
}

// Show displays a frame and updates FPS counter
func (w *Window) Show(frame *gocv.Mat) {
	w.frameCount++
	now := time.Now()

	// Calculate FPS every second
	elapsed := now.Sub(w.lastFrame)
	if elapsed >= time.Second {
		w.fps = float64(w.frameCount) / elapsed.Seconds()
		w.frameCount = 0
		w.lastFrame = now
	}

	// Draw FPS on frame
	fpsText := fmt.Sprintf("FPS: %.1f", w.fps)
	gocv.PutText(frame, fpsText, image.Pt(10, 30), gocv.FontHersheyPlain, 2, colorText, 2)

	w.window.IMShow(*frame)
}

// WaitKey waits for key press, returns key code or -1
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// Key reports whether key (case-insensitive for letters) was pressed
func Key(code int, key byte) bool {
	if code < 0 {
		return false
	}
	c := byte(code & 0xff)
	if key >= 'a' && key <= 'z' {
		return c == key || c == key-'a'+'A'
	}
	return c == key
}

// FPS returns current frames per second
func (w *Window) FPS() float64 {
	return w.fps
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// Close closes the window
func (w *Window) Close() error {
	if w.window != nil {
		return w.window.Close()
	}
	return nil
}
