package landmark

import (
	"errors"
	"fmt"
	"image"

	"github.com/dudu/livesense/internal/detector"
	"github.com/dudu/livesense/internal/imgproc"
	"github.com/dudu/livesense/internal/inference"
)

// ErrUnexpectedCount is returned when the mesh model yields a different number of points than configured
var ErrUnexpectedCount = errors.New("unexpected landmark count")

// OutputFormat describes how a landmark model lays out its points
type OutputFormat struct {
	Points     int
	// Values per point: 2 for (x, y), 3 for (x, y, z)
	Values     int
	// Normalized coordinates are in [-1, 1] over the model input, otherwise
	// they are model-input pixels
	Normalized bool
}

// FormatFor returns the layout of the standard model for a landmark density:
// the 468-point face mesh emits pixel triples, the 106-point 2d106det model
// normalized pairs and the 68-point 1k3d68 model normalized triples.
func FormatFor(density int) OutputFormat {
	switch density {
	case MeshSize:
		return OutputFormat{Points: density, Values: 3}
	case 106:
		return OutputFormat{Points: density, Values: 2, Normalized: true}
	default:
		return OutputFormat{Points: density, Values: 3, Normalized: true}
	}
}

// Mesh runs a face-mesh model on a face crop
type Mesh struct {
	engine inference.Engine
	input  inference.ImageInput
	format OutputFormat
	expand float32
}

// NewMesh creates a mesh stage that expects the model to produce expected
// points in the standard layout for that density
func NewMesh(engine inference.Engine, expected int) (*Mesh, error) {
	return NewMeshWithFormat(engine, FormatFor(expected))
}

// NewMeshWithFormat creates a mesh stage for an explicit output layout
func NewMeshWithFormat(engine inference.Engine, format OutputFormat) (*Mesh, error) {
	input, err := inference.InputDims(engine.InputShape())
	if err != nil {
		return nil, fmt.Errorf("unsupported mesh input: %w", err)
	}
	if format.Points <= 0 {
		return nil, fmt.Errorf("invalid landmark count %d", format.Points)
	}
	if format.Values < 2 {
		return nil, fmt.Errorf("landmarks need at least 2 values, got %d", format.Values)
	}
	return &Mesh{
		engine: engine,
		input:  input,
		format: format,
		expand: 1.5,
	}, nil
}

// Landmarks extracts mesh points for face in img's pixel coordinates. The
// points are returned alongside ErrUnexpectedCount when the model output
// does not hold the configured number of points.
func (m *Mesh) Landmarks(img image.Image, face detector.FaceBox) ([]detector.Point, error) {
	roi := m.region(img.Bounds(), face)
	if roi.Empty() {
		return nil, fmt.Errorf("face region %v outside image", face.Rect())
	}

	crop := imgproc.Resize(imgproc.Crop(img, roi), m.input.Width, m.input.Height)
	layout := imgproc.NHWC
	if m.input.ChannelsFirst {
		layout = imgproc.NCHW
	}

	outputs, err := m.engine.Run(imgproc.ToTensor(crop, layout, imgproc.UnitNorm))
	if err != nil {
		return nil, fmt.Errorf("landmark inference failed: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("landmark model returned no outputs")
	}

	points := m.postprocess(outputs[0].Data, roi, img.Bounds())
	if len(points) != m.format.Points {
		return points, fmt.Errorf("%w: got %d, expected %d", ErrUnexpectedCount, len(points), m.format.Points)
	}
	return points, nil
}

// region returns the square crop around the face, expanded and clamped to bounds
func (m *Mesh) region(bounds image.Rectangle, face detector.FaceBox) image.Rectangle {
	c := face.Center()
	side := max(face.Width, face.Height) * m.expand
	half := side / 2
	r := image.Rect(int(c.X-half), int(c.Y-half), int(c.X+half+0.5), int(c.Y+half+0.5))
	return r.Intersect(bounds)
}

// postprocess maps model points to image pixels. Normalized values in
// [-1, 1] are first scaled to model-input pixels.
func (m *Mesh) postprocess(output []float32, roi, bounds image.Rectangle) []detector.Point {
	stride := m.format.Values
	switch len(output) {
	case m.format.Points * 2:
		stride = 2
	case m.format.Points * 3:
		stride = 3
	}

	halfW := float32(m.input.Width) / 2
	halfH := float32(m.input.Height) / 2
	sx := float32(roi.Dx()) / float32(m.input.Width)
	sy := float32(roi.Dy()) / float32(m.input.Height)

	n := len(output) / stride
	points := make([]detector.Point, n)
	for i := 0; i < n; i++ {
		mx, my := output[i*stride], output[i*stride+1]
		if m.format.Normalized {
			mx = (mx + 1) * halfW
			my = (my + 1) * halfH
		}
		x := float32(roi.Min.X) + mx*sx
		y := float32(roi.Min.Y) + my*sy
		points[i] = detector.Point{
			X: min(max(x, float32(bounds.Min.X)), float32(bounds.Max.X)),
			Y: min(max(y, float32(bounds.Min.Y)), float32(bounds.Max.Y)),
		}
	}
	return points
}

// Close releases the engine
func (m *Mesh) Close() error {
	return m.engine.Close()
}
