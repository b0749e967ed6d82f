package pipeline

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dudu/livesense/internal/detector"
)

// YuNet wraps OpenCV's FaceDetectorYN behind the analysis detector interface
type YuNet struct {
	detector gocv.FaceDetectorYN
	minScore float32
	size     image.Point
	mu       sync.Mutex
}

// NewYuNet loads a YuNet ONNX model. NMS runs inside OpenCV.
func NewYuNet(modelPath string, minScore, nmsThreshold float32) (*YuNet, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("YuNet model not found: %w", err)
	}

	size := image.Pt(320, 240)
	fd := gocv.NewFaceDetectorYNWithParams(
		modelPath,
		"",
		size,
		minScore,
		nmsThreshold,
		5000,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &YuNet{detector: fd, minScore: minScore, size: size}, nil
}

// Detect converts img to a BGR Mat and runs the detector at its native size
func (y *YuNet) Detect(img image.Image) ([]detector.FaceBox, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	return y.DetectMat(mat)
}

// DetectMat runs on a BGR Mat without conversion
func (y *YuNet) DetectMat(mat gocv.Mat) ([]detector.FaceBox, error) {
	y.mu.Lock()
	defer y.mu.Unlock()

	size := image.Pt(mat.Cols(), mat.Rows())
	if size != y.size {
		y.detector.SetInputSize(size)
		y.size = size
	}

	faces := gocv.NewMat()
	defer faces.Close()
	y.detector.Detect(mat, &faces)

	if faces.Empty() {
		return nil, nil
	}
	if faces.Cols() != detector.YuNetColumns {
		return nil, fmt.Errorf("%w: YuNet row width %d", detector.ErrMalformedOutput, faces.Cols())
	}

	data := make([]float32, 0, faces.Rows()*faces.Cols())
	for r := 0; r < faces.Rows(); r++ {
		for c := 0; c < faces.Cols(); c++ {
			data = append(data, faces.GetFloatAt(r, c))
		}
	}
	return detector.ParseYuNet(data, y.minScore)
}

func (y *YuNet) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.detector.Close()
	return nil
}
