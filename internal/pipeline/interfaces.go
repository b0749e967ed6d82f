package pipeline

import (
	"fmt"

	"github.com/dudu/livesense/internal/config"
)

// Backend selects the face detector implementation
type Backend string

const (
	// BackendAuto uses the anchor model when one is configured, YuNet otherwise
	BackendAuto Backend = "auto"
	// BackendAnchor is the BlazeFace-style ONNX detector
	BackendAnchor Backend = "anchor"
	// BackendNative is OpenCV's YuNet FaceDetectorYN
	BackendNative Backend = "native"
)

// ResolveBackend turns auto into a concrete backend and checks that the
// chosen one has a model path
func ResolveBackend(b Backend, models config.Models) (Backend, error) {
	switch b {
	case BackendAuto, "":
		if models.Detector != "" {
			return BackendAnchor, nil
		}
		if models.YuNet != "" {
			return BackendNative, nil
		}
		return "", fmt.Errorf("no detector model configured")
	case BackendAnchor:
		if models.Detector == "" {
			return "", fmt.Errorf("anchor backend requires a detector model")
		}
		return b, nil
	case BackendNative:
		if models.YuNet == "" {
			return "", fmt.Errorf("native backend requires a YuNet model")
		}
		return b, nil
	default:
		return "", fmt.Errorf("invalid backend: %s (use 'auto', 'anchor' or 'native')", b)
	}
}
