// Package mlcontract defines the pluggable interfaces a detector/embedder
// backend must satisfy: the engine core never hardcodes a specific face
// detector or a specific CLIP-style model. Grounded on the teacher's
// mageagent_client.go "zero hardcoded models" philosophy (dynamic model
// selection, never a baked-in model id) — re-expressed here as a local Go
// interface boundary instead of an HTTP client tied to one vendor's API,
// since the spec calls for a swappable backend, not a specific remote
// service.
package mlcontract

import (
	"context"
	"time"
)

// FaceDetection is one detected face, in the bounding-box convention the
// storage layer persists (top/right/bottom/left, normalized 0..1).
type FaceDetection struct {
	Confidence float64
	Top, Right, Bottom, Left float64
	Embedding  []float32
}

// Detector finds faces in an image and returns each one's bounding box,
// confidence, and embedding in a single pass, mirroring how a real
// detector amortizes the forward pass across both tasks.
type Detector interface {
	DetectFaces(ctx context.Context, imagePath string) ([]FaceDetection, error)
	Version() string
}

// Embedder produces a semantic (CLIP-style) embedding for an image or
// free text, tagged with the model name that produced it so callers can
// enforce the project's canonical-model invariant before persisting.
type Embedder interface {
	EmbedImage(ctx context.Context, imagePath string) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dim() int
}

// PollingConfig governs any backend implemented as submit-then-poll
// (a local model server that queues inference requests), the pattern
// the teacher used for every MageAgent call: submit a task, then poll
// status until it completes or times out.
type PollingConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultPollingConfig matches the teacher's constants, a reasonable
// default for a local inference server under light concurrent load.
func DefaultPollingConfig() PollingConfig {
	return PollingConfig{Interval: 2 * time.Second, Timeout: 120 * time.Second}
}
