package inference

import "sync"

// noopBackend is the detection backend for hosts without a model runtime.
// It accepts any known variant and returns no detections, passing the frame
// through unannotated. Used on CPU-only hosts and in tests.
type noopBackend struct {
	mu      sync.Mutex
	variant string
}

// KnownVariants lists the built-in model ladder from lightest to heaviest.
var KnownVariants = []string{"yolov8n", "yolov8s", "yolov8m"}

func NewNoopBackend() Backend {
	return &noopBackend{}
}

func (b *noopBackend) Load(variant string) error {
	b.mu.Lock()
	b.variant = variant
	b.mu.Unlock()
	return nil
}

func (b *noopBackend) Infer(frame []byte, _ Params) ([]Detection, []byte, error) {
	return nil, frame, nil
}
