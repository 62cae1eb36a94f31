package inference

// Params are the hot-reconfigurable execution parameters. A Configure call
// takes effect atomically from the next frame; readers always observe a
// complete parameter set.
type Params struct {
	InputWidth    int     `json:"input_width"`
	InputHeight   int     `json:"input_height"`
	Confidence    float64 `json:"confidence_threshold"`
	IoU           float64 `json:"iou_threshold"`
	HalfPrecision bool    `json:"half_precision"`
	Stride        int     `json:"process_every_n_frames"`
	ModelVariant  string  `json:"model_variant"`
	Backend       string  `json:"backend"`
}

// Detection is a single detected object.
type Detection struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// Result is the outcome of running one frame. Skipped results reuse the
// previous frame's detections with zero latency.
type Result struct {
	Detections     []Detection
	AnnotatedFrame []byte
	LatencyMS      float64
	FrameNumber    int
	Skipped        bool
}

// Backend is the heavy-compute boundary. Implementations may be arbitrarily
// slow; the engine treats Infer as an opaque blocking call.
type Backend interface {
	Load(variant string) error
	Infer(frame []byte, params Params) ([]Detection, []byte, error)
}

// DefaultParams returns the full-quality parameter set.
func DefaultParams(variant, backend string) Params {
	return Params{
		InputWidth:   640,
		InputHeight:  640,
		Confidence:   0.25,
		IoU:          0.45,
		Stride:       1,
		ModelVariant: variant,
		Backend:      backend,
	}
}
