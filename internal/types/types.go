package types

// FrameTask represents a single frame sent to the extractor for processing
type FrameTask struct {
	Index int
	Data  []byte
}

// Frame describes the full-resolution frame a batch of detections came from.
type Frame struct {
	Index  int
	Width  int
	Height int
}

// Point is a 2D landmark in full-frame pixel coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Box is a face bounding box in frame pixel coordinates.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Area returns the box area, 0 for inverted boxes.
func (b Box) Area() int {
	w, h := b.Right-b.Left, b.Bottom-b.Top
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// NumLandmarks is the size of the anatomical landmark layout produced by the extractor.
const NumLandmarks = 68

// DetectedFace is one detection as produced by the external extractor,
// already aligned to full-frame coordinates.
type DetectedFace struct {
	Box       Box                 `json:"box"`
	Embedding []float64           `json:"embedding"` // 128-d face encoding
	Landmarks [NumLandmarks]Point `json:"landmarks"`
}

// Stats are the per-face geometry readings reported alongside a result.
type Stats struct {
	EAR    float64 `json:"ear"`
	Blinks int     `json:"blinks"`
	Yaw    float64 `json:"yaw"`
	Pitch  float64 `json:"pitch"`
}

// RecognitionResult is the per-face decision for one processed frame.
type RecognitionResult struct {
	Label      string              `json:"label"`
	Confidence float64             `json:"confidence"`
	Distance   float64             `json:"distance"`
	Alive      bool                `json:"liveness_ok"`
	Box        Box                 `json:"box"`
	Stats      Stats               `json:"stats"`
	Landmarks  [NumLandmarks]Point `json:"landmarks"`
}

// UnknownLabel is reported when no known identity is close enough.
const UnknownLabel = "Unknown"

// Status summarizes the result the way the operator overlay shows it.
func (r RecognitionResult) Status() string {
	switch {
	case !r.Alive:
		return "LIVENESS CHECK..."
	case r.Label == UnknownLabel:
		return "LIVE (Unknown)"
	default:
		return "LIVE (Verified)"
	}
}
