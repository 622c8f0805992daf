// Package recognizer turns one frame's detections into per-face identity and
// liveness decisions.
package recognizer

import (
	"sync"

	"github.com/andresmejia3/vigil/internal/geometry"
	"github.com/andresmejia3/vigil/internal/liveness"
	"github.com/andresmejia3/vigil/internal/logger"
	"github.com/andresmejia3/vigil/internal/matcher"
	"github.com/andresmejia3/vigil/internal/types"
)

// Resolver returns the liveness state that owns the i-th detection of a
// frame. Returning nil skips the liveness update for that face.
type Resolver func(i int, face types.DetectedFace, match matcher.Result) *liveness.State

// Shared routes every face to the same state, for single-subject setups
// such as a door or login camera.
func Shared(state *liveness.State) Resolver {
	return func(int, types.DetectedFace, matcher.Result) *liveness.State {
		return state
	}
}

// ByLabel keeps one session per matched label. Unrecognised faces have no
// identity to follow across frames, so they get no session.
func ByLabel(reg *liveness.Registry) Resolver {
	return func(_ int, _ types.DetectedFace, match matcher.Result) *liveness.State {
		if match.Label == types.UnknownLabel {
			return nil
		}
		return reg.Get(match.Label)
	}
}

// Processor holds the known-face set and evaluates frames against it.
// Process itself is synchronous and does no I/O.
type Processor struct {
	mu      sync.RWMutex
	matcher *matcher.Matcher
}

// New returns a Processor matching against known with the given threshold.
func New(known matcher.KnownFaceSet, threshold float64) *Processor {
	m := matcher.New(known)
	if threshold > 0 {
		m.Threshold = threshold
	}
	return &Processor{matcher: m}
}

// SetKnownFaces replaces the whole known-face set.
func (p *Processor) SetKnownFaces(known matcher.KnownFaceSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matcher = &matcher.Matcher{Known: known, Threshold: p.matcher.Threshold}
}

// KnownFaces returns the set currently in use.
func (p *Processor) KnownFaces() matcher.KnownFaceSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matcher.Known
}

// Process evaluates every detection in order and returns one result per
// detection. No detections yields an empty slice. A state is updated at most
// once per frame; later detections resolving to the same state report no
// liveness.
func (p *Processor) Process(frame types.Frame, faces []types.DetectedFace, resolve Resolver) []types.RecognitionResult {
	p.mu.RLock()
	m := p.matcher
	p.mu.RUnlock()

	results := make([]types.RecognitionResult, 0, len(faces))
	updated := make(map[*liveness.State]bool)
	for i, face := range faces {
		match := m.Match(face.Embedding)

		ear := geometry.AverageEAR(face.Landmarks)
		pose, ok := geometry.HeadPose(face.Landmarks, frame.Width, frame.Height)
		if !ok {
			logger.Debug("head pose did not converge",
				logger.LoggerOptions{Key: "frame", Data: frame.Index},
				logger.LoggerOptions{Key: "face", Data: i})
		}

		var snap liveness.Snapshot
		if resolve != nil {
			if state := resolve(i, face, match); state != nil && !updated[state] {
				updated[state] = true
				snap = state.Update(ear, liveness.PoseReading{Yaw: pose.Yaw, Pitch: pose.Pitch, Roll: pose.Roll})
			}
		}

		results = append(results, types.RecognitionResult{
			Label:      match.Label,
			Confidence: match.Confidence,
			Distance:   match.Distance,
			Alive:      snap.Alive,
			Box:        face.Box,
			Stats: types.Stats{
				EAR:    ear,
				Blinks: snap.TotalBlinks,
				Yaw:    pose.Yaw,
				Pitch:  pose.Pitch,
			},
			Landmarks: face.Landmarks,
		})
	}
	return results
}
