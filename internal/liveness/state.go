// Package liveness fuses per-frame blink and head pose readings into a
// latched "is alive" verdict for one subject.
package liveness

import "sync"

// Config holds the thresholds of the state machine.
type Config struct {
	EARThreshold   float64 // an eye with EAR below this is closed
	ClosedFrames   int     // closed frames needed for a blink
	PoseThreshold  float64 // degrees of |yaw| or |pitch| that count as movement
	PoseHistoryLen int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		EARThreshold:   0.22,
		ClosedFrames:   2,
		PoseThreshold:  15,
		PoseHistoryLen: 10,
	}
}

// Phase names where the state machine currently sits.
type Phase string

const (
	EyesOpen     Phase = "EYES_OPEN"
	EyesClosing  Phase = "EYES_CLOSING"
	BlinkLatched Phase = "BLINK_LATCHED"
)

// PoseReading is one recorded (yaw, pitch, roll) triple in degrees.
type PoseReading struct {
	Yaw   float64
	Pitch float64
	Roll  float64
}

// Snapshot is a point-in-time copy of a State.
type Snapshot struct {
	ConsecutiveClosed int
	TotalBlinks       int
	Alive             bool
	Phase             Phase
}

// State is the liveness record of a single subject. Alive only ever moves
// from false to true; Reset starts a new session. It is safe for concurrent
// use.
type State struct {
	mu          sync.Mutex
	cfg         Config
	closed      int
	blinks      int
	alive       bool
	poseHistory []PoseReading
}

// New returns an empty state.
func New(cfg Config) *State {
	if cfg.PoseHistoryLen <= 0 {
		cfg.PoseHistoryLen = DefaultConfig().PoseHistoryLen
	}
	return &State{cfg: cfg}
}

// Update feeds one frame's average EAR and head pose into the machine.
func (s *State) Update(ear float64, pose PoseReading) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ear < s.cfg.EARThreshold {
		s.closed++
	} else {
		if s.closed >= s.cfg.ClosedFrames {
			s.blinks++
			s.alive = true
		}
		s.closed = 0
	}

	if abs(pose.Yaw) > s.cfg.PoseThreshold || abs(pose.Pitch) > s.cfg.PoseThreshold {
		s.alive = true
	}

	s.poseHistory = append(s.poseHistory, pose)
	if over := len(s.poseHistory) - s.cfg.PoseHistoryLen; over > 0 {
		s.poseHistory = append(s.poseHistory[:0], s.poseHistory[over:]...)
	}

	return s.snapshotLocked()
}

// Snapshot returns the current state without changing it.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	phase := EyesOpen
	switch {
	case s.alive:
		phase = BlinkLatched
	case s.closed > 0:
		phase = EyesClosing
	}
	return Snapshot{
		ConsecutiveClosed: s.closed,
		TotalBlinks:       s.blinks,
		Alive:             s.alive,
		Phase:             phase,
	}
}

// PoseHistory returns the most recent pose readings, oldest first.
// Nothing in the decision reads it back.
func (s *State) PoseHistory() []PoseReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PoseReading(nil), s.poseHistory...)
}

// Reset clears the counters and the latch.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed, s.blinks, s.alive = 0, 0, false
	s.poseHistory = nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
