package liveness

import (
	"sync"
	"testing"
)

func feed(s *State, ears ...float64) Snapshot {
	var snap Snapshot
	for _, ear := range ears {
		snap = s.Update(ear, PoseReading{})
	}
	return snap
}

func TestBlinkCounting(t *testing.T) {
	tests := []struct {
		name       string
		ears       []float64
		wantBlinks int
		wantAlive  bool
	}{
		{"Two closed frames", []float64{0.30, 0.10, 0.10, 0.30}, 1, true},
		{"One closed frame", []float64{0.30, 0.10, 0.30}, 0, false},
		{"Still closed", []float64{0.30, 0.10, 0.10, 0.10}, 0, false},
		{"Two blinks", []float64{0.10, 0.10, 0.30, 0.10, 0.10, 0.10, 0.25}, 2, true},
		{"Threshold is open", []float64{0.10, 0.10, 0.22}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feed(New(DefaultConfig()), tt.ears...)
			if got.TotalBlinks != tt.wantBlinks {
				t.Errorf("TotalBlinks = %d, want %d", got.TotalBlinks, tt.wantBlinks)
			}
			if got.Alive != tt.wantAlive {
				t.Errorf("Alive = %v, want %v", got.Alive, tt.wantAlive)
			}
		})
	}
}

func TestPoseLatch(t *testing.T) {
	tests := []struct {
		name      string
		pose      PoseReading
		wantAlive bool
	}{
		{"Yaw over threshold", PoseReading{Yaw: 20}, true},
		{"Negative yaw", PoseReading{Yaw: -16}, true},
		{"Pitch over threshold", PoseReading{Pitch: 15.5}, true},
		{"Exactly at threshold", PoseReading{Yaw: 15, Pitch: -15}, false},
		{"Roll is ignored", PoseReading{Roll: 40}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(DefaultConfig()).Update(0.30, tt.pose)
			if got.Alive != tt.wantAlive {
				t.Errorf("Alive = %v, want %v", got.Alive, tt.wantAlive)
			}
			if got.TotalBlinks != 0 {
				t.Errorf("pose movement counted as blink")
			}
		})
	}
}

func TestLatchIsSticky(t *testing.T) {
	s := New(DefaultConfig())
	if snap := s.Update(0.30, PoseReading{Yaw: 25}); !snap.Alive || snap.Phase != BlinkLatched {
		t.Fatalf("pose did not latch: %+v", snap)
	}

	for i := 0; i < 50; i++ {
		if snap := s.Update(0.30, PoseReading{}); !snap.Alive {
			t.Fatalf("latch released after %d static frames", i+1)
		}
	}
	if snap := s.Update(0.05, PoseReading{}); !snap.Alive {
		t.Fatal("latch released while eyes closed")
	}

	s.Reset()
	if snap := s.Snapshot(); snap.Alive || snap.TotalBlinks != 0 || snap.Phase != EyesOpen {
		t.Errorf("Reset() left %+v", snap)
	}
}

func TestPhase(t *testing.T) {
	s := New(DefaultConfig())
	if got := s.Update(0.10, PoseReading{}).Phase; got != EyesClosing {
		t.Errorf("Phase = %s, want %s", got, EyesClosing)
	}
	if got := s.Update(0.30, PoseReading{}).Phase; got != EyesOpen {
		t.Errorf("Phase = %s, want %s", got, EyesOpen)
	}
}

func TestPoseHistoryBounded(t *testing.T) {
	s := New(DefaultConfig())
	for i := 0; i < 25; i++ {
		s.Update(0.30, PoseReading{Roll: float64(i)})
	}
	h := s.PoseHistory()
	if len(h) != 10 {
		t.Fatalf("history length = %d, want 10", len(h))
	}
	if h[0].Roll != 15 || h[9].Roll != 24 {
		t.Errorf("history holds %v..%v, want 15..24", h[0].Roll, h[9].Roll)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := New(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Update(0.30, PoseReading{})
			}
		}()
	}
	wg.Wait()
	if snap := s.Snapshot(); snap.Alive {
		t.Errorf("static open-eye frames latched: %+v", snap)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	alice := r.Get("alice")
	if r.Get("alice") != alice {
		t.Fatal("Get() returned a new state for a known key")
	}

	alice.Update(0.30, PoseReading{Yaw: 30})
	if r.Get("bob").Snapshot().Alive {
		t.Error("liveness leaked between subjects")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	r.Reset("alice")
	if alice.Snapshot().Alive {
		t.Error("Reset() kept the latch")
	}
	r.Reset("nobody") // no-op

	r.Forget("bob")
	if r.Len() != 1 {
		t.Errorf("Len() after Forget = %d, want 1", r.Len())
	}
}
