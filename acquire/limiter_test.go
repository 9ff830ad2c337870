/*
NAME
  limiter_test.go

DESCRIPTION
  limiter_test.go contains testing for the FPS limiter rendezvous.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package acquire

import (
	"sync"
	"testing"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/scicam/frame"
)

type limiterRecorder struct {
	mu     sync.Mutex
	frames []*frame.Frame
	wake   chan struct{}
}

func newLimiterRecorder() *limiterRecorder {
	return &limiterRecorder{wake: make(chan struct{}, 64)}
}

func (r *limiterRecorder) cb(f *frame.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	// Never block the limiter worker; a full channel already holds a
	// pending wake-up for waitN.
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *limiterRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *limiterRecorder) waitN(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for r.count() < n {
		select {
		case <-r.wake:
		case <-deadline:
			t.Fatalf("timed out waiting for %d callbacks, have %d", n, r.count())
		}
	}
}

func limFrame(nr uint32) *frame.Frame {
	f := frame.New(frame.AcqCfg{FrameBytes: 2}, true)
	f.SetInfo(frame.Info{FrameNr: nr})
	return f
}

// TestPairing checks the callback fires exactly once per matched pair of
// tick and frame, with intermediate frames overwritten. The timer latch
// starts set, so the first frame goes out without waiting for a tick.
func TestPairing(t *testing.T) {
	rec := newLimiterRecorder()
	l := NewLimiter((*logging.TestLogger)(t))
	if err := l.Start(rec.cb); err != nil {
		t.Fatalf("unexpected error from Start: %v", err)
	}
	defer l.Stop(false)

	// The first frame matches the warm-started timer latch immediately.
	l.InputNewFrame(limFrame(1))
	rec.waitN(t, 1)
	rec.mu.Lock()
	nr := rec.frames[0].Info().FrameNr
	rec.mu.Unlock()
	if nr != 1 {
		t.Errorf("unexpected first frame delivered: got %d, want 1", nr)
	}

	// Further frames without a tick fire nothing and overwrite each other.
	l.InputNewFrame(limFrame(2))
	l.InputNewFrame(limFrame(3))
	time.Sleep(20 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Fatalf("callback fired without a tick: %d calls", got)
	}

	// One tick matches the stored (latest) frame.
	l.InputTimerTick()
	rec.waitN(t, 2)
	rec.mu.Lock()
	nr = rec.frames[1].Info().FrameNr
	rec.mu.Unlock()
	if nr != 3 {
		t.Errorf("unexpected frame delivered: got %d, want 3", nr)
	}

	// Further ticks without a new frame fire nothing.
	l.InputTimerTick()
	l.InputTimerTick()
	time.Sleep(20 * time.Millisecond)
	if got := rec.count(); got != 2 {
		t.Fatalf("callback fired without a new frame: %d calls", got)
	}

	// The next frame matches the already latched tick.
	l.InputNewFrame(limFrame(4))
	rec.waitN(t, 3)
}

// TestNilFrameHeartbeat checks a nil frame pairs like any other, which the
// disk worker relies on as a still-working signal.
func TestNilFrameHeartbeat(t *testing.T) {
	rec := newLimiterRecorder()
	l := NewLimiter((*logging.TestLogger)(t))
	if err := l.Start(rec.cb); err != nil {
		t.Fatalf("unexpected error from Start: %v", err)
	}
	defer l.Stop(false)

	l.InputTimerTick()
	l.InputNewFrame(nil)
	rec.waitN(t, 1)
	rec.mu.Lock()
	f := rec.frames[0]
	rec.mu.Unlock()
	if f != nil {
		t.Errorf("expected nil heartbeat frame, got %v", f)
	}
}

// TestStopDeliversWaitingFrame checks Stop(true) hands over a stored but
// unmatched frame.
func TestStopDeliversWaitingFrame(t *testing.T) {
	rec := newLimiterRecorder()
	l := NewLimiter((*logging.TestLogger)(t))
	if err := l.Start(rec.cb); err != nil {
		t.Fatalf("unexpected error from Start: %v", err)
	}

	// Consume the warm-started timer latch, then store a frame with no
	// tick to pair against.
	l.InputNewFrame(limFrame(8))
	rec.waitN(t, 1)
	l.InputNewFrame(limFrame(9))
	time.Sleep(10 * time.Millisecond)
	l.Stop(true)
	if got := rec.count(); got != 2 {
		t.Fatalf("waiting frame not delivered on stop: %d calls", got)
	}
	rec.mu.Lock()
	nr := rec.frames[1].Info().FrameNr
	rec.mu.Unlock()
	if nr != 9 {
		t.Errorf("unexpected frame delivered on stop: got %d, want 9", nr)
	}

	if l.IsRunning() {
		t.Error("limiter still running after Stop")
	}
}
