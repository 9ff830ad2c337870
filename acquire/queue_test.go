/*
NAME
  queue_test.go

DESCRIPTION
  queue_test.go contains testing for the bounded frame queue.

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
	"sync/atomic"
	"testing"
	"time"

	"github.com/ausocean/scicam/frame"
)

func qFrame(nr uint32) *frame.Frame {
	f := frame.New(frame.AcqCfg{FrameBytes: 4}, true)
	f.SetInfo(frame.Info{FrameNr: nr})
	return f
}

func TestTryPushBounds(t *testing.T) {
	q := newFrameQueue(2)
	if !q.tryPush(qFrame(1)) || !q.tryPush(qFrame(2)) {
		t.Fatal("push into non-full queue failed")
	}
	if q.tryPush(qFrame(3)) {
		t.Error("push into full queue succeeded")
	}
	if got := q.lost.Load(); got != 1 {
		t.Errorf("unexpected lost count: got %d, want 1", got)
	}
	if got := q.peak.Load(); got != 2 {
		t.Errorf("unexpected peak: got %d, want 2", got)
	}
	if q.peak.Load() > q.maxSize() {
		t.Error("peak exceeds capacity")
	}
}

func TestPushDropOldest(t *testing.T) {
	q := newFrameQueue(2)
	q.tryPush(qFrame(1))
	q.tryPush(qFrame(2))

	dropped := q.pushDropOldest(qFrame(3))
	if dropped == nil || dropped.Info().FrameNr != 1 {
		t.Fatalf("unexpected eviction: got %v", dropped)
	}
	if got := q.lost.Load(); got != 1 {
		t.Errorf("unexpected lost count: got %d, want 1", got)
	}

	f, _ := q.pop(0, func() bool { return true })
	if f == nil || f.Info().FrameNr != 2 {
		t.Errorf("unexpected head after eviction: %v", f)
	}
}

func TestPopTimeout(t *testing.T) {
	q := newFrameQueue(1)
	start := time.Now()
	f, timedOut := q.pop(50*time.Millisecond, nil)
	if f != nil || !timedOut {
		t.Errorf("expected timeout, got frame %v timedOut %v", f, timedOut)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("pop returned before the timeout")
	}
}

func TestPopReleasedByPush(t *testing.T) {
	q := newFrameQueue(1)
	got := make(chan *frame.Frame, 1)
	go func() {
		f, _ := q.pop(0, func() bool { return false })
		got <- f
	}()
	time.Sleep(10 * time.Millisecond)
	q.tryPush(qFrame(7))
	select {
	case f := <-got:
		if f == nil || f.Info().FrameNr != 7 {
			t.Errorf("unexpected frame from pop: %v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by push")
	}
}

func TestPopReleasedByWake(t *testing.T) {
	q := newFrameQueue(1)
	var stop atomic.Bool
	got := make(chan *frame.Frame, 1)
	go func() {
		f, _ := q.pop(0, stop.Load)
		got <- f
	}()
	time.Sleep(10 * time.Millisecond)
	stop.Store(true)
	q.notifyAll()
	select {
	case f := <-got:
		if f != nil {
			t.Errorf("expected nil frame on wake, got %v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by wake")
	}
}

func TestSetMaxClampsToOccupancy(t *testing.T) {
	q := newFrameQueue(4)
	for i := uint32(1); i <= 3; i++ {
		q.tryPush(qFrame(i))
	}
	q.setMax(1)
	if got := q.maxSize(); got != 3 {
		t.Errorf("capacity shrank below occupancy: got %d, want 3", got)
	}
	q.setMax(10)
	if got := q.maxSize(); got != 10 {
		t.Errorf("capacity did not grow: got %d, want 10", got)
	}
}
