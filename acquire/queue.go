/*
NAME
  queue.go

DESCRIPTION
  queue.go provides the bounded frame queue used for both pipeline handoffs:
  captured-to-process and processed-to-save. The queue is a mutex and
  condition variable guarded FIFO with separate atomics for peak occupancy
  and cumulative losses, and a capacity that can be raised at run time.

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
	"sync/atomic"
	"time"

	"github.com/ausocean/scicam/frame"
)

// frameQueue is a bounded FIFO of frames. Producers use non-blocking
// pushes; consumers block on a condition variable with an optional timeout.
// "peak" is the maximum observed occupancy; "max" is the current capacity.
// The two are deliberately separate values.
type frameQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  []*frame.Frame
	max  int64

	peak atomic.Int64
	lost atomic.Uint64
}

func newFrameQueue(max int64) *frameQueue {
	if max < 1 {
		max = 1
	}
	q := &frameQueue{max: max}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// tryPush appends f unless the queue is full. A full queue counts one loss
// and the frame is not taken.
func (q *frameQueue) tryPush(f *frame.Frame) bool {
	q.mu.Lock()
	if int64(len(q.buf)) >= q.max {
		q.mu.Unlock()
		q.lost.Add(1)
		return false
	}
	q.buf = append(q.buf, f)
	q.updatePeakLocked()
	q.mu.Unlock()
	q.cond.Broadcast()
	return true
}

// pushDropOldest appends f, evicting and returning the oldest entry when
// the queue is full. The eviction counts one loss.
func (q *frameQueue) pushDropOldest(f *frame.Frame) *frame.Frame {
	var dropped *frame.Frame
	q.mu.Lock()
	if int64(len(q.buf)) >= q.max && len(q.buf) > 0 {
		dropped = q.buf[0]
		q.buf = q.buf[1:]
		q.lost.Add(1)
	}
	q.buf = append(q.buf, f)
	q.updatePeakLocked()
	q.mu.Unlock()
	q.cond.Broadcast()
	return dropped
}

func (q *frameQueue) updatePeakLocked() {
	if n := int64(len(q.buf)); n > q.peak.Load() {
		q.peak.Store(n)
	}
}

// pop removes and returns the oldest frame. It blocks until a frame is
// available, the wake predicate reports true, or the timeout elapses
// (timeout zero blocks indefinitely). The second return value reports a
// timeout.
func (q *frameQueue) pop(timeout time.Duration, wake func() bool) (*frame.Frame, bool) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.buf) > 0 {
			f := q.buf[0]
			q.buf = q.buf[1:]
			return f, false
		}
		if wake != nil && wake() {
			return nil, false
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return nil, true
		}
		q.cond.Wait()
	}
}

// drain removes and returns all queued frames.
func (q *frameQueue) drain() []*frame.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.buf
	q.buf = nil
	return out
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// setMax raises or lowers the capacity, never below the current occupancy
// and never below one.
func (q *frameQueue) setMax(n int64) {
	q.mu.Lock()
	if occ := int64(len(q.buf)); n < occ {
		n = occ
	}
	if n < 1 {
		n = 1
	}
	q.max = n
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *frameQueue) maxSize() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.max
}

// notifyAll wakes all waiters so they can re-check abort latches.
func (q *frameQueue) notifyAll() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}
