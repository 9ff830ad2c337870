/*
NAME
  limiter.go

DESCRIPTION
  limiter.go provides the FPS limiter, a single-slot rendezvous coupling a
  fast frame producer to a slow consumer such as a live preview. The user
  callback fires at most once per matched pair of timer tick and new frame;
  frames arriving between ticks overwrite the stored one.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package acquire

import (
	"errors"
	"sync"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/scicam/frame"
)

// ErrLimiterRunning is returned by Start on an already running limiter.
var ErrLimiterRunning = errors.New("acquire: limiter already running")

// Limiter couples two asynchronous inputs, timer ticks and new frames, and
// invokes the callback once per matched pair. The stored frame may be nil;
// the disk worker uses a nil frame as a still-working heartbeat.
type Limiter struct {
	log logging.Logger

	mu      sync.Mutex // Covers the latches and the stored frame.
	timerOn bool
	frameOn bool
	f       *frame.Frame

	cb      func(*frame.Frame)
	notify  chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewLimiter returns a stopped limiter.
func NewLimiter(l logging.Logger) *Limiter {
	return &Limiter{log: l, notify: make(chan struct{}, 1)}
}

// Start begins delivering matched pairs to cb on the limiter's own
// goroutine.
func (l *Limiter) Start(cb func(*frame.Frame)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrLimiterRunning
	}
	l.cb = cb
	l.stop = make(chan struct{})
	// The timer latch starts set so the first frame after Start is
	// delivered immediately rather than waiting out a tick period.
	l.timerOn = true
	l.frameOn = false
	l.running = true
	l.wg.Add(1)
	go l.loop(l.stop)
	return nil
}

// IsRunning reports whether the limiter's worker is alive.
func (l *Limiter) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Stop joins the worker. When processWaiting is set a still-stored frame is
// delivered to the callback before returning.
func (l *Limiter) Stop(processWaiting bool) {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stop := l.stop
	l.mu.Unlock()

	close(stop)
	l.wg.Wait()

	if !processWaiting {
		return
	}
	l.mu.Lock()
	f := l.f
	deliver := l.frameOn
	l.f = nil
	l.frameOn = false
	cb := l.cb
	l.mu.Unlock()
	if deliver && cb != nil {
		cb(f)
	}
}

// InputTimerTick latches the timer event.
func (l *Limiter) InputTimerTick() {
	l.mu.Lock()
	l.timerOn = true
	l.mu.Unlock()
	l.wake()
}

// InputNewFrame latches the frame event and stores f, overwriting any
// previous frame. f may be nil.
func (l *Limiter) InputNewFrame(f *frame.Frame) {
	l.mu.Lock()
	l.frameOn = true
	l.f = f
	l.mu.Unlock()
	l.wake()
}

func (l *Limiter) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *Limiter) loop(stop chan struct{}) {
	defer l.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-l.notify:
		}

		l.mu.Lock()
		fire := l.timerOn && l.frameOn
		var f *frame.Frame
		if fire {
			l.timerOn = false
			l.frameOn = false
			f = l.f
			l.f = nil
		}
		cb := l.cb
		l.mu.Unlock()

		if fire && cb != nil {
			cb(f)
		}
	}
}
