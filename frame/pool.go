/*
NAME
  pool.go

DESCRIPTION
  pool.go provides the free-frame pool, a reservoir of pre-allocated frames
  drawn by the EOF ingress path and returned by the disk worker. Keeping
  frames warm avoids allocation on the driver's delivery thread.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package frame

import (
	"sync"

	"github.com/ausocean/utils/logging"
)

// Pool is a bounded reservoir of frames sharing one AcqCfg and deep-copy
// mode. All methods are safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	frames   []*Frame
	cfg      AcqCfg
	deepCopy bool
	finished bool
	log      logging.Logger
}

// NewPool returns an empty pool. Preallocate must run before the first
// acquisition to establish the frame configuration.
func NewPool(l logging.Logger) *Pool {
	return &Pool{log: l}
}

// Draw removes and returns one frame, allocating a fresh one with the
// current configuration when the pool is empty.
func (p *Pool) Draw() *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.frames); n > 0 {
		f := p.frames[n-1]
		p.frames = p.frames[:n-1]
		return f
	}
	return New(p.cfg, p.deepCopy)
}

// Return pushes a frame back without validation. Callers must invalidate
// the frame first. After the pool is marked finished the frame is dropped
// instead, so teardown cannot grow the pool without bound.
func (p *Pool) Return(f *Frame) {
	if f == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.frames = append(p.frames, f)
}

// SetFinished marks the acquisition as over, turning Return into a drop.
// Preallocate clears the mark for the next run.
func (p *Pool) SetFinished() {
	p.mu.Lock()
	p.finished = true
	p.mu.Unlock()
}

// Len returns the number of pooled frames.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Preallocate re-establishes the pool for the given configuration and
// target size. On a configuration or deep-copy mode change all held frames
// are dropped first; otherwise surplus frames are trimmed. The pool is then
// filled up to target.
func (p *Pool) Preallocate(cfg AcqCfg, deepCopy bool, target int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg != cfg || p.deepCopy != deepCopy {
		if len(p.frames) != 0 && p.log != nil {
			p.log.Debug("frame config changed, draining pool", "held", len(p.frames))
		}
		p.frames = p.frames[:0]
		p.cfg = cfg
		p.deepCopy = deepCopy
	}

	if len(p.frames) > target {
		p.frames = p.frames[:target]
	}
	for len(p.frames) < target {
		p.frames = append(p.frames, New(p.cfg, p.deepCopy))
	}
	p.finished = false
}
