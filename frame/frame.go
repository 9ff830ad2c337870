/*
NAME
  frame.go

DESCRIPTION
  frame.go provides Frame, the unit of data moving through the acquisition
  pipeline. A Frame owns its pixel buffer when configured for deep copy,
  otherwise it holds a borrowed view into the driver's circular buffer which
  must be copied out before the driver overwrites the source slot.

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

// Package frame provides the frame type passed between acquisition pipeline
// stages, its free-frame pool, and the embedded-metadata codec used for
// multi-ROI frames.
package frame

import (
	"errors"
	"fmt"
)

// Errors returned by Frame operations.
var (
	ErrNoSource    = errors.New("frame: no source data set")
	ErrShortSource = errors.New("frame: source smaller than configured frame size")
)

// Region describes a sensor area and the binning factors used to read it.
type Region struct {
	S1, S2, Sbin uint16 // First/last serial pixel and serial binning.
	P1, P2, Pbin uint16 // First/last parallel pixel and parallel binning.
}

// Width returns the binned width of the region in pixels.
func (r Region) Width() uint16 {
	if r.Sbin == 0 {
		return 0
	}
	return (r.S2 - r.S1 + 1) / r.Sbin
}

// Height returns the binned height of the region in pixels.
func (r Region) Height() uint16 {
	if r.Pbin == 0 {
		return 0
	}
	return (r.P2 - r.P1 + 1) / r.Pbin
}

// AcqCfg identifies the shape of frames produced by one acquisition setup.
// Frames with differing AcqCfg are not interchangeable.
type AcqCfg struct {
	FrameBytes  uint32 // Size of the raw frame data in bytes.
	RoiCount    uint16 // Number of regions configured for acquisition.
	HasMetadata bool   // Raw data carries embedded metadata, not only pixels.
}

// Info holds the per-frame information delivered by the driver.
type Info struct {
	FrameNr      uint32 // 1-based frame number, unique per acquisition.
	TimestampBOF uint64 // Beginning of frame, microseconds from acq start.
	TimestampEOF uint64 // End of frame, microseconds from acq start.
}

// ReadoutTime returns the frame readout duration in microseconds.
func (i Info) ReadoutTime() uint32 {
	return uint32(i.TimestampEOF - i.TimestampBOF)
}

// Frame carries one exposure's data and bookkeeping through the pipeline.
// Frames are owned by exactly one holder at a time (pool, queue or worker)
// and are not safe for concurrent use.
type Frame struct {
	cfg      AcqCfg
	deepCopy bool

	data []byte // Owned buffer when deepCopy, else the published borrowed view.
	src  []byte // Borrowed source set by SetDataPointer, consumed by CopyData.

	info        Info
	shallowInfo Info
	hasShallow  bool

	valid       bool
	needsDecode bool

	meta         *Meta
	trajectories Trajectories
}

// New returns a Frame for the given acquisition configuration. When deepCopy
// is set the pixel buffer is allocated up front; otherwise allocation is
// deferred and the frame publishes borrowed views.
func New(cfg AcqCfg, deepCopy bool) *Frame {
	f := &Frame{cfg: cfg, deepCopy: deepCopy, needsDecode: cfg.HasMetadata}
	if deepCopy {
		f.data = make([]byte, cfg.FrameBytes)
	}
	return f
}

// AcqCfg returns the frame's acquisition configuration.
func (f *Frame) AcqCfg() AcqCfg { return f.cfg }

// UsesDeepCopy reports whether CopyData copies out of the source buffer.
func (f *Frame) UsesDeepCopy() bool { return f.deepCopy }

// Valid reports whether Data holds the current frame contents.
func (f *Frame) Valid() bool { return f.valid }

// NeedsDecode reports whether embedded metadata is yet to be decoded.
func (f *Frame) NeedsDecode() bool { return f.needsDecode }

// Data returns the frame's raw data. The slice is only meaningful while the
// frame is valid.
func (f *Frame) Data() []byte { return f.data }

// Info returns the frame's information record.
func (f *Frame) Info() Info { return f.info }

// SetInfo sets the frame's information record.
func (f *Frame) SetInfo(i Info) { f.info = i }

// SetDataPointer records the borrowed source for the next CopyData. No data
// is copied here; this is called from the driver's EOF delivery context and
// must stay cheap.
func (f *Frame) SetDataPointer(src []byte) { f.src = src }

// SetShallowInfo stashes driver-provided info to be promoted to the real
// info by the next successful CopyData.
func (f *Frame) SetShallowInfo(i Info) {
	f.shallowInfo = i
	f.hasShallow = true
}

// CopyData captures the source data set by SetDataPointer. The frame is
// invalidated first; on success it becomes valid and any stashed shallow
// info is promoted. For deep-copy frames the source is copied into the
// owned buffer, otherwise the borrowed view is published as is.
func (f *Frame) CopyData() error {
	shallow, hasShallow := f.shallowInfo, f.hasShallow
	f.Invalidate()

	if f.src == nil {
		return ErrNoSource
	}
	if f.deepCopy {
		if uint32(len(f.src)) < f.cfg.FrameBytes {
			return fmt.Errorf("%w: have %d, need %d", ErrShortSource, len(f.src), f.cfg.FrameBytes)
		}
		copy(f.data, f.src[:f.cfg.FrameBytes])
	} else {
		f.data = f.src
	}

	if hasShallow {
		f.info = shallow
		f.shallowInfo = Info{}
		f.hasShallow = false
	}
	f.valid = true
	return nil
}

// Invalidate marks the frame's data as stale and clears the info and
// trajectories. Frames go back to the pool in this state.
func (f *Frame) Invalidate() {
	f.valid = false
	f.info = Info{}
	f.trajectories = Trajectories{}
	f.needsDecode = f.cfg.HasMetadata
	f.meta = nil
}

// Trajectories returns the particle trajectories attached to this frame.
func (f *Frame) Trajectories() Trajectories { return f.trajectories }

// SetTrajectories attaches particle trajectories to this frame.
func (f *Frame) SetTrajectories(t Trajectories) { f.trajectories = t }

// Meta returns the decoded embedded metadata, or nil if the frame has none
// or DecodeMetadata has not run.
func (f *Frame) Meta() *Meta { return f.meta }

// Clone returns a copy of the frame with the same AcqCfg. A deep clone owns
// its own pixel buffer; a shallow clone borrows a view of this frame's data
// and must not outlive it.
func (f *Frame) Clone(deep bool) *Frame {
	nf := New(f.cfg, deep)
	nf.SetDataPointer(f.data)
	if f.valid {
		if err := nf.CopyData(); err != nil {
			return nil
		}
		nf.info = f.info
	}
	nf.trajectories = f.trajectories.clone()
	return nf
}
