/*
NAME
  disk.go

DESCRIPTION
  disk.go provides the disk worker: it drains the save queue and persists
  frames to single-frame files or N-frame stacks, applying the save-first/
  save-last policy, and returns every consumed frame to the pool.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Alan Noble <alan@ausocean.org>

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
	"fmt"
	"strconv"
	"time"

	"github.com/ausocean/scicam/acquire/config"
	"github.com/ausocean/scicam/container/prd"
	"github.com/ausocean/scicam/container/tiff"
	"github.com/ausocean/scicam/frame"
)

// saver is one open output file accepting frames.
type saver interface {
	WriteFrame(f *frame.Frame, expTime uint32) error
	Close() error
}

// newSaver opens an output file of the configured storage type.
func (a *Acquisition) newSaver(path string, h prd.Header) (saver, error) {
	switch a.cfg.StorageType {
	case config.StoragePrd:
		if a.cfg.TrackMaxTrajectories > 0 || a.cfg.TrackMaxPoints > 0 {
			return prd.NewWriter(path, h,
				prd.WithTrajectoryCapacity(a.cfg.TrackMaxTrajectories, a.cfg.TrackMaxPoints))
		}
		return prd.NewWriter(path, h)
	case config.StorageTiff:
		return tiff.NewWriter(path, h, a.log)
	}
	return nil, ErrStorageType
}

// diskLoop is the disk worker entry point. It branches on the stack size:
// zero means one file per frame, nonzero means stacked files.
func (a *Acquisition) diskLoop(done chan struct{}) {
	a.diskStartNs.Store(time.Now().UnixNano())

	if a.cfg.MaxStackSize > 0 {
		a.diskLoopStack()
	} else {
		a.diskLoopSingle()
	}

	a.diskElapsedNs.Store(time.Now().UnixNano() - a.diskStartNs.Load())
	a.diskDone.Store(true)
	a.notifyUpdate()
	close(done)

	var how string
	switch a.cfg.StorageType {
	case config.StoragePrd:
		how = fmt.Sprintf("%d of them saved to PRD file(s)", a.saved.Load())
	case config.StorageTiff:
		how = fmt.Sprintf("%d of them saved to TIFF file(s)", a.saved.Load())
	case config.StorageNone:
		how = "none of them saved"
	}
	a.log.Info(fmt.Sprintf("%d queued frames processed and %s in %v",
		a.savedValid.Load(), how, time.Duration(a.diskElapsedNs.Load()).Round(time.Millisecond)))
}

// nextSaveFrame blocks for the next frame to persist. It returns nil when
// the worker should exit: abort latched, or acquisition done with the
// queue drained.
func (a *Acquisition) nextSaveFrame() *frame.Frame {
	for {
		if a.diskAbort.Load() {
			return nil
		}
		f, _ := a.toSave.pop(0, func() bool { return a.diskAbort.Load() || a.acqDone.Load() })
		if f != nil {
			return f
		}
		if a.diskAbort.Load() || a.acqDone.Load() {
			return nil
		}
	}
}

// savePolicy reports whether the frame at the given index in the saving
// sequence should be persisted. Overlapping first/last ranges mean save
// everything.
type savePolicy struct {
	isLive     bool
	frameCount uint64
	saveFirst  uint64
	saveLast   uint64
}

func (a *Acquisition) policy() savePolicy {
	p := savePolicy{isLive: a.cfg.AcqMode.IsLive()}
	p.frameCount = uint64(a.cfg.AcqFrameCount)
	if p.isLive {
		p.frameCount = 0
	}
	p.saveFirst = uint64(a.cfg.SaveFirst)
	p.saveLast = uint64(a.cfg.SaveLast)
	if p.isLive {
		p.saveLast = 0
	} else {
		if p.saveFirst > p.frameCount {
			p.saveFirst = p.frameCount
		}
		if p.saveLast > p.frameCount {
			p.saveLast = p.frameCount
		}
	}
	return p
}

func (p savePolicy) first(frameIndex uint64) bool {
	return p.saveFirst > 0 && frameIndex < p.saveFirst
}

func (p savePolicy) last(frameIndex uint64) bool {
	return p.saveLast > 0 && frameIndex >= p.frameCount-p.saveLast
}

func (p savePolicy) all() bool {
	return (p.saveFirst == 0 && p.saveLast == 0) ||
		(!p.isLive && p.saveFirst >= p.frameCount-p.saveLast)
}

func (p savePolicy) save(frameIndex uint64) bool {
	return p.first(frameIndex) || p.last(frameIndex) || p.all()
}

// diskLoopSingle writes one file per saved frame, named by frame number.
func (a *Acquisition) diskLoopSingle() {
	p := a.policy()
	hdr := a.storageHeader(1)

	// Absolute frame index in the saving sequence.
	var frameIndex uint64

	for (p.isLive || frameIndex < p.frameCount) && !a.diskAbort.Load() {
		f := a.nextSaveFrame()
		if f == nil {
			break
		}
		a.heartbeat()
		a.savedValid.Add(1)

		keepGoing := true
		if a.cfg.StorageType != config.StorageNone && p.save(frameIndex) {
			// File named by frame number, not frame index.
			name := a.filePath("ss_single_" + strconv.FormatUint(uint64(f.Info().FrameNr), 10))
			file, err := a.newSaver(name, hdr)
			if err != nil {
				a.log.Error("error in writing data", "path", name, "error", err.Error())
				keepGoing = false
			} else {
				err = file.WriteFrame(f, a.cfg.FrameExposure(f.Info().FrameNr))
				switch {
				case errors.Is(err, frame.ErrMetadataCorrupt):
					// A corrupt frame is dropped; the run goes on.
					a.log.Warning("corrupt frame metadata, dropping", "frameNr", f.Info().FrameNr, "error", err.Error())
				case err != nil:
					a.log.Error("error in writing raw data", "path", name, "error", err.Error())
					keepGoing = false
				default:
					a.saved.Add(1)
					a.bitrate.Report(int(a.frameBytes))
				}
				err = file.Close()
				if err != nil && keepGoing {
					a.log.Error("error in closing file", "path", name, "error", err.Error())
					keepGoing = false
				}
			}
		}

		if !keepGoing {
			a.RequestAbort(true)
		}
		f.Invalidate()
		a.pool.Return(f)
		frameIndex++
	}
}

// diskLoopStack writes stacked files. Stack boundaries are computed over
// the filtered index so save-first and save-last produce independent
// stacks starting at zero.
func (a *Acquisition) diskLoopStack() {
	p := a.policy()
	hdr := a.storageHeader(0) // Frame count is set per stack below.
	maxPer := uint64(a.maxFramesPerStack)

	var file saver
	var name string

	// Absolute frame index in the saving sequence.
	var frameIndex uint64

	for (p.isLive || frameIndex < p.frameCount) && !a.diskAbort.Load() {
		f := a.nextSaveFrame()
		if f == nil {
			break
		}
		a.heartbeat()
		a.savedValid.Add(1)

		keepGoing := true
		doFirst, doAll := p.first(frameIndex), p.all()
		if a.cfg.StorageType != config.StorageNone && p.save(frameIndex) {
			if maxPer == 0 {
				a.log.Error("unsupported number of frames in stack")
				a.RequestAbort(false)
				f.Invalidate()
				a.pool.Return(f)
				return
			}

			// Stack index relative either to the sequence beginning or to
			// the first frame of the save-last range.
			var stackIndex, indexInStack uint64
			if doFirst || doAll {
				stackIndex = frameIndex / maxPer
				indexInStack = frameIndex % maxPer
			} else { // Save-last.
				rel := frameIndex - (p.frameCount - p.saveLast)
				stackIndex = rel / maxPer
				indexInStack = rel % maxPer
			}

			// First frame of a new stack: close the previous file, size
			// this stack and open its file.
			if indexInStack == 0 {
				if file != nil {
					err := file.Close()
					if err != nil {
						a.log.Error("error in closing file", "path", name, "error", err.Error())
						keepGoing = false
					}
					file = nil
				}

				var base string
				var group uint64
				switch {
				case doAll:
					base, group = "ss_stack_", p.frameCount
				case doFirst:
					base, group = "ss_stack_first_", p.saveFirst
				default:
					base, group = "ss_stack_last_", p.saveLast
				}
				if stackIndex < (group-1)/maxPer {
					hdr.FrameCount = uint32(maxPer)
				} else {
					hdr.FrameCount = uint32((group-1)%maxPer) + 1
				}
				name = a.filePath(base + strconv.FormatUint(stackIndex, 10))

				var err error
				file, err = a.newSaver(name, hdr)
				if err != nil {
					a.log.Error("error in opening file", "path", name, "frameIndex", frameIndex, "error", err.Error())
					keepGoing = false
					file = nil
				}
			}

			if file != nil {
				err := file.WriteFrame(f, a.cfg.FrameExposure(f.Info().FrameNr))
				switch {
				case errors.Is(err, frame.ErrMetadataCorrupt):
					// A corrupt frame is dropped; the run goes on.
					a.log.Warning("corrupt frame metadata, dropping", "frameNr", f.Info().FrameNr, "error", err.Error())
				case err != nil:
					a.log.Error("error in writing raw data", "path", name, "frameIndex", frameIndex, "error", err.Error())
					keepGoing = false
				default:
					a.saved.Add(1)
					a.bitrate.Report(int(a.frameBytes))
				}
			}
		}

		if !keepGoing {
			a.RequestAbort(true)
		}
		f.Invalidate()
		a.pool.Return(f)
		frameIndex++
	}

	// Close the last file if one remained open.
	if file != nil {
		err := file.Close()
		if err != nil {
			a.log.Error("error in closing file", "path", name, "error", err.Error())
		}
	}
}

// heartbeat lets the preview know the disk worker is still going once the
// acquisition side has finished.
func (a *Acquisition) heartbeat() {
	if a.acqDone.Load() && a.limiter != nil {
		a.limiter.InputNewFrame(nil)
	}
}
