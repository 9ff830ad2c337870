/*
NAME
  acquire.go

DESCRIPTION
  acquire.go provides Acquisition, the coordinator of the three-stage frame
  pipeline. The driver's EOF callback hands captured frames into a bounded
  to-process queue; the acquisition worker deep copies, classifies and
  forwards them to the to-save queue; the disk worker persists them; a
  reporter prints progress and resizes the save queue against free RAM.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Alan Noble <alan@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package acquire provides the camera acquisition engine: bounded pipeline
// queues, the frame workers, the FPS limiter and run statistics.
package acquire

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ausocean/utils/bitrate"
	"github.com/ausocean/utils/logging"

	"github.com/ausocean/scicam/acquire/config"
	"github.com/ausocean/scicam/container/prd"
	"github.com/ausocean/scicam/device"
	"github.com/ausocean/scicam/frame"
	"github.com/ausocean/scicam/stats"
)

// Timing constants for the workers.
const (
	// toProcessTimeout bounds the acquisition worker's wait so driver
	// liveness can be polled.
	toProcessTimeout = 5 * time.Second

	// updatePeriod is the reporter's tick interval.
	updatePeriod = 500 * time.Millisecond

	// saveQueueRefreshTicks is how many reporter ticks pass between save
	// queue capacity refreshes.
	saveQueueRefreshTicks = 8

	// saveQueueFloor is the minimum save queue capacity.
	saveQueueFloor = 128
)

// Errors returned by setup and start.
var (
	ErrNotSetup      = errors.New("acquire: setup has not run")
	ErrZeroFrame     = errors.New("acquire: setup yielded a zero frame size")
	ErrStackTooSmall = errors.New("acquire: stack size too small")
	ErrStorageType   = errors.New("acquire: unknown storage type")
)

// Acquisition owns the pipeline queues, the free-frame pool and the three
// worker goroutines of one acquisition session.
type Acquisition struct {
	cam device.Camera
	log logging.Logger
	cfg config.Config

	pool      *frame.Pool
	toProcess *frameQueue // Captured, awaiting deep copy and classification.
	toSave    *frameQueue // Processed, awaiting persistence.
	limiter   *Limiter

	mu           sync.Mutex // Covers session state below.
	setup        bool
	running      bool
	acqDoneCh    chan struct{}
	diskDoneCh   chan struct{}
	updateDoneCh chan struct{}

	frameBytes        uint32
	maxFramesPerStack uint32

	acqAbort  atomic.Bool
	diskAbort atomic.Bool
	acqDone   atomic.Bool
	diskDone  atomic.Bool

	lastFrameNr    uint32 // Acquisition worker only.
	latestReceived atomic.Uint32
	outOfOrder     atomic.Uint32

	acqValid   atomic.Uint64 // Frames queued for processing.
	acqLost    atomic.Uint64 // Frames never processed (gaps, staleness, order).
	savedValid atomic.Uint64 // Frames the disk worker consumed.
	saved      atomic.Uint64 // Frames written to files.

	gapsMu   sync.Mutex
	uncaught stats.Gaps // Frame numbers lost on the acquisition side.
	unsaved  stats.Gaps // Frame ordinals dropped on save queue overflow.

	acqStartNs    atomic.Int64
	acqElapsedNs  atomic.Int64
	diskStartNs   atomic.Int64
	diskElapsedNs atomic.Int64

	bitrate bitrate.Calculator

	updateCh chan struct{}
	tick     time.Duration
	progress io.Writer
	memInfo  func() (phys, virt uint64, err error)
}

// New returns an Acquisition driving the given camera. Setup must run
// before Start.
func New(cam device.Camera, l logging.Logger) *Acquisition {
	return &Acquisition{
		cam:       cam,
		log:       l,
		pool:      frame.NewPool(l),
		toProcess: newFrameQueue(1),
		toSave:    newFrameQueue(saveQueueFloor),
		updateCh:  make(chan struct{}, 1),
		tick:      updatePeriod,
		progress:  os.Stdout,
		memInfo:   sysMemInfo,
	}
}

// Setup validates the configuration, configures the device exposure, sizes
// the output stacks and preallocates the frame pool. It must run before
// every Start whose configuration changed.
func (a *Acquisition) Setup(cfg config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("acquire: cannot set up while running")
	}
	if cfg.Logger == nil {
		cfg.Logger = a.log
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	frameBytes, err := a.cam.SetupExp(&cfg)
	if err != nil {
		return fmt.Errorf("could not set up exposure: %w", err)
	}
	if frameBytes == 0 {
		return ErrZeroFrame
	}
	a.cfg = cfg.Snapshot()
	a.frameBytes = frameBytes

	if err := a.configureStorage(); err != nil {
		return err
	}
	a.preallocate()
	a.setup = true
	return nil
}

// configureStorage sizes PRD stacks and refuses configurations whose stack
// cannot hold at least two frames.
func (a *Acquisition) configureStorage() error {
	h := a.storageHeader(1)
	a.log.Info("size of PRD file with single frame", "bytes", prd.FileSize(h))

	a.maxFramesPerStack = prd.FrameCountThatFitsIn(h, a.cfg.MaxStackSize)
	if a.cfg.MaxStackSize > 0 {
		h.FrameCount = a.maxFramesPerStack
		a.log.Info("max size of PRD file with stacked frames",
			"frames", a.maxFramesPerStack, "bytes", prd.FileSize(h))
		if a.maxFramesPerStack < 2 {
			return ErrStackTooSmall
		}
	}
	a.updateToSaveMax()
	return nil
}

// storageHeader builds the PRD header describing this acquisition.
func (a *Acquisition) storageHeader(frameCount uint32) prd.Header {
	extSize := prd.TrajectoriesSize(frame.TrajectoriesHeader{
		MaxTrajectories: a.cfg.TrackMaxTrajectories,
		MaxPoints:       a.cfg.TrackMaxPoints,
	})
	var flags uint8
	if a.cam.FrameAcqCfg().HasMetadata {
		flags |= prd.FlagHasMetadata
	}
	return prd.Header{
		Version:            prd.Version05,
		BitDepth:           a.cfg.BitDepth,
		FrameCount:         frameCount,
		Region:             a.cfg.ImpliedRegion(),
		SizeOfMetaStruct:   prd.MetaDataLen + extSize,
		ExposureResolution: a.cfg.ExposureResolution,
		ColorMask:          a.cfg.ColorMask,
		Flags:              flags,
		FrameSize:          a.frameBytes,
	}
}

// preallocate re-establishes the queues and pool for the next run. Frames
// still queued from a previous run go back through the pool first.
func (a *Acquisition) preallocate() {
	q1 := int64(a.cam.MaxBufferedFrames()) - 2
	if q1 < 1 {
		q1 = 1
	}
	a.toProcess.setMax(q1)
	a.updateToSaveMax()

	for _, f := range append(a.toProcess.drain(), a.toSave.drain()...) {
		f.Invalidate()
		a.pool.Return(f)
	}

	var in100MB int64
	if a.frameBytes > 0 {
		in100MB = int64((100 << 20) / a.frameBytes)
	}
	target := int64(a.cfg.AcqFrameCount)
	if in100MB < target {
		target = in100MB
	}
	target += 10
	if q2 := a.toSave.maxSize(); target > q2 {
		target = q2
	}

	// Sequence-mode frames reference the driver's sequence buffer, so
	// there is no reason to copy the data out of it.
	deep := a.cfg.AcqMode != config.SnapSequence
	a.pool.Preallocate(a.cam.FrameAcqCfg(), deep, int(target))
}

// Start launches the disk worker, the reporter and the acquisition worker,
// in that order. A non-nil limiter receives a copy of every processed
// frame for preview pacing.
func (a *Acquisition) Start(limiter *Limiter) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.setup {
		return ErrNotSetup
	}
	if a.running {
		a.log.Warning("start called, but acquisition already running")
		return nil
	}
	a.limiter = limiter

	a.acqAbort.Store(false)
	a.diskAbort.Store(false)
	a.acqDone.Store(false)
	a.diskDone.Store(false)

	a.lastFrameNr = 0
	a.latestReceived.Store(0)
	a.outOfOrder.Store(0)
	a.acqValid.Store(0)
	a.acqLost.Store(0)
	a.savedValid.Store(0)
	a.saved.Store(0)
	a.toProcess.peak.Store(0)
	a.toProcess.lost.Store(0)
	a.toSave.peak.Store(0)
	a.toSave.lost.Store(0)
	a.acqStartNs.Store(0)
	a.acqElapsedNs.Store(0)
	a.diskStartNs.Store(0)
	a.diskElapsedNs.Store(0)
	a.gapsMu.Lock()
	a.uncaught.Clear()
	a.unsaved.Clear()
	a.gapsMu.Unlock()

	a.acqDoneCh = make(chan struct{})
	a.diskDoneCh = make(chan struct{})
	a.updateDoneCh = make(chan struct{})

	// Start everything but acquisition first to reduce the overall system
	// load once frames begin arriving.
	go a.diskLoop(a.diskDoneCh)
	go a.updateLoop(a.updateDoneCh)
	go a.acqLoop(a.acqDoneCh)

	a.running = true
	return nil
}

// IsRunning reports whether any worker of the current session is alive.
func (a *Acquisition) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Bitrate returns the most recent disk throughput figure in bits per
// second.
func (a *Acquisition) Bitrate() int {
	return a.bitrate.Bitrate()
}

// RequestAbort asks the workers to stop at their next check point. With
// preserveBuffered set the save queue is drained before the disk worker
// exits; otherwise both sides stop as soon as possible.
func (a *Acquisition) RequestAbort(preserveBuffered bool) {
	a.acqAbort.Store(true)
	a.toProcess.notifyAll()
	if !preserveBuffered {
		a.diskAbort.Store(true)
		a.toSave.notifyAll()
		a.notifyUpdate()
	}
	a.pool.SetFinished()
}

// WaitForStop joins all workers, optionally prints the end-of-run tables,
// logs a single stopped/finished line, and preallocates the pool for the
// next run. It reports whether the run was aborted.
func (a *Acquisition) WaitForStop(printStats bool) bool {
	a.mu.Lock()
	acqCh, diskCh, updCh := a.acqDoneCh, a.diskDoneCh, a.updateDoneCh
	a.acqDoneCh, a.diskDoneCh, a.updateDoneCh = nil, nil, nil
	a.mu.Unlock()

	printEnd := acqCh != nil && diskCh != nil && updCh != nil
	if acqCh != nil {
		<-acqCh
	}
	if diskCh != nil {
		<-diskCh
	}
	if updCh != nil {
		<-updCh
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	if printStats {
		a.printAcqStats()
		a.printDiskStats()
	}

	aborted := a.acqAbort.Load() || a.diskAbort.Load()
	if printEnd {
		if aborted {
			a.log.Info("Acquisition stopped")
		} else {
			a.log.Info("Acquisition finished")
		}
	}

	// Release most of the frames back to a fresh pool; the frame config is
	// unchanged so this cannot fail.
	a.preallocate()

	return aborted
}

// onEOF is the driver's end-of-frame ingress. It runs on the driver's
// delivery thread and must stay cheap: one pool draw, one latest-frame
// fetch, one queue push.
func (a *Acquisition) onEOF(info *device.FrameInfo) {
	if info == nil {
		a.log.Error("driver delivered null frame info")
		a.RequestAbort(true)
		return
	}
	if a.acqAbort.Load() {
		return
	}

	f := a.pool.Draw()
	if f == nil {
		return
	}
	if err := a.cam.GetLatestFrame(f); err != nil {
		a.log.Error("could not get latest frame", "error", err.Error())
		f.Invalidate()
		a.pool.Return(f)
		a.RequestAbort(true)
		return
	}
	a.latestReceived.Store(info.FrameNr)

	// The device ring is about to overwrite the oldest slot anyway, so on
	// overflow the oldest queued frame is the one to go.
	if dropped := a.toProcess.pushDropOldest(f); dropped != nil {
		dropped.Invalidate()
		a.pool.Return(dropped)
	}
}

// acqLoop is the acquisition worker: it drains the to-process queue, deep
// copies and classifies frames, and forwards them to the save queue.
func (a *Acquisition) acqLoop(done chan struct{}) {
	defer func() {
		a.acqDone.Store(true)
		a.toSave.notifyAll()
		a.notifyUpdate()
		close(done)
	}()

	isLive := a.cfg.AcqMode.IsLive()
	frameCount := uint64(a.cfg.AcqFrameCount)
	if isLive {
		frameCount = 0
	}

	if err := a.cam.StartExp(a.onEOF); err != nil {
		a.log.Error("could not start exposure", "error", err.Error())
		a.RequestAbort(true)
		return
	}
	// Start up might take some time; don't count it.
	a.acqStartNs.Store(time.Now().UnixNano())
	a.log.Info("acquisition has started successfully")

	for (isLive || a.acqValid.Load()+a.acqLost.Load() < frameCount) && !a.acqAbort.Load() {
		f, timedOut := a.toProcess.pop(toProcessTimeout, func() bool { return a.acqAbort.Load() })
		if timedOut {
			if a.cam.AcqStatus() == device.StatusActive {
				continue
			}
			a.log.Error("acquisition seems to be not active anymore")
			a.RequestAbort(true)
			break
		}
		if f == nil {
			break
		}
		if !a.handleNewFrame(f) {
			a.RequestAbort(true)
			break
		}
	}

	a.acqElapsedNs.Store(time.Now().UnixNano() - a.acqStartNs.Load())
	a.cam.StopExp()
	a.log.Info(fmt.Sprintf("%d frames acquired from the camera and %d of them queued for processing in %v",
		a.acqValid.Load()+a.acqLost.Load(), a.acqValid.Load(),
		time.Duration(a.acqElapsedNs.Load()).Round(time.Millisecond)))
}

// handleNewFrame copies one captured frame out of the device ring and
// classifies it. It returns false only when the copy itself failed, which
// escalates to an abort in the caller.
func (a *Acquisition) handleNewFrame(f *frame.Frame) bool {
	if err := f.CopyData(); err != nil {
		a.log.Error("could not copy frame data", "error", err.Error())
		a.acqLost.Add(1)
		f.Invalidate()
		a.pool.Return(f)
		return false
	}
	nr := f.Info().FrameNr

	// Staleness: once the ring has lapped this frame its data is presumed
	// overwritten.
	if latest := a.latestReceived.Load(); latest >= nr && int64(latest-nr) >= a.toProcess.maxSize() {
		a.log.Debug("frame overwritten before copy, dropping", "frameNr", nr, "latest", latest)
		if nr > a.lastFrameNr {
			if a.lastFrameNr == 0 {
				a.acqLost.Add(1)
				a.addUncaught(nr, nr)
			} else {
				a.acqLost.Add(uint64(nr - a.lastFrameNr))
				a.addUncaught(a.lastFrameNr+1, nr)
			}
			a.lastFrameNr = nr
		} else {
			a.acqLost.Add(1)
		}
		f.Invalidate()
		a.pool.Return(f)
		return true
	}

	if nr <= a.lastFrameNr {
		a.outOfOrder.Add(1)
		a.log.Error("frame number out of order, ignoring", "frameNr", nr, "last", a.lastFrameNr)
		a.acqLost.Add(1)
		f.Invalidate()
		a.pool.Return(f)
		return true
	}

	// Gap fill. A gap from zero means the source simply started above 1,
	// not that frames were lost.
	if lost := nr - a.lastFrameNr - 1; lost > 0 && a.lastFrameNr != 0 {
		a.acqLost.Add(uint64(lost))
		a.addUncaught(a.lastFrameNr+1, nr-1)
	}
	a.lastFrameNr = nr
	a.acqValid.Add(1)

	// Hand a copy to the preview path so display cannot slow down saving.
	if a.limiter != nil {
		if c := f.Clone(true); c != nil {
			a.limiter.InputNewFrame(c)
		}
	}

	if !a.toSave.tryPush(f) {
		// Not enough RAM to queue it for saving.
		a.gapsMu.Lock()
		a.unsaved.Add(uint32(a.acqValid.Load() + a.acqLost.Load()))
		a.gapsMu.Unlock()
		f.Invalidate()
		a.pool.Return(f)
	}
	return true
}

func (a *Acquisition) addUncaught(lo, hi uint32) {
	a.gapsMu.Lock()
	a.uncaught.AddRange(lo, hi)
	a.gapsMu.Unlock()
}

// filePath joins the configured save directory with the given base name
// and the storage extension.
func (a *Acquisition) filePath(base string) string {
	dir := a.cfg.SaveDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, base+a.cfg.StorageType.Ext())
}

func (a *Acquisition) notifyUpdate() {
	select {
	case a.updateCh <- struct{}{}:
	default:
	}
}
