/*
NAME
  report.go

DESCRIPTION
  report.go provides the reporter worker (progress line and free-RAM-driven
  save queue sizing), the statistics snapshots and the end-of-run tables.

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
	"fmt"
	"math"
	"strings"
	"time"
)

// Stats is a self-consistent snapshot of one pipeline side. Peak is the
// maximum observed queue occupancy; Max is the queue capacity. The two are
// different measurements and are reported separately.
type Stats struct {
	FPS          float64
	FramesValid  uint64
	FramesLost   uint64
	FramesPeak   int64
	FramesMax    int64
	FramesCached int
	Saved        uint64
	OutOfOrder   uint32
}

// GetAcqStats returns the acquisition-side statistics.
func (a *Acquisition) GetAcqStats() Stats {
	valid, lost := a.acqValid.Load(), a.acqLost.Load()
	s := Stats{
		FramesValid:  valid,
		FramesLost:   lost,
		FramesPeak:   a.toProcess.peak.Load(),
		FramesMax:    a.toProcess.maxSize(),
		FramesCached: a.toProcess.len(),
		OutOfOrder:   a.outOfOrder.Load(),
	}
	if start := a.acqStartNs.Load(); start != 0 && !a.acqDone.Load() {
		if secs := time.Since(time.Unix(0, start)).Seconds(); secs > 0 {
			s.FPS = float64(valid+lost) / secs
		}
	}
	return s
}

// GetDiskStats returns the disk-side statistics.
func (a *Acquisition) GetDiskStats() Stats {
	valid, lost := a.savedValid.Load(), a.toSave.lost.Load()
	s := Stats{
		FramesValid:  valid,
		FramesLost:   lost,
		FramesPeak:   a.toSave.peak.Load(),
		FramesMax:    a.toSave.maxSize(),
		FramesCached: a.toSave.len(),
		Saved:        a.saved.Load(),
	}
	if start := a.diskStartNs.Load(); start != 0 && !a.diskDone.Load() {
		if secs := time.Since(time.Unix(0, start)).Seconds(); secs > 0 {
			s.FPS = float64(valid+lost) / secs
		}
	}
	return s
}

// updateToSaveMax recomputes the save queue capacity from system memory:
// max(floor, min(2*physical, virtual-4GiB)/frameBytes). On a system with
// no more than 4GiB of virtual memory the capacity stays at the floor. The
// queue itself never shrinks below its current occupancy.
func (a *Acquisition) updateToSaveMax() {
	phys, virt, err := a.memInfo()
	if err != nil {
		a.log.Debug("could not read memory statistics", "error", err.Error())
		a.toSave.setMax(saveQueueFloor)
		return
	}
	const fourGiB = uint64(4) << 30
	capacity := int64(saveQueueFloor)
	if virt > fourGiB && a.frameBytes > 0 {
		limit := 2 * phys
		if v := virt - fourGiB; v < limit {
			limit = v
		}
		if n := int64(limit / uint64(a.frameBytes)); n > capacity {
			capacity = n
		}
	}
	a.toSave.setMax(capacity)
}

// updateLoop is the reporter: a progress line every tick, and a save queue
// capacity refresh every saveQueueRefreshTicks ticks while acquisition is
// alive.
func (a *Acquisition) updateLoop(done chan struct{}) {
	defer close(done)

	spinner := []string{"|", "/", "-", "\\"}
	var spin, refresh int

	for !(a.acqDone.Load() && a.diskDone.Load()) {
		select {
		case <-a.updateCh:
		case <-time.After(a.tick):
		}
		if a.acqDone.Load() && a.diskDone.Load() {
			break
		}

		// Don't update limits too often.
		refresh++
		if refresh%saveQueueRefreshTicks == 0 && !a.acqDone.Load() {
			a.updateToSaveMax()
		}

		var b strings.Builder
		caught := a.acqValid.Load() + a.acqLost.Load()
		fmt.Fprintf(&b, "%s so far caught %d frames", spinner[spin], caught)
		if lost := a.acqLost.Load(); lost > 0 {
			fmt.Fprintf(&b, " (%d lost)", lost)
		}
		fmt.Fprintf(&b, ", %d queued for processing", a.acqValid.Load())
		if dropped := a.toSave.lost.Load(); dropped > 0 {
			fmt.Fprintf(&b, " (%d dropped)", dropped)
		}
		fmt.Fprintf(&b, ", %d processed", a.savedValid.Load())
		fmt.Fprintf(&b, ", %d saved", a.saved.Load())

		if a.diskAbort.Load() {
			b.WriteString(", aborting...")
		} else if a.acqAbort.Load() {
			b.WriteString(", finishing...")
		}

		fmt.Fprintf(a.progress, "\r%s", b.String())
		spin = (spin + 1) % len(spinner)
	}
}

// mibps returns throughput in MiB/s rounded to one decimal place.
func mibps(fps float64, frameBytes uint32) float64 {
	return math.Round(fps*float64(frameBytes)*10/1024/1024) / 10
}

// printAcqStats logs the acquisition-side end-of-run table.
func (a *Acquisition) printAcqStats() {
	valid, lost := a.acqValid.Load(), a.acqLost.Load()
	frameCount := valid + lost

	a.gapsMu.Lock()
	drops := a.uncaught.Count()
	avg := a.uncaught.AvgSpacing()
	largest := a.uncaught.LargestCluster()
	a.gapsMu.Unlock()

	var dropsPercent float64
	if frameCount > 0 {
		dropsPercent = float64(drops) / float64(frameCount) * 100
	}
	var fps float64
	if secs := time.Duration(a.acqElapsedNs.Load()).Seconds(); secs > 0 {
		fps = float64(valid) / secs
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\nAcquisition thread queue stats:")
	fmt.Fprintf(&b, "\n    Frame count = %d", frameCount)
	fmt.Fprintf(&b, "\n  # Frame drops = %d", drops)
	fmt.Fprintf(&b, "\n  %% Frame drops = %g", dropsPercent)
	fmt.Fprintf(&b, "\n  Average # frames between drops = %g", avg)
	fmt.Fprintf(&b, "\n  Longest series of dropped frames = %d", largest)
	fmt.Fprintf(&b, "\n  Max. used frames = %d out of %d", a.toProcess.peak.Load(), a.toProcess.maxSize())
	fmt.Fprintf(&b, "\n  Acquisition ran with %g fps (~%gMiB/s)", fps, mibps(fps, a.frameBytes))
	if ooo := a.outOfOrder.Load(); ooo > 0 {
		fmt.Fprintf(&b, "\n  %d frames with frame number <= last stored frame number", ooo)
	}
	a.log.Info(b.String())
}

// printDiskStats logs the disk-side end-of-run table. The save queue
// capacity can end up below its peak after a free-RAM refresh, which would
// only confuse readers, so the capacity is omitted here.
func (a *Acquisition) printDiskStats() {
	valid, lost := a.savedValid.Load(), a.toSave.lost.Load()
	frameCount := valid + lost

	a.gapsMu.Lock()
	drops := a.unsaved.Count()
	avg := a.unsaved.AvgSpacing()
	largest := a.unsaved.LargestCluster()
	a.gapsMu.Unlock()

	var dropsPercent float64
	if frameCount > 0 {
		dropsPercent = float64(drops) / float64(frameCount) * 100
	}
	var fps float64
	if secs := time.Duration(a.diskElapsedNs.Load()).Seconds(); secs > 0 {
		fps = float64(valid) / secs
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\nProcessing thread queue stats:")
	fmt.Fprintf(&b, "\n    Frame count = %d", frameCount)
	fmt.Fprintf(&b, "\n  # Frame drops = %d", drops)
	fmt.Fprintf(&b, "\n  %% Frame drops = %g", dropsPercent)
	fmt.Fprintf(&b, "\n  Average # frames between drops = %g", avg)
	fmt.Fprintf(&b, "\n  Longest series of dropped frames = %d", largest)
	fmt.Fprintf(&b, "\n  Max. used frames = %d", a.toSave.peak.Load())
	fmt.Fprintf(&b, "\n  Processing ran with %g fps (~%gMiB/s)", fps, mibps(fps, a.frameBytes))
	a.log.Info(b.String())
}
