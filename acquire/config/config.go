/*
NAME
  config.go

DESCRIPTION
  config.go provides the configuration for an acquisition session. The
  coordinator owns and mutates the Config; once acquisition starts, workers
  observe an immutable snapshot. Drivers fill in discovered capability
  fields through the restricted CapabilityWriter view.

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

// Package config contains the configuration settings for an acquisition
// session.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/scicam/frame"
)

// AcqMode selects how frames are acquired and when acquisition ends.
type AcqMode int

// Acquisition modes. Live modes ignore the frame-count cap and disable
// save-last.
const (
	SnapSequence AcqMode = iota
	SnapCircBuffer
	SnapTimeLapse
	LiveCircBuffer
	LiveTimeLapse
)

var acqModeNames = map[AcqMode]string{
	SnapSequence:   "SnapSequence",
	SnapCircBuffer: "SnapCircBuffer",
	SnapTimeLapse:  "SnapTimeLapse",
	LiveCircBuffer: "LiveCircBuffer",
	LiveTimeLapse:  "LiveTimeLapse",
}

func (m AcqMode) String() string {
	if s, ok := acqModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("AcqMode(%d)", int(m))
}

// IsLive reports whether the mode runs until stopped rather than to a
// configured frame count.
func (m AcqMode) IsLive() bool {
	return m == LiveCircBuffer || m == LiveTimeLapse
}

// IsTimeLapse reports whether the driver delivers each exposure as frame
// number 1 and the wrapper renumbers them.
func (m AcqMode) IsTimeLapse() bool {
	return m == SnapTimeLapse || m == LiveTimeLapse
}

// StorageType selects the on-disk format for saved frames.
type StorageType int

// Storage types. StorageNone disables file writes but keeps the disk
// worker's accounting intact.
const (
	StorageNone StorageType = iota
	StoragePrd
	StorageTiff
)

var storageNames = map[StorageType]string{
	StorageNone: "None",
	StoragePrd:  "Prd",
	StorageTiff: "Tiff",
}

func (s StorageType) String() string {
	if n, ok := storageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("StorageType(%d)", int(s))
}

// Ext returns the file extension for the storage type.
func (s StorageType) Ext() string {
	switch s {
	case StoragePrd:
		return ".prd"
	case StorageTiff:
		return ".tiff"
	}
	return ""
}

// Trigger modes.
const (
	TrigTimed int32 = iota
	TrigVariableTimed
)

// Exposure resolutions, expressed as microseconds per unit.
const (
	ResUs = uint32(1)
	ResMs = uint32(1000)
	ResS  = uint32(1000000)
)

// Errors returned by setters and validation.
var (
	ErrExposureResolution = errors.New("config: invalid exposure resolution")
	ErrNoRegions          = errors.New("config: no acquisition regions")
	ErrBinningMismatch    = errors.New("config: binning differs across regions")
	ErrNoVtmExposures     = errors.New("config: variable timed mode without exposures")
	ErrNoFrameCount       = errors.New("config: snap mode without frame count")
)

// Config provides parameters relevant to one acquisition session. A new
// config must be passed to the engine's Setup.
type Config struct {
	// Logger is the logger used throughout the pipeline.
	Logger logging.Logger

	// AcqMode selects the acquisition mode. Snap modes deliver AcqFrameCount
	// frames; Live modes run until aborted.
	AcqMode AcqMode

	// AcqFrameCount is the number of frames to acquire in snap modes.
	AcqFrameCount uint32

	// BufferFrameCount is the number of slots in the driver's circular
	// buffer.
	BufferFrameCount uint32

	// Exposure is the exposure time in ExposureResolution units.
	Exposure uint32

	// ExposureResolution is one of ResUs, ResMs or ResS. Use
	// SetExposureResolution to change it with validation.
	ExposureResolution uint32

	// VtmExposures is the exposure ring for variable timed mode. Frame k
	// uses VtmExposures[(k-1) mod len].
	VtmExposures []uint16

	// TrigMode is the trigger mode; TrigVariableTimed draws exposures from
	// VtmExposures.
	TrigMode int32

	// MetadataEnabled requests embedded metadata in delivered frames.
	MetadataEnabled bool

	// Regions are the sensor regions to acquire. All regions must share
	// binning factors.
	Regions []frame.Region

	// StorageType selects the output format; StorageNone disables writes.
	StorageType StorageType

	// SaveDir is the output directory; empty means the working directory.
	SaveDir string

	// SaveFirst and SaveLast bound saving to the first and last N frames.
	// Zero disables the respective bound.
	SaveFirst uint32
	SaveLast  uint32

	// MaxStackSize is the stacked-file size limit in bytes. Zero selects
	// single-frame files.
	MaxStackSize uint64

	// TimeLapseDelay is the delay between time-lapse exposures.
	TimeLapseDelay time.Duration

	// TrackMaxTrajectories and TrackMaxPoints size the per-frame trajectory
	// capacity reserved in PRD extended metadata. Zero disables the block.
	TrackMaxTrajectories uint32
	TrackMaxPoints       uint32

	// Capability fields discovered from the device. These are filled by the
	// driver through CapabilityWriter and are read-only for everyone else.
	BitDepth          uint16
	SensorWidth       uint16
	SensorHeight      uint16
	ColorMask         uint8
	RegionCountMax    uint16
	CircBufferCapable bool
	MetadataCapable   bool
}

// CapabilityWriter is the narrow view through which a driver records
// discovered device capabilities. It is only handed out by Config.
type CapabilityWriter struct {
	c *Config
}

// Capabilities returns the writer view for drivers.
func (c *Config) Capabilities() CapabilityWriter { return CapabilityWriter{c} }

func (w CapabilityWriter) SetBitDepth(v uint16)       { w.c.BitDepth = v }
func (w CapabilityWriter) SetSensorWidth(v uint16)    { w.c.SensorWidth = v }
func (w CapabilityWriter) SetSensorHeight(v uint16)   { w.c.SensorHeight = v }
func (w CapabilityWriter) SetColorMask(v uint8)       { w.c.ColorMask = v }
func (w CapabilityWriter) SetRegionCountMax(v uint16) { w.c.RegionCountMax = v }
func (w CapabilityWriter) SetCircBufferCapable(v bool) {
	w.c.CircBufferCapable = v
}
func (w CapabilityWriter) SetMetadataCapable(v bool) { w.c.MetadataCapable = v }

// SetExposureResolution sets the exposure resolution, rejecting anything
// other than the defined units.
func (c *Config) SetExposureResolution(v uint32) error {
	switch v {
	case ResUs, ResMs, ResS:
		c.ExposureResolution = v
		return nil
	}
	return fmt.Errorf("%w: %d", ErrExposureResolution, v)
}

// FrameExposure returns the exposure time for the given 1-based frame
// number. In variable timed mode exposures are drawn from the VtmExposures
// ring; otherwise the configured exposure applies.
func (c *Config) FrameExposure(frameNr uint32) uint32 {
	if c.TrigMode == TrigVariableTimed && len(c.VtmExposures) > 0 {
		return uint32(c.VtmExposures[(frameNr-1)%uint32(len(c.VtmExposures))])
	}
	return c.Exposure
}

// ImpliedRegion returns the smallest region enclosing all configured
// regions, with the binning of the first.
func (c *Config) ImpliedRegion() frame.Region {
	return ImpliedRegion(c.Regions)
}

// ImpliedRegion returns the smallest region enclosing all given regions.
func ImpliedRegion(regions []frame.Region) frame.Region {
	var implied frame.Region
	for i, r := range regions {
		if i == 0 {
			implied = r
			continue
		}
		if r.S1 < implied.S1 {
			implied.S1 = r.S1
		}
		if r.S2 > implied.S2 {
			implied.S2 = r.S2
		}
		if r.P1 < implied.P1 {
			implied.P1 = r.P1
		}
		if r.P2 > implied.P2 {
			implied.P2 = r.P2
		}
	}
	return implied
}

// Validate checks that the configuration is self-consistent. It returns
// the first problem found.
func (c *Config) Validate() error {
	switch c.ExposureResolution {
	case ResUs, ResMs, ResS:
	default:
		return fmt.Errorf("%w: %d", ErrExposureResolution, c.ExposureResolution)
	}
	if len(c.Regions) == 0 {
		return ErrNoRegions
	}
	first := c.Regions[0]
	for _, r := range c.Regions[1:] {
		if r.Sbin != first.Sbin || r.Pbin != first.Pbin {
			return ErrBinningMismatch
		}
	}
	for _, r := range c.Regions {
		if r.Sbin == 0 || r.Pbin == 0 || r.S2 < r.S1 || r.P2 < r.P1 {
			return fmt.Errorf("config: malformed region %+v", r)
		}
	}
	if c.TrigMode == TrigVariableTimed && len(c.VtmExposures) == 0 {
		return ErrNoVtmExposures
	}
	if !c.AcqMode.IsLive() && c.AcqFrameCount == 0 {
		return ErrNoFrameCount
	}
	return nil
}

// Snapshot returns a copy of the config with its slices detached, safe to
// hand to workers while the owner keeps mutating the original between
// runs.
func (c *Config) Snapshot() Config {
	out := *c
	out.Regions = append([]frame.Region(nil), c.Regions...)
	out.VtmExposures = append([]uint16(nil), c.VtmExposures...)
	return out
}
