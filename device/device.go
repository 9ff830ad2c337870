/*
DESCRIPTION
  device.go provides Camera, an interface that describes a configurable
  scientific camera driver from which frames may be obtained through an
  end-of-frame callback, together with a registry of available drivers.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package device provides an interface and a registry for camera drivers
// feeding the acquisition pipeline.
package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/scicam/acquire/config"
	"github.com/ausocean/scicam/frame"
)

// AcqStatus reports the driver-side state of a running exposure.
type AcqStatus int

const (
	StatusInactive AcqStatus = iota
	StatusActive
	StatusFailure
)

// FrameInfo is the per-frame information the driver hands to the EOF
// callback. A nil *FrameInfo passed to the callback signals device failure.
type FrameInfo struct {
	FrameNr      uint32
	TimestampBOF uint64
	TimestampEOF uint64
}

// EOFCallback is invoked on the driver's delivery thread after every
// completed exposure. Implementations must not block on the device.
type EOFCallback func(info *FrameInfo)

// Camera describes a configurable camera driver. All, some or none of the
// Config fields may be consulted by an implementation; an implementation
// should specify what fields are considered.
type Camera interface {
	// Name returns the name of the camera.
	Name() string

	// Open prepares the device for use. Capability fields of the config
	// passed to SetupExp are revised through its CapabilityWriter.
	Open() error

	// Close releases the device.
	Close() error

	// SetupExp configures the device ring for BufferFrameCount frames and
	// returns the per-frame byte count.
	SetupExp(c *config.Config) (uint32, error)

	// StartExp begins exposing, delivering an EOF callback per exposure.
	StartExp(cb EOFCallback) error

	// StopExp stops exposing. Pending callbacks may still be in flight when
	// StopExp returns.
	StopExp() error

	// AcqStatus reports whether the exposure is still being delivered.
	AcqStatus() AcqStatus

	// GetLatestFrame points the given frame at the most recent ring slot
	// and stashes its shallow info. The data must be copied out before the
	// slot is overwritten.
	GetLatestFrame(f *frame.Frame) error

	// FrameAcqCfg returns the frame configuration of the current setup.
	FrameAcqCfg() frame.AcqCfg

	// MaxBufferedFrames returns the ring capacity. Always at least 3.
	MaxBufferedFrames() uint32

	// Settings returns a snapshot of the configuration the device was set
	// up with.
	Settings() config.Config
}

// Factory creates a camera driver.
type Factory func(l logging.Logger) Camera

var (
	driversMu sync.Mutex
	drivers   = map[string]Factory{}
)

// Register makes a driver available under the given name. It is intended
// to be called from driver package init functions.
func Register(name string, f Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = f
}

// Count returns the number of registered drivers.
func Count() int {
	driversMu.Lock()
	defer driversMu.Unlock()
	return len(drivers)
}

// Names returns the registered driver names in sorted order.
func Names() []string {
	driversMu.Lock()
	defer driversMu.Unlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NameAt returns the i'th registered driver name.
func NameAt(i int) (string, error) {
	names := Names()
	if i < 0 || i >= len(names) {
		return "", fmt.Errorf("device: no driver at index %d", i)
	}
	return names[i], nil
}

// Open creates the named driver and opens it.
func Open(name string, l logging.Logger) (Camera, error) {
	driversMu.Lock()
	f, ok := drivers[name]
	driversMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("device: unknown driver %q", name)
	}
	cam := f(l)
	if err := cam.Open(); err != nil {
		return nil, fmt.Errorf("device: could not open %q: %w", name, err)
	}
	return cam, nil
}
