/*
DESCRIPTION
  fake.go provides a synthetic camera driver implementing the device.Camera
  contract. It generates deterministic frames into an in-memory device ring
  and delivers EOF callbacks from its own goroutine, so the acquisition
  pipeline can be exercised without hardware. Test hooks allow scripted
  frame-number sequences, delivery pacing and fault injection.

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

// Package fake provides a synthetic camera driver for testing and
// demonstration.
package fake

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/scicam/acquire/config"
	"github.com/ausocean/scicam/device"
	"github.com/ausocean/scicam/frame"
)

// Name is the registry name of this driver.
const Name = "fake"

func init() {
	device.Register(Name, func(l logging.Logger) device.Camera { return New(l) })
}

// Errors returned by the fake driver.
var (
	ErrNotOpen   = errors.New("fake: camera not open")
	ErrNotSetup  = errors.New("fake: exposure not set up")
	ErrNoFrame   = errors.New("fake: no frame delivered yet")
	ErrZeroFrame = errors.New("fake: configuration yields empty frames")
	ErrRunning   = errors.New("fake: exposure already running")
)

// Camera is a synthetic camera. The zero value is not usable; use New.
type Camera struct {
	mu  sync.Mutex
	log logging.Logger

	open  bool
	setup bool
	cfg   config.Config

	acqCfg frame.AcqCfg
	ring   [][]byte

	latest     int
	latestInfo device.FrameInfo
	haveLatest bool

	status device.AcqStatus
	stop   chan struct{}
	wg     sync.WaitGroup

	// Test hooks.
	seq       []uint32
	interval  time.Duration
	failAfter uint32
	latestErr error
}

// New returns a fake camera logging through l.
func New(l logging.Logger) *Camera {
	return &Camera{log: l}
}

// Name implements device.Camera.
func (c *Camera) Name() string { return Name }

// Open implements device.Camera.
func (c *Camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return nil
}

// Close implements device.Camera.
func (c *Camera) Close() error {
	c.StopExp()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.setup = false
	return nil
}

// SetFrameSequence scripts the frame numbers delivered by the next
// exposure. Delivery stops after the sequence is exhausted.
func (c *Camera) SetFrameSequence(seq []uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = append([]uint32(nil), seq...)
}

// SetInterval paces frame delivery. Zero delivers at maximum rate.
func (c *Camera) SetInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
}

// FailAfter makes the driver signal device failure (a nil frame info)
// after n delivered frames.
func (c *Camera) FailAfter(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAfter = n
}

// FailLatestFrame forces GetLatestFrame to return err.
func (c *Camera) FailLatestFrame(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestErr = err
}

// SetupExp implements device.Camera. It consults AcqMode, AcqFrameCount,
// BufferFrameCount, Regions, MetadataEnabled, Exposure, ExposureResolution
// and TimeLapseDelay, revises the capability fields, and sizes the ring.
func (c *Camera) SetupExp(cfg *config.Config) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, ErrNotOpen
	}
	if c.status == device.StatusActive {
		return 0, ErrRunning
	}

	w := cfg.Capabilities()
	w.SetBitDepth(16)
	w.SetSensorWidth(2048)
	w.SetSensorHeight(2048)
	w.SetRegionCountMax(16)
	w.SetCircBufferCapable(true)
	w.SetMetadataCapable(true)
	w.SetColorMask(0)

	frameBytes := frameSize(cfg)
	if frameBytes == 0 {
		return 0, ErrZeroFrame
	}

	// Sequence mode exposes the whole sequence buffer rather than a
	// circular window, like a real sequence acquisition would.
	slots := cfg.BufferFrameCount
	if cfg.AcqMode == config.SnapSequence {
		slots = cfg.AcqFrameCount + 2
	}
	if slots < 3 {
		slots = 3
	}
	c.ring = make([][]byte, slots)
	for i := range c.ring {
		c.ring[i] = make([]byte, frameBytes)
	}

	c.cfg = cfg.Snapshot()
	c.acqCfg = frame.AcqCfg{
		FrameBytes:  frameBytes,
		RoiCount:    uint16(len(cfg.Regions)),
		HasMetadata: cfg.MetadataEnabled,
	}
	c.haveLatest = false
	c.setup = true
	return frameBytes, nil
}

// frameSize returns the raw size of one delivered frame for the given
// configuration.
func frameSize(cfg *config.Config) uint32 {
	if !cfg.MetadataEnabled {
		if len(cfg.Regions) == 0 {
			return 0
		}
		r := cfg.Regions[0]
		return 2 * uint32(r.Width()) * uint32(r.Height())
	}
	m := buildMeta(cfg, 0, 0, 0)
	return uint32(len(m.Bytes()))
}

// StartExp implements device.Camera.
func (c *Camera) StartExp(cb device.EOFCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.setup {
		return ErrNotSetup
	}
	if c.status == device.StatusActive {
		return ErrRunning
	}
	c.status = device.StatusActive
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.run(cb, c.stop)
	return nil
}

// StopExp implements device.Camera.
func (c *Camera) StopExp() error {
	c.mu.Lock()
	if c.stop == nil {
		c.mu.Unlock()
		return nil
	}
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()

	close(stop)
	c.wg.Wait()

	c.mu.Lock()
	if c.status == device.StatusActive {
		c.status = device.StatusInactive
	}
	c.mu.Unlock()
	return nil
}

// AcqStatus implements device.Camera.
func (c *Camera) AcqStatus() device.AcqStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// GetLatestFrame implements device.Camera.
func (c *Camera) GetLatestFrame(f *frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latestErr != nil {
		return c.latestErr
	}
	if !c.haveLatest {
		return ErrNoFrame
	}
	f.SetDataPointer(c.ring[c.latest])
	f.SetShallowInfo(frame.Info{
		FrameNr:      c.latestInfo.FrameNr,
		TimestampBOF: c.latestInfo.TimestampBOF,
		TimestampEOF: c.latestInfo.TimestampEOF,
	})
	return nil
}

// FrameAcqCfg implements device.Camera.
func (c *Camera) FrameAcqCfg() frame.AcqCfg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acqCfg
}

// MaxBufferedFrames implements device.Camera.
func (c *Camera) MaxBufferedFrames() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(len(c.ring))
}

// Settings implements device.Camera.
func (c *Camera) Settings() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Snapshot()
}

// run is the delivery loop. It writes each exposure into the next ring
// slot, records it as latest, and invokes the EOF callback, mimicking a
// device interrupt context.
func (c *Camera) run(cb device.EOFCallback, stop chan struct{}) {
	defer c.wg.Done()

	c.mu.Lock()
	cfg := c.cfg
	seq := c.seq
	interval := c.interval
	failAfter := c.failAfter
	c.mu.Unlock()

	if interval == 0 && cfg.AcqMode.IsTimeLapse() {
		interval = cfg.TimeLapseDelay
	}

	total := cfg.AcqFrameCount
	if cfg.AcqMode.IsLive() {
		total = 0
	}
	if len(seq) > 0 {
		total = uint32(len(seq))
	}

	expUs := uint64(cfg.Exposure) * uint64(cfg.ExposureResolution)
	start := time.Now()

	var delivered uint32
	for total == 0 || delivered < total {
		select {
		case <-stop:
			return
		default:
		}

		if failAfter > 0 && delivered >= failAfter {
			c.setStatus(device.StatusFailure)
			cb(nil)
			return
		}

		// Time-lapse sources report every exposure as frame 1; rewrite to
		// the per-acquisition monotonic counter before delivery.
		nr := delivered + 1
		if len(seq) > 0 {
			nr = seq[delivered]
		}

		bof := uint64(time.Since(start).Microseconds())
		info := device.FrameInfo{
			FrameNr:      nr,
			TimestampBOF: bof,
			TimestampEOF: bof + expUs + 100,
		}

		c.mu.Lock()
		slot := int(delivered) % len(c.ring)
		fill(c.ring[slot], &cfg, info)
		c.latest = slot
		c.latestInfo = info
		c.haveLatest = true
		c.mu.Unlock()

		cb(&info)
		delivered++

		if interval > 0 {
			select {
			case <-stop:
				return
			case <-time.After(interval):
			}
		}
	}
	c.setStatus(device.StatusInactive)
}

func (c *Camera) setStatus(s device.AcqStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// fill writes a deterministic pixel pattern for the given frame into b.
// Pixel i of frame n has value n+i, so tests can verify both content and
// placement.
func fill(b []byte, cfg *config.Config, info device.FrameInfo) {
	if !cfg.MetadataEnabled {
		for i := 0; 2*i+1 < len(b); i++ {
			binary.LittleEndian.PutUint16(b[2*i:], uint16(info.FrameNr+uint32(i)))
		}
		return
	}
	m := buildMeta(cfg, info.FrameNr, uint32(info.TimestampBOF), uint32(info.TimestampEOF))
	copy(b, m.Bytes())
}

// buildMeta constructs the embedded metadata for one frame over the
// configured regions.
func buildMeta(cfg *config.Config, nr, bof, eof uint32) *frame.Meta {
	m := &frame.Meta{
		Header: frame.MetaHeader{
			Version:      frame.MetaVersion,
			FrameNr:      nr,
			RoiCount:     uint16(len(cfg.Regions)),
			TimestampBOF: bof,
			TimestampEOF: eof,
			ExposureTime: cfg.Exposure,
			BitDepth:     16,
		},
	}
	for i, r := range cfg.Regions {
		data := make([]byte, 2*int(r.Width())*int(r.Height()))
		for p := 0; 2*p+1 < len(data); p++ {
			binary.LittleEndian.PutUint16(data[2*p:], uint16(nr+uint32(i)+uint32(p)))
		}
		m.Rois = append(m.Rois, frame.Roi{
			Header: frame.RoiHeader{
				RoiNr:        uint16(i),
				TimestampBOR: bof,
				TimestampEOR: eof,
				Region:       r,
			},
			Data: data,
		})
	}
	return m
}
