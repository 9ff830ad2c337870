/*
DESCRIPTION
  fake_test.go contains testing for the synthetic camera driver.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package fake

import (
	"sync"
	"testing"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/google/go-cmp/cmp"

	"github.com/ausocean/scicam/acquire/config"
	"github.com/ausocean/scicam/device"
	"github.com/ausocean/scicam/frame"
)

func testConfig() config.Config {
	return config.Config{
		AcqMode:            config.SnapCircBuffer,
		AcqFrameCount:      5,
		BufferFrameCount:   8,
		Exposure:           1,
		ExposureResolution: config.ResUs,
		Regions:            []frame.Region{{S1: 0, S2: 15, Sbin: 1, P1: 0, P2: 15, Pbin: 1}},
	}
}

func TestDelivery(t *testing.T) {
	c := New((*logging.TestLogger)(t))
	if err := c.Open(); err != nil {
		t.Fatalf("unexpected error from Open: %v", err)
	}
	defer c.Close()

	cfg := testConfig()
	frameBytes, err := c.SetupExp(&cfg)
	if err != nil {
		t.Fatalf("unexpected error from SetupExp: %v", err)
	}
	if frameBytes != 2*16*16 {
		t.Errorf("unexpected frame size: got %d, want %d", frameBytes, 2*16*16)
	}
	if cfg.BitDepth != 16 || !cfg.MetadataCapable {
		t.Error("capability fields not revised during setup")
	}
	if got := c.MaxBufferedFrames(); got != 8 {
		t.Errorf("unexpected ring capacity: got %d, want 8", got)
	}

	var mu sync.Mutex
	var got []uint32
	done := make(chan struct{})
	err = c.StartExp(func(info *device.FrameInfo) {
		if info == nil {
			t.Error("unexpected nil frame info")
			return
		}
		mu.Lock()
		got = append(got, info.FrameNr)
		if len(got) == 5 {
			close(done)
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("unexpected error from StartExp: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frames")
	}
	c.StopExp()

	if want := []uint32{1, 2, 3, 4, 5}; !cmp.Equal(got, want) {
		t.Errorf("unexpected frame numbers: got %v, want %v", got, want)
	}
	if c.AcqStatus() == device.StatusActive {
		t.Error("camera still active after sequence completed")
	}
}

func TestScriptedSequenceAndLatestFrame(t *testing.T) {
	c := New((*logging.TestLogger)(t))
	if err := c.Open(); err != nil {
		t.Fatalf("unexpected error from Open: %v", err)
	}
	defer c.Close()

	cfg := testConfig()
	if _, err := c.SetupExp(&cfg); err != nil {
		t.Fatalf("unexpected error from SetupExp: %v", err)
	}
	c.SetFrameSequence([]uint32{1, 2, 4, 5, 8})

	type capture struct {
		nr   uint32
		pix0 uint16
	}
	var mu sync.Mutex
	var got []capture
	done := make(chan struct{})
	err := c.StartExp(func(info *device.FrameInfo) {
		f := frame.New(c.FrameAcqCfg(), true)
		if err := c.GetLatestFrame(f); err != nil {
			t.Errorf("unexpected error from GetLatestFrame: %v", err)
			return
		}
		if err := f.CopyData(); err != nil {
			t.Errorf("unexpected error from CopyData: %v", err)
			return
		}
		mu.Lock()
		got = append(got, capture{f.Info().FrameNr, uint16(f.Data()[0]) | uint16(f.Data()[1])<<8})
		if len(got) == 5 {
			close(done)
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("unexpected error from StartExp: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frames")
	}
	c.StopExp()

	want := []uint32{1, 2, 4, 5, 8}
	for i, cc := range got {
		if cc.nr != want[i] {
			t.Errorf("frame %d: unexpected number: got %d, want %d", i, cc.nr, want[i])
		}
		if cc.pix0 != uint16(want[i]) {
			t.Errorf("frame %d: unexpected first pixel: got %d, want %d", i, cc.pix0, want[i])
		}
	}
}

func TestFailAfter(t *testing.T) {
	c := New((*logging.TestLogger)(t))
	if err := c.Open(); err != nil {
		t.Fatalf("unexpected error from Open: %v", err)
	}
	defer c.Close()
	cfg := testConfig()
	if _, err := c.SetupExp(&cfg); err != nil {
		t.Fatalf("unexpected error from SetupExp: %v", err)
	}
	c.FailAfter(2)

	done := make(chan struct{})
	var count int
	err := c.StartExp(func(info *device.FrameInfo) {
		if info == nil {
			close(done)
			return
		}
		count++
	})
	if err != nil {
		t.Fatalf("unexpected error from StartExp: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure")
	}
	c.StopExp()
	if count != 2 {
		t.Errorf("unexpected frames before failure: got %d, want 2", count)
	}
	if c.AcqStatus() != device.StatusFailure {
		t.Errorf("unexpected status: got %v, want failure", c.AcqStatus())
	}
}

func TestRegistry(t *testing.T) {
	if device.Count() == 0 {
		t.Fatal("fake driver not registered")
	}
	name, err := device.NameAt(0)
	if err != nil {
		t.Fatalf("unexpected error from NameAt: %v", err)
	}
	if name != Name {
		t.Errorf("unexpected driver name: got %q, want %q", name, Name)
	}
	cam, err := device.Open(Name, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("unexpected error from Open: %v", err)
	}
	defer cam.Close()
	if cam.Name() != Name {
		t.Errorf("unexpected camera name: got %q", cam.Name())
	}
}

func TestZeroFrameRejected(t *testing.T) {
	c := New((*logging.TestLogger)(t))
	if err := c.Open(); err != nil {
		t.Fatalf("unexpected error from Open: %v", err)
	}
	defer c.Close()
	cfg := testConfig()
	cfg.Regions = nil
	if _, err := c.SetupExp(&cfg); err == nil {
		t.Error("zero-byte frame configuration accepted")
	}
}
