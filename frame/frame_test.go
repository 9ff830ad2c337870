/*
NAME
  frame_test.go

DESCRIPTION
  frame_test.go contains testing for functionality found in frame.go,
  metadata.go and pool.go.

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

package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ausocean/utils/logging"
	"github.com/google/go-cmp/cmp"
)

func TestCopyDataDeep(t *testing.T) {
	cfg := AcqCfg{FrameBytes: 8}
	f := New(cfg, true)

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	f.SetDataPointer(src)
	f.SetShallowInfo(Info{FrameNr: 7, TimestampBOF: 100, TimestampEOF: 250})

	if f.Valid() {
		t.Fatal("frame valid before CopyData")
	}
	if err := f.CopyData(); err != nil {
		t.Fatalf("unexpected error from CopyData: %v", err)
	}
	if !f.Valid() {
		t.Fatal("frame not valid after CopyData")
	}
	if !bytes.Equal(f.Data(), src) {
		t.Errorf("unexpected data: got %v, want %v", f.Data(), src)
	}
	if f.Info().FrameNr != 7 {
		t.Errorf("shallow info not promoted: got frame number %d, want 7", f.Info().FrameNr)
	}
	if got := f.Info().ReadoutTime(); got != 150 {
		t.Errorf("unexpected readout time: got %d, want 150", got)
	}

	// A deep copy must not alias the source.
	src[0] = 99
	if f.Data()[0] == 99 {
		t.Error("deep copy aliases the source buffer")
	}
}

func TestCopyDataShallow(t *testing.T) {
	cfg := AcqCfg{FrameBytes: 4}
	f := New(cfg, false)
	src := []byte{9, 8, 7, 6}
	f.SetDataPointer(src)
	if err := f.CopyData(); err != nil {
		t.Fatalf("unexpected error from CopyData: %v", err)
	}
	src[0] = 42
	if f.Data()[0] != 42 {
		t.Error("shallow frame does not view the source buffer")
	}
}

func TestCopyDataErrors(t *testing.T) {
	f := New(AcqCfg{FrameBytes: 16}, true)
	if err := f.CopyData(); !errors.Is(err, ErrNoSource) {
		t.Errorf("no source: got %v, want ErrNoSource", err)
	}
	f.SetDataPointer(make([]byte, 4))
	if err := f.CopyData(); !errors.Is(err, ErrShortSource) {
		t.Errorf("short source: got %v, want ErrShortSource", err)
	}
}

func TestInvalidate(t *testing.T) {
	cfg := AcqCfg{FrameBytes: 4, RoiCount: 2, HasMetadata: true}
	f := New(cfg, true)
	f.SetDataPointer([]byte{0, 0, 0, 0})
	f.SetShallowInfo(Info{FrameNr: 3})
	if err := f.CopyData(); err != nil {
		t.Fatalf("unexpected error from CopyData: %v", err)
	}
	f.SetTrajectories(Trajectories{Header: TrajectoriesHeader{Count: 1}, Data: []Trajectory{{}}})

	f.Invalidate()
	if f.Valid() {
		t.Error("frame valid after Invalidate")
	}
	if f.Info() != (Info{}) {
		t.Errorf("info not cleared: %+v", f.Info())
	}
	if len(f.Trajectories().Data) != 0 {
		t.Error("trajectories not cleared")
	}
	if !f.NeedsDecode() {
		t.Error("needsDecode not restored for metadata-enabled frame")
	}
}

func TestClone(t *testing.T) {
	cfg := AcqCfg{FrameBytes: 6}
	f := New(cfg, true)
	f.SetDataPointer([]byte{1, 1, 2, 3, 5, 8})
	f.SetShallowInfo(Info{FrameNr: 13})
	if err := f.CopyData(); err != nil {
		t.Fatalf("unexpected error from CopyData: %v", err)
	}

	c := f.Clone(true)
	if c == nil {
		t.Fatal("clone returned nil")
	}
	if c.AcqCfg() != cfg {
		t.Errorf("clone cfg differs: got %+v, want %+v", c.AcqCfg(), cfg)
	}
	if !bytes.Equal(c.Data(), f.Data()) {
		t.Errorf("clone data differs: got %v, want %v", c.Data(), f.Data())
	}
	if c.Info() != f.Info() {
		t.Errorf("clone info differs: got %+v, want %+v", c.Info(), f.Info())
	}
	f.Data()[0] = 77
	if c.Data()[0] == 77 {
		t.Error("deep clone aliases the original")
	}
}

// testMeta builds a two-ROI metadata frame on a 4x4 implied region.
func testMeta() *Meta {
	roiA := Roi{
		Header: RoiHeader{
			RoiNr:  0,
			Region: Region{S1: 0, S2: 1, Sbin: 1, P1: 0, P2: 1, Pbin: 1},
		},
		Data: pix16(0x0101, 0x0202, 0x0303, 0x0404),
	}
	roiB := Roi{
		Header: RoiHeader{
			RoiNr:  1,
			Region: Region{S1: 2, S2: 3, Sbin: 1, P1: 2, P2: 3, Pbin: 1},
		},
		Data: pix16(0x0a0a, 0x0b0b, 0x0c0c, 0x0d0d),
	}
	return &Meta{
		Header: MetaHeader{
			Version:      MetaVersion,
			FrameNr:      21,
			RoiCount:     2,
			TimestampBOF: 1000,
			TimestampEOF: 2500,
			ExposureTime: 10,
			BitDepth:     16,
		},
		Rois: []Roi{roiA, roiB},
	}
}

func pix16(vals ...uint16) []byte {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return b
}

func TestMetaRoundTrip(t *testing.T) {
	m := testMeta()
	got, err := DecodeMeta(m.Bytes())
	if err != nil {
		t.Fatalf("unexpected error from DecodeMeta: %v", err)
	}
	if got.Header != m.Header {
		t.Errorf("header mismatch: got %+v, want %+v", got.Header, m.Header)
	}
	want := Region{S1: 0, S2: 3, Sbin: 1, P1: 0, P2: 3, Pbin: 1}
	if got.Implied != want {
		t.Errorf("implied region mismatch: got %+v, want %+v", got.Implied, want)
	}
	for i := range m.Rois {
		if got.Rois[i].Header != m.Rois[i].Header {
			t.Errorf("ROI %d header mismatch: got %+v, want %+v", i, got.Rois[i].Header, m.Rois[i].Header)
		}
		if !bytes.Equal(got.Rois[i].Data, m.Rois[i].Data) {
			t.Errorf("ROI %d data mismatch", i)
		}
	}
}

func TestRecompose(t *testing.T) {
	m := testMeta()
	got, err := DecodeMeta(m.Bytes())
	if err != nil {
		t.Fatalf("unexpected error from DecodeMeta: %v", err)
	}
	canvas := make([]byte, 2*4*4)
	err = got.Recompose(canvas, 4, 4)
	if err != nil {
		t.Fatalf("unexpected error from Recompose: %v", err)
	}
	want := pix16(
		0x0101, 0x0202, 0, 0,
		0x0303, 0x0404, 0, 0,
		0, 0, 0x0a0a, 0x0b0b,
		0, 0, 0x0c0c, 0x0d0d,
	)
	if !cmp.Equal(canvas, want) {
		t.Errorf("unexpected canvas:\n got %v\nwant %v", canvas, want)
	}
}

func TestDecodeMetadataCorrupt(t *testing.T) {
	raw := testMeta().Bytes()
	raw = raw[:metaHeaderLen+roiHeaderLen-3] // Truncate inside the first ROI header.

	cfg := AcqCfg{FrameBytes: uint32(len(raw)), RoiCount: 2, HasMetadata: true}
	f := New(cfg, true)
	f.data = f.data[:len(raw)]
	copy(f.data, raw)

	err := f.DecodeMetadata()
	if !errors.Is(err, ErrMetadataCorrupt) {
		t.Fatalf("got %v, want ErrMetadataCorrupt", err)
	}
	if f.Valid() {
		t.Error("frame still valid after corrupt metadata")
	}
}

func TestDecodeMetadataNoOp(t *testing.T) {
	f := New(AcqCfg{FrameBytes: 4}, true)
	if err := f.DecodeMetadata(); err != nil {
		t.Errorf("metadata-free frame: got %v, want nil", err)
	}
}

func TestPoolPreallocate(t *testing.T) {
	l := logging.New(logging.Debug, &bytes.Buffer{}, true) // Discard logs.
	p := NewPool(l)
	cfg := AcqCfg{FrameBytes: 32}

	p.Preallocate(cfg, true, 5)
	if got := p.Len(); got != 5 {
		t.Fatalf("unexpected pool size: got %d, want 5", got)
	}

	f := p.Draw()
	if f == nil || f.AcqCfg() != cfg {
		t.Fatal("drawn frame has wrong config")
	}
	if got := p.Len(); got != 4 {
		t.Errorf("unexpected pool size after draw: got %d, want 4", got)
	}
	f.Invalidate()
	p.Return(f)
	if got := p.Len(); got != 5 {
		t.Errorf("unexpected pool size after return: got %d, want 5", got)
	}

	// Draw from an exhausted pool still yields frames.
	p.Preallocate(cfg, true, 0)
	if f := p.Draw(); f == nil || f.AcqCfg() != cfg {
		t.Error("empty pool did not allocate a fresh frame")
	}
}

func TestPoolDrainOnConfigChange(t *testing.T) {
	l := logging.New(logging.Debug, &bytes.Buffer{}, true) // Discard logs.
	p := NewPool(l)
	p.Preallocate(AcqCfg{FrameBytes: 32}, true, 4)

	p.Preallocate(AcqCfg{FrameBytes: 64}, true, 2)
	if got := p.Len(); got != 2 {
		t.Fatalf("unexpected pool size: got %d, want 2", got)
	}
	if f := p.Draw(); f.AcqCfg().FrameBytes != 64 {
		t.Errorf("stale frame config survived drain: got %d bytes", f.AcqCfg().FrameBytes)
	}
}

func TestPoolFinished(t *testing.T) {
	l := logging.New(logging.Debug, &bytes.Buffer{}, true) // Discard logs.
	p := NewPool(l)
	cfg := AcqCfg{FrameBytes: 8}
	p.Preallocate(cfg, true, 1)
	f := p.Draw()

	p.SetFinished()
	f.Invalidate()
	p.Return(f)
	if got := p.Len(); got != 0 {
		t.Errorf("finished pool accepted a frame: size %d", got)
	}

	p.Preallocate(cfg, true, 1)
	f = p.Draw()
	f.Invalidate()
	p.Return(f)
	if got := p.Len(); got != 1 {
		t.Errorf("pool still finished after Preallocate: size %d", got)
	}
}
