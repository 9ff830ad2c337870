/*
NAME
  prd_test.go

DESCRIPTION
  prd_test.go contains testing for the PRD container codec, including file
  round trips with trajectories and the stack sizing helpers.

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

package prd

import (
	"bytes"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ausocean/scicam/frame"
)

func testHeader(frameCount uint32) Header {
	return Header{
		Version:            Version05,
		BitDepth:           16,
		FrameCount:         frameCount,
		Region:             frame.Region{S1: 0, S2: 7, Sbin: 1, P1: 0, P2: 7, Pbin: 1},
		ExposureResolution: ExpResUs,
		FrameSize:          128, // 8x8 16-bit pixels.
	}
}

func testFrame(t *testing.T, nr uint32, trajCount, pointCount uint32) *frame.Frame {
	t.Helper()
	cfg := frame.AcqCfg{FrameBytes: 128}
	f := frame.New(cfg, true)
	pixels := make([]byte, 128)
	for i := range pixels {
		pixels[i] = byte(nr + uint32(i))
	}
	f.SetDataPointer(pixels)
	if err := f.CopyData(); err != nil {
		t.Fatalf("unexpected error from CopyData: %v", err)
	}
	f.SetInfo(frame.Info{
		FrameNr:      nr,
		TimestampBOF: uint64(nr) * 10000,
		TimestampEOF: uint64(nr)*10000 + 1500 + (5 << 32), // Exercise the high words.
	})

	var trajs frame.Trajectories
	trajs.Header.Count = trajCount
	for n := uint32(0); n < trajCount; n++ {
		tr := frame.Trajectory{
			Header: frame.TrajectoryHeader{
				RoiNr:      uint16(n),
				ParticleID: 100*nr + n,
				Lifetime:   nr,
				PointCount: pointCount,
			},
		}
		for p := uint32(0); p < pointCount; p++ {
			tr.Points = append(tr.Points, frame.TrajectoryPoint{Valid: 1, X: uint16(10 * p), Y: uint16(10*p + n)})
		}
		trajs.Data = append(trajs.Data, tr)
	}
	f.SetTrajectories(trajs)
	return f
}

// TestRoundTripWithTrajectories writes three frames carrying trajectories,
// reads them back, and checks header, metadata, pixels and trajectory
// points all survive, with unused capacity slots zero padded.
func TestRoundTripWithTrajectories(t *testing.T) {
	const (
		maxTrajectories = 4
		maxPoints       = 8
		trajCount       = 2
		pointCount      = 4
	)
	path := filepath.Join(t.TempDir(), "rt.prd")

	w, err := NewWriter(path, testHeader(3), WithTrajectoryCapacity(maxTrajectories, maxPoints))
	if err != nil {
		t.Fatalf("unexpected error from NewWriter: %v", err)
	}
	var want []*frame.Frame
	for nr := uint32(1); nr <= 3; nr++ {
		f := testFrame(t, nr, trajCount, pointCount)
		want = append(want, f)
		err = w.WriteFrame(f, 25)
		if err != nil {
			t.Fatalf("unexpected error writing frame %d: %v", nr, err)
		}
	}
	err = w.Close()
	if err != nil {
		t.Fatalf("unexpected error from Close: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("unexpected error from NewReader: %v", err)
	}
	defer r.Close()

	h := r.Header()
	if h.FrameCount != 3 {
		t.Errorf("unexpected frame count: got %d, want 3", h.FrameCount)
	}
	wantMetaSize := uint32(MetaDataLen) + TrajectoriesSize(frame.TrajectoriesHeader{MaxTrajectories: maxTrajectories, MaxPoints: maxPoints})
	if h.SizeOfMetaStruct != wantMetaSize {
		t.Errorf("unexpected metadata struct size: got %d, want %d", h.SizeOfMetaStruct, wantMetaSize)
	}

	for i := 0; ; i++ {
		rec, err := r.ReadFrame()
		if err == io.EOF {
			if i != 3 {
				t.Fatalf("EOF after %d frames, want 3", i)
			}
			break
		}
		if err != nil {
			t.Fatalf("unexpected error reading frame %d: %v", i, err)
		}

		wf := want[i]
		if rec.Meta.FrameNumber != wf.Info().FrameNr {
			t.Errorf("frame %d: unexpected frame number: got %d, want %d", i, rec.Meta.FrameNumber, wf.Info().FrameNr)
		}
		if rec.Meta.ExposureTime != 25 {
			t.Errorf("frame %d: unexpected exposure: got %d, want 25", i, rec.Meta.ExposureTime)
		}
		if got := rec.Meta.TimestampEOF(h.Version); got != wf.Info().TimestampEOF {
			t.Errorf("frame %d: unexpected EOF timestamp: got %d, want %d", i, got, wf.Info().TimestampEOF)
		}
		if !bytes.Equal(rec.Raw, wf.Data()) {
			t.Errorf("frame %d: pixel data mismatch", i)
		}

		rf, err := rec.Frame(h)
		if err != nil {
			t.Fatalf("unexpected error reconstructing frame %d: %v", i, err)
		}
		gotTrajs := rf.Trajectories()
		if gotTrajs.Header.Count != trajCount {
			t.Fatalf("frame %d: unexpected trajectory count: got %d, want %d", i, gotTrajs.Header.Count, trajCount)
		}
		for n := range gotTrajs.Data {
			if !cmp.Equal(gotTrajs.Data[n].Points, wf.Trajectories().Data[n].Points) {
				t.Errorf("frame %d trajectory %d: point mismatch:\n got %v\nwant %v",
					i, n, gotTrajs.Data[n].Points, wf.Trajectories().Data[n].Points)
			}
		}

		// Unused capacity slots must be zero padded.
		used := trajectoriesHeaderLen + trajCount*(trajectoryHeaderLen+maxPoints*trajectoryPointLen)
		ext := rec.MetaBuf[MetaDataLen:]
		for off, b := range ext[used:] {
			if b != 0 {
				t.Errorf("frame %d: unused trajectory slot byte at %d not zero", i, off)
				break
			}
		}
	}
}

// TestCloseFixesFrameCount checks the automatic frame-count correction when
// fewer frames were written than the header declared.
func TestCloseFixesFrameCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.prd")
	w, err := NewWriter(path, testHeader(5))
	if err != nil {
		t.Fatalf("unexpected error from NewWriter: %v", err)
	}
	for nr := uint32(1); nr <= 2; nr++ {
		err = w.WriteFrame(testFrame(t, nr, 0, 0), 10)
		if err != nil {
			t.Fatalf("unexpected error writing frame %d: %v", nr, err)
		}
	}
	err = w.Close()
	if err != nil {
		t.Fatalf("unexpected error from Close: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("unexpected error from NewReader: %v", err)
	}
	defer r.Close()
	if got := r.Header().FrameCount; got != 2 {
		t.Errorf("unexpected frame count after fix-up: got %d, want 2", got)
	}
	var n int
	for {
		_, err := r.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error reading frame: %v", err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("unexpected number of frames read: got %d, want 2", n)
	}
}

func TestFrameCountThatFitsIn(t *testing.T) {
	h := testHeader(1)
	h.SizeOfMetaStruct = MetaDataLen

	tests := []struct {
		maxBytes uint64
		want     uint32
	}{
		{maxBytes: 0, want: 0},
		{maxBytes: HeaderLen, want: 0},
		{maxBytes: HeaderLen + MetaDataLen + 128 - 1, want: 0},
		{maxBytes: HeaderLen + MetaDataLen + 128, want: 1},
		{maxBytes: HeaderLen + 10*(MetaDataLen+128) + 5, want: 10},
		{maxBytes: math.MaxUint64, want: math.MaxUint32},
	}
	for _, test := range tests {
		if got := FrameCountThatFitsIn(h, test.maxBytes); got != test.want {
			t.Errorf("FrameCountThatFitsIn(%d): got %d, want %d", test.maxBytes, got, test.want)
		}
	}

	// A header that cannot define a raw size fits nothing.
	bad := h
	bad.Region.Sbin = 0
	if got := FrameCountThatFitsIn(bad, math.MaxUint64); got != 0 {
		t.Errorf("zero-binning header: got %d, want 0", got)
	}
}

func TestFileSize(t *testing.T) {
	h := testHeader(4)
	h.SizeOfMetaStruct = MetaDataLen
	want := uint64(HeaderLen + 4*(MetaDataLen+128))
	if got := FileSize(h); got != want {
		t.Errorf("unexpected file size: got %d, want %d", got, want)
	}
}

// TestTrajectoryIdentity checks encode∘decode is the identity when the
// point slice length matches the declared point count.
func TestTrajectoryIdentity(t *testing.T) {
	trajs := frame.Trajectories{
		Header: frame.TrajectoriesHeader{MaxTrajectories: 3, MaxPoints: 5, Count: 2},
		Data: []frame.Trajectory{
			{
				Header: frame.TrajectoryHeader{RoiNr: 1, ParticleID: 7, Lifetime: 3, PointCount: 2},
				Points: []frame.TrajectoryPoint{{Valid: 1, X: 4, Y: 5}, {Valid: 1, X: 6, Y: 7}},
			},
			{
				Header: frame.TrajectoryHeader{RoiNr: 2, ParticleID: 9, Lifetime: 1, PointCount: 1},
				Points: []frame.TrajectoryPoint{{Valid: 1, X: 40, Y: 50}},
			},
		},
	}
	buf := make([]byte, TrajectoriesSize(trajs.Header))
	err := EncodeTrajectories(trajs, buf)
	if err != nil {
		t.Fatalf("unexpected error from EncodeTrajectories: %v", err)
	}
	got, err := DecodeTrajectories(buf)
	if err != nil {
		t.Fatalf("unexpected error from DecodeTrajectories: %v", err)
	}
	if !cmp.Equal(got, trajs) {
		t.Errorf("round trip not identity:\n got %+v\nwant %+v", got, trajs)
	}
}
