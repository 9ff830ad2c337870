/*
NAME
  utils.go

DESCRIPTION
  utils.go provides PRD size calculators, the trajectory block codec, and
  reconstruction of pipeline frames from decoded PRD records.

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
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/ausocean/scicam/frame"
)

// RawDataSize returns the size of one frame's raw data in bytes. Since
// Version03 the size is carried in the header; earlier versions derive it
// from the region. Returns 0 for a region with zero binning.
func RawDataSize(h Header) uint64 {
	if h.Region.Sbin == 0 || h.Region.Pbin == 0 {
		return 0
	}
	if h.Version >= Version03 {
		return uint64(h.FrameSize)
	}
	return 2 * uint64(h.Region.Width()) * uint64(h.Region.Height())
}

// FileOverhead returns the file size excluding raw data.
func FileOverhead(h Header) uint64 {
	return HeaderLen + uint64(h.FrameCount)*uint64(h.SizeOfMetaStruct)
}

// FileSize returns the total file size for the header's frame count, or 0
// when the raw data size cannot be determined.
func FileSize(h Header) uint64 {
	raw := RawDataSize(h)
	if raw == 0 {
		return 0
	}
	return FileOverhead(h) + uint64(h.FrameCount)*raw
}

// FrameCountThatFitsIn returns how many frames fit in maxBytes, clamped to
// the uint32 range. The disk worker uses this to size stacks.
func FrameCountThatFitsIn(h Header, maxBytes uint64) uint32 {
	raw := RawDataSize(h)
	if raw == 0 || maxBytes <= HeaderLen {
		return 0
	}
	count := (maxBytes - HeaderLen) / (uint64(h.SizeOfMetaStruct) + raw)
	if count > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(count)
}

// TrajectoriesSize returns the on-disk size of a trajectory block with the
// given capacities. The block size depends on capacity only, never on fill
// level, so all frames of a stack share one size.
func TrajectoriesSize(h frame.TrajectoriesHeader) uint32 {
	if h.MaxTrajectories == 0 && h.MaxPoints == 0 {
		return 0
	}
	one := trajectoryHeaderLen + h.MaxPoints*trajectoryPointLen
	return trajectoriesHeaderLen + h.MaxTrajectories*one
}

// EncodeTrajectories writes the trajectory block into b, which must be
// zero filled and at least TrajectoriesSize(t.Header) long. Unused capacity
// slots are left zeroed so that every frame encodes to the same size.
func EncodeTrajectories(t frame.Trajectories, b []byte) error {
	if t.Header.MaxTrajectories < t.Header.Count {
		return errors.Errorf("trajectory count %d exceeds capacity %d", t.Header.Count, t.Header.MaxTrajectories)
	}
	if uint32(len(t.Data)) != t.Header.Count {
		return errors.Errorf("trajectory count %d does not match data length %d", t.Header.Count, len(t.Data))
	}
	if t.Header.MaxTrajectories == 0 && t.Header.MaxPoints == 0 {
		return nil
	}
	size := TrajectoriesSize(t.Header)
	if uint32(len(b)) < size {
		return errors.Wrapf(ErrShort, "trajectories need %d bytes, have %d", size, len(b))
	}

	binary.LittleEndian.PutUint32(b[0:], t.Header.MaxTrajectories)
	binary.LittleEndian.PutUint32(b[4:], t.Header.MaxPoints)
	binary.LittleEndian.PutUint32(b[8:], t.Header.Count)

	off := uint32(trajectoriesHeaderLen)
	for _, tr := range t.Data {
		if t.Header.MaxPoints < tr.Header.PointCount {
			return errors.Errorf("point count %d exceeds capacity %d", tr.Header.PointCount, t.Header.MaxPoints)
		}
		if uint32(len(tr.Points)) != tr.Header.PointCount {
			return errors.Errorf("point count %d does not match data length %d", tr.Header.PointCount, len(tr.Points))
		}
		binary.LittleEndian.PutUint16(b[off:], tr.Header.RoiNr)
		binary.LittleEndian.PutUint32(b[off+2:], tr.Header.ParticleID)
		binary.LittleEndian.PutUint32(b[off+6:], tr.Header.Lifetime)
		binary.LittleEndian.PutUint32(b[off+10:], tr.Header.PointCount)
		off += trajectoryHeaderLen
		for _, p := range tr.Points {
			b[off] = p.Valid
			binary.LittleEndian.PutUint16(b[off+1:], p.X)
			binary.LittleEndian.PutUint16(b[off+3:], p.Y)
			off += trajectoryPointLen
		}
		// Skip unused point capacity.
		off += (t.Header.MaxPoints - tr.Header.PointCount) * trajectoryPointLen
	}
	return nil
}

// DecodeTrajectories parses a trajectory block.
func DecodeTrajectories(b []byte) (frame.Trajectories, error) {
	var t frame.Trajectories
	if len(b) < trajectoriesHeaderLen {
		return t, errors.Wrap(ErrShort, "trajectories header")
	}
	t.Header.MaxTrajectories = binary.LittleEndian.Uint32(b[0:])
	t.Header.MaxPoints = binary.LittleEndian.Uint32(b[4:])
	t.Header.Count = binary.LittleEndian.Uint32(b[8:])
	if t.Header.MaxTrajectories < t.Header.Count {
		return t, errors.Errorf("trajectory count %d exceeds capacity %d", t.Header.Count, t.Header.MaxTrajectories)
	}
	if uint32(len(b)) < TrajectoriesSize(t.Header) {
		return t, errors.Wrap(ErrShort, "trajectories block")
	}

	off := uint32(trajectoriesHeaderLen)
	for n := uint32(0); n < t.Header.Count; n++ {
		var tr frame.Trajectory
		tr.Header.RoiNr = binary.LittleEndian.Uint16(b[off:])
		tr.Header.ParticleID = binary.LittleEndian.Uint32(b[off+2:])
		tr.Header.Lifetime = binary.LittleEndian.Uint32(b[off+6:])
		tr.Header.PointCount = binary.LittleEndian.Uint32(b[off+10:])
		off += trajectoryHeaderLen
		if t.Header.MaxPoints < tr.Header.PointCount {
			return t, errors.Errorf("trajectory %d point count %d exceeds capacity %d", n, tr.Header.PointCount, t.Header.MaxPoints)
		}
		tr.Points = make([]frame.TrajectoryPoint, tr.Header.PointCount)
		pOff := off
		for i := range tr.Points {
			tr.Points[i].Valid = b[pOff]
			tr.Points[i].X = binary.LittleEndian.Uint16(b[pOff+1:])
			tr.Points[i].Y = binary.LittleEndian.Uint16(b[pOff+3:])
			pOff += trajectoryPointLen
		}
		// Move over all points including unused capacity.
		off += t.Header.MaxPoints * trajectoryPointLen
		t.Data = append(t.Data, tr)
	}
	return t, nil
}

// ReconstructFrame rebuilds a pipeline frame from one decoded PRD record.
// metaBuf is the full SizeOfMetaStruct region read from the file.
func ReconstructFrame(h Header, metaBuf, raw []byte) (*frame.Frame, error) {
	meta, err := ParseMetaData(metaBuf)
	if err != nil {
		return nil, err
	}

	cfg := frame.AcqCfg{
		FrameBytes:  uint32(RawDataSize(h)),
		RoiCount:    meta.RoiCount,
		HasMetadata: h.Flags&FlagHasMetadata != 0,
	}
	f := frame.New(cfg, true)
	f.SetDataPointer(raw)
	if err := f.CopyData(); err != nil {
		return nil, err
	}
	f.SetInfo(frame.Info{
		FrameNr:      meta.FrameNumber,
		TimestampBOF: meta.TimestampBOF(h.Version),
		TimestampEOF: meta.TimestampEOF(h.Version),
	})

	if h.Version >= Version05 && meta.ExtFlags&ExtFlagHasTrajectories != 0 {
		if meta.ExtMetaDataSize > h.SizeOfMetaStruct || uint32(len(metaBuf)) < h.SizeOfMetaStruct {
			return nil, errors.Wrap(ErrShort, "extended metadata")
		}
		off := h.SizeOfMetaStruct - meta.ExtMetaDataSize
		t, err := DecodeTrajectories(metaBuf[off:])
		if err != nil {
			return nil, err
		}
		f.SetTrajectories(t)
	}
	return f, nil
}
