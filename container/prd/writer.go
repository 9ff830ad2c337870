/*
NAME
  writer.go

DESCRIPTION
  writer.go provides the PRD file writer used by the disk worker for both
  single-frame files and N-frame stacks. The header is written with the
  first frame; Close rewrites it when fewer frames were written than
  declared, so a truncated run still yields a well-formed file.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package prd

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/ausocean/scicam/frame"
)

// Writer writes one PRD file.
type Writer struct {
	f        *os.File
	h        Header
	rawBytes uint64
	frames   uint32
	started  bool
	trajCap  frame.TrajectoriesHeader
}

// WriterOption configures a Writer.
type WriterOption func(*Writer) error

// WithTrajectoryCapacity reserves extended metadata space for particle
// trajectories with the given per-frame capacities. The space is consumed
// whether or not a frame carries trajectories, keeping all frames of a
// stack the same size on disk.
func WithTrajectoryCapacity(maxTrajectories, maxPoints uint32) WriterOption {
	return func(w *Writer) error {
		w.trajCap = frame.TrajectoriesHeader{MaxTrajectories: maxTrajectories, MaxPoints: maxPoints}
		return nil
	}
}

// NewWriter creates the named file and returns a Writer for it. When the
// header's SizeOfMetaStruct is zero it is derived from the fixed metadata
// size plus any configured trajectory capacity.
func NewWriter(path string, h Header, opts ...WriterOption) (*Writer, error) {
	w := &Writer{h: h}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	if w.h.SizeOfMetaStruct == 0 {
		w.h.SizeOfMetaStruct = MetaDataLen + TrajectoriesSize(w.trajCap)
	}
	w.rawBytes = RawDataSize(w.h)
	if w.rawBytes == 0 {
		return nil, errors.New("prd: header does not define a raw data size")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "prd: could not create %s", path)
	}
	w.f = f
	return w, nil
}

// Header returns the header as it will appear on disk after Close.
func (w *Writer) Header() Header {
	h := w.h
	if w.started && h.FrameCount != w.frames {
		h.FrameCount = w.frames
	}
	return h
}

// Frames returns the number of frames written so far.
func (w *Writer) Frames() uint32 { return w.frames }

// WriteFrame writes one pipeline frame with the given exposure time. The
// per-frame metadata record is assembled from the frame's info; attached
// trajectories go into the extended metadata region when capacity was
// reserved.
func (w *Writer) WriteFrame(fr *frame.Frame, expTime uint32) error {
	info := fr.Info()
	meta := MetaData{
		FrameNumber:  info.FrameNr,
		ReadoutTime:  info.ReadoutTime(),
		ExposureTime: expTime,
		RoiCount:     fr.AcqCfg().RoiCount,
	}
	meta.SetTimestamps(info.TimestampBOF, info.TimestampEOF)
	if fm := fr.Meta(); fm != nil {
		meta.RoiCount = fm.Header.RoiCount
	}

	extSize := TrajectoriesSize(w.trajCap)
	if extSize > 0 {
		meta.ExtFlags |= ExtFlagHasTrajectories
		meta.ExtMetaDataSize = extSize
	}

	buf := make([]byte, w.h.SizeOfMetaStruct)
	copy(buf, meta.Bytes(nil))
	if extSize > 0 {
		t := fr.Trajectories()
		t.Header.MaxTrajectories = w.trajCap.MaxTrajectories
		t.Header.MaxPoints = w.trajCap.MaxPoints
		t.Header.Count = uint32(len(t.Data))
		if err := EncodeTrajectories(t, buf[MetaDataLen:]); err != nil {
			return err
		}
	}
	return w.WriteRecord(buf, nil, fr.Data())
}

// WriteRecord writes one raw record: the SizeOfMetaStruct metadata region,
// optional extended dynamic metadata, and the raw frame data. The file
// header goes out before the first record.
func (w *Writer) WriteRecord(metaBuf, extDyn, raw []byte) error {
	if uint32(len(metaBuf)) != w.h.SizeOfMetaStruct {
		return errors.Errorf("prd: metadata region is %d bytes, want %d", len(metaBuf), w.h.SizeOfMetaStruct)
	}
	if uint64(len(raw)) < w.rawBytes {
		return errors.Errorf("prd: raw data is %d bytes, want %d", len(raw), w.rawBytes)
	}

	if !w.started {
		if _, err := w.f.Write(w.h.Bytes(nil)); err != nil {
			return errors.Wrap(err, "prd: header write failed")
		}
		w.started = true
	}

	if _, err := w.f.Write(metaBuf); err != nil {
		return errors.Wrap(err, "prd: metadata write failed")
	}

	if w.h.Version >= Version05 {
		meta, err := ParseMetaData(metaBuf)
		if err != nil {
			return err
		}
		if meta.ExtDynMetaDataSize > 0 && extDyn != nil {
			if uint32(len(extDyn)) < meta.ExtDynMetaDataSize {
				return errors.Wrap(ErrShort, "extended dynamic metadata")
			}
			if _, err := w.f.Write(extDyn[:meta.ExtDynMetaDataSize]); err != nil {
				return errors.Wrap(err, "prd: extended dynamic metadata write failed")
			}
		}
	}

	if _, err := w.f.Write(raw[:w.rawBytes]); err != nil {
		return errors.Wrap(err, "prd: raw data write failed")
	}
	w.frames++
	return nil
}

// Close finalises the file. When the written frame count differs from the
// declared one the header is rewritten in place with the observed count.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	if w.started && w.h.FrameCount != w.frames {
		w.h.FrameCount = w.frames
		if _, err := w.f.Seek(0, io.SeekStart); err != nil {
			w.f.Close()
			return errors.Wrap(err, "prd: header rewrite seek failed")
		}
		if _, err := w.f.Write(w.h.Bytes(nil)); err != nil {
			w.f.Close()
			return errors.Wrap(err, "prd: header rewrite failed")
		}
	}
	err := w.f.Close()
	w.f = nil
	return err
}
