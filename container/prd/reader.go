/*
NAME
  reader.go

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

// Record is one frame's worth of data read back from a PRD file.
type Record struct {
	Meta    MetaData
	MetaBuf []byte // Full SizeOfMetaStruct region including extended metadata.
	ExtDyn  []byte // Extended dynamic metadata; nil unless a Version05+ record declares a nonzero ExtDynMetaDataSize.
	Raw     []byte
}

// Reader reads one PRD file.
type Reader struct {
	f        *os.File
	h        Header
	rawBytes uint64
	index    uint32
}

// NewReader opens the named PRD file and validates its header.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "prd: could not open %s", path)
	}
	buf := make([]byte, HeaderLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "prd: header read failed")
	}
	h, err := ParseHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	r := &Reader{f: f, h: h, rawBytes: RawDataSize(h)}
	if r.rawBytes == 0 {
		f.Close()
		return nil, errors.New("prd: header does not define a raw data size")
	}
	return r, nil
}

// Header returns the file header.
func (r *Reader) Header() Header { return r.h }

// ReadFrame reads the next record. It returns io.EOF once the declared
// frame count has been consumed.
func (r *Reader) ReadFrame() (*Record, error) {
	if r.index >= r.h.FrameCount {
		return nil, io.EOF
	}

	rec := &Record{MetaBuf: make([]byte, r.h.SizeOfMetaStruct)}
	if _, err := io.ReadFull(r.f, rec.MetaBuf); err != nil {
		return nil, errors.Wrapf(err, "prd: metadata read failed at frame %d", r.index)
	}
	meta, err := ParseMetaData(rec.MetaBuf)
	if err != nil {
		return nil, err
	}
	rec.Meta = meta

	if r.h.Version >= Version05 && meta.ExtDynMetaDataSize > 0 {
		rec.ExtDyn = make([]byte, meta.ExtDynMetaDataSize)
		if _, err := io.ReadFull(r.f, rec.ExtDyn); err != nil {
			return nil, errors.Wrapf(err, "prd: extended dynamic metadata read failed at frame %d", r.index)
		}
	}

	rec.Raw = make([]byte, r.rawBytes)
	if _, err := io.ReadFull(r.f, rec.Raw); err != nil {
		return nil, errors.Wrapf(err, "prd: raw data read failed at frame %d", r.index)
	}
	r.index++
	return rec, nil
}

// Frame reconstructs a pipeline frame from the record.
func (rec *Record) Frame(h Header) (*frame.Frame, error) {
	return ReconstructFrame(h, rec.MetaBuf, rec.Raw)
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
