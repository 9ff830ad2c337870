/*
NAME
  metadata.go

DESCRIPTION
  metadata.go provides the codec for metadata-enabled frames, where the raw
  buffer delivered by the driver interleaves a frame header, per-ROI headers
  and per-ROI pixel blocks rather than a single pixel plane. Decoded ROIs
  can be recomposed onto a full-frame canvas for display or TIFF output.

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
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
)

// ErrMetadataCorrupt indicates embedded metadata that could not be parsed.
// The frame is invalidated when decode fails.
var ErrMetadataCorrupt = errors.New("frame: embedded metadata corrupt")

// MetaVersion is the embedded metadata layout version produced and consumed
// by this package.
const MetaVersion = 1

// RoiFlagInvalid marks a ROI that carries no image data and is skipped
// during recompose and description assembly.
const RoiFlagInvalid = 0x01

// Wire sizes of the embedded metadata structures.
const (
	metaHeaderLen = 24
	roiHeaderLen  = 25
)

// MetaHeader is the frame-level header of embedded metadata.
type MetaHeader struct {
	Version      uint8
	FrameNr      uint32
	RoiCount     uint16
	TimestampBOF uint32
	TimestampEOF uint32
	ExposureTime uint32
	BitDepth     uint8
	ColorMask    uint8
	Flags        uint8
	ExtMdSize    uint16
}

// RoiHeader describes one region block within a metadata-enabled frame.
type RoiHeader struct {
	RoiNr        uint16
	TimestampBOR uint32
	TimestampEOR uint32
	Region       Region
	Flags        uint8
	ExtMdSize    uint16
}

// Roi is one decoded region: its header, extended metadata and pixel bytes.
type Roi struct {
	Header RoiHeader
	ExtMd  []byte
	Data   []byte
}

// Meta is fully decoded embedded metadata.
type Meta struct {
	Header  MetaHeader
	Rois    []Roi
	Implied Region
}

// DecodeMetadata parses the embedded metadata in the frame's raw buffer.
// It is a no-op unless the frame still needs decoding. On failure the frame
// is invalidated and the returned error wraps ErrMetadataCorrupt, quoting
// the first bytes of the raw buffer.
func (f *Frame) DecodeMetadata() error {
	if !f.needsDecode {
		return nil
	}
	m, err := DecodeMeta(f.data)
	if err != nil {
		head := f.data
		if len(head) > 32 {
			head = head[:32]
		}
		f.Invalidate()
		return errors.Wrapf(ErrMetadataCorrupt, "%v (raw: %s)", err, hex.EncodeToString(head))
	}
	f.meta = m
	f.needsDecode = false
	return nil
}

// DecodeMeta parses an embedded metadata buffer.
func DecodeMeta(b []byte) (*Meta, error) {
	if len(b) < metaHeaderLen {
		return nil, errors.Errorf("buffer too short for frame header: %d", len(b))
	}
	var m Meta
	h := &m.Header
	h.Version = b[0]
	if h.Version != MetaVersion {
		return nil, errors.Errorf("unsupported metadata version: %d", h.Version)
	}
	h.FrameNr = binary.LittleEndian.Uint32(b[1:])
	h.RoiCount = binary.LittleEndian.Uint16(b[5:])
	h.TimestampBOF = binary.LittleEndian.Uint32(b[7:])
	h.TimestampEOF = binary.LittleEndian.Uint32(b[11:])
	h.ExposureTime = binary.LittleEndian.Uint32(b[15:])
	h.BitDepth = b[19]
	h.ColorMask = b[20]
	h.Flags = b[21]
	h.ExtMdSize = binary.LittleEndian.Uint16(b[22:])

	off := metaHeaderLen + int(h.ExtMdSize)
	if off > len(b) {
		return nil, errors.New("frame extended metadata overruns buffer")
	}

	m.Rois = make([]Roi, 0, h.RoiCount)
	for n := 0; n < int(h.RoiCount); n++ {
		if off+roiHeaderLen > len(b) {
			return nil, errors.Errorf("buffer too short for ROI %d header", n)
		}
		var rh RoiHeader
		rh.RoiNr = binary.LittleEndian.Uint16(b[off:])
		rh.TimestampBOR = binary.LittleEndian.Uint32(b[off+2:])
		rh.TimestampEOR = binary.LittleEndian.Uint32(b[off+6:])
		rh.Region = decodeRegion(b[off+10:])
		rh.Flags = b[off+22]
		rh.ExtMdSize = binary.LittleEndian.Uint16(b[off+23:])
		off += roiHeaderLen

		if rh.Region.Sbin == 0 || rh.Region.Pbin == 0 {
			return nil, errors.Errorf("ROI %d has zero binning", n)
		}

		roi := Roi{Header: rh}
		if rh.ExtMdSize > 0 {
			if off+int(rh.ExtMdSize) > len(b) {
				return nil, errors.Errorf("ROI %d extended metadata overruns buffer", n)
			}
			roi.ExtMd = b[off : off+int(rh.ExtMdSize)]
			off += int(rh.ExtMdSize)
		}
		if rh.Flags&RoiFlagInvalid == 0 {
			size := 2 * int(rh.Region.Width()) * int(rh.Region.Height())
			if off+size > len(b) {
				return nil, errors.Errorf("ROI %d pixel data overruns buffer", n)
			}
			roi.Data = b[off : off+size]
			off += size
		}
		m.Rois = append(m.Rois, roi)
	}

	implied, err := impliedRegion(m.Rois)
	if err != nil {
		return nil, err
	}
	m.Implied = implied
	return &m, nil
}

// Bytes serialises the metadata back into the on-wire layout. It is the
// inverse of DecodeMeta and is what synthetic drivers use to produce
// metadata-enabled frames.
func (m *Meta) Bytes() []byte {
	size := metaHeaderLen + int(m.Header.ExtMdSize)
	for _, roi := range m.Rois {
		size += roiHeaderLen + len(roi.ExtMd) + len(roi.Data)
	}
	b := make([]byte, size)

	h := m.Header
	b[0] = h.Version
	binary.LittleEndian.PutUint32(b[1:], h.FrameNr)
	binary.LittleEndian.PutUint16(b[5:], h.RoiCount)
	binary.LittleEndian.PutUint32(b[7:], h.TimestampBOF)
	binary.LittleEndian.PutUint32(b[11:], h.TimestampEOF)
	binary.LittleEndian.PutUint32(b[15:], h.ExposureTime)
	b[19] = h.BitDepth
	b[20] = h.ColorMask
	b[21] = h.Flags
	binary.LittleEndian.PutUint16(b[22:], h.ExtMdSize)

	off := metaHeaderLen + int(h.ExtMdSize)
	for _, roi := range m.Rois {
		rh := roi.Header
		binary.LittleEndian.PutUint16(b[off:], rh.RoiNr)
		binary.LittleEndian.PutUint32(b[off+2:], rh.TimestampBOR)
		binary.LittleEndian.PutUint32(b[off+6:], rh.TimestampEOR)
		encodeRegion(b[off+10:], rh.Region)
		b[off+22] = rh.Flags
		binary.LittleEndian.PutUint16(b[off+23:], rh.ExtMdSize)
		off += roiHeaderLen
		off += copy(b[off:], roi.ExtMd)
		off += copy(b[off:], roi.Data)
	}
	return b
}

func decodeRegion(b []byte) Region {
	return Region{
		S1:   binary.LittleEndian.Uint16(b[0:]),
		S2:   binary.LittleEndian.Uint16(b[2:]),
		Sbin: binary.LittleEndian.Uint16(b[4:]),
		P1:   binary.LittleEndian.Uint16(b[6:]),
		P2:   binary.LittleEndian.Uint16(b[8:]),
		Pbin: binary.LittleEndian.Uint16(b[10:]),
	}
}

func encodeRegion(b []byte, r Region) {
	binary.LittleEndian.PutUint16(b[0:], r.S1)
	binary.LittleEndian.PutUint16(b[2:], r.S2)
	binary.LittleEndian.PutUint16(b[4:], r.Sbin)
	binary.LittleEndian.PutUint16(b[6:], r.P1)
	binary.LittleEndian.PutUint16(b[8:], r.P2)
	binary.LittleEndian.PutUint16(b[10:], r.Pbin)
}

// impliedRegion returns the smallest axis-aligned region enclosing all
// valid ROIs. All ROIs must share binning factors.
func impliedRegion(rois []Roi) (Region, error) {
	var implied Region
	first := true
	for n, roi := range rois {
		if roi.Header.Flags&RoiFlagInvalid != 0 {
			continue
		}
		r := roi.Header.Region
		if first {
			implied = r
			first = false
			continue
		}
		if r.Sbin != implied.Sbin || r.Pbin != implied.Pbin {
			return Region{}, errors.Errorf("ROI %d binning differs from implied region", n)
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
	return implied, nil
}

// Recompose paints the valid ROIs onto a 16-bit grayscale canvas of the
// given dimensions. ROI positions are taken relative to the implied region
// origin. The canvas must hold 2*width*height bytes and should be black
// filled by the caller.
func (m *Meta) Recompose(canvas []byte, width, height uint16) error {
	if len(canvas) < 2*int(width)*int(height) {
		return errors.Errorf("canvas too small: %d bytes for %dx%d", len(canvas), width, height)
	}
	stride := 2 * int(width)
	for n, roi := range m.Rois {
		if roi.Header.Flags&RoiFlagInvalid != 0 {
			continue
		}
		r := roi.Header.Region
		xOff := int((r.S1 - m.Implied.S1) / r.Sbin)
		yOff := int((r.P1 - m.Implied.P1) / r.Pbin)
		w, h := int(r.Width()), int(r.Height())
		if xOff+w > int(width) || yOff+h > int(height) {
			return errors.Errorf("ROI %d exceeds canvas bounds", n)
		}
		for row := 0; row < h; row++ {
			src := roi.Data[row*2*w : (row+1)*2*w]
			dst := canvas[(yOff+row)*stride+2*xOff:]
			copy(dst, src)
		}
	}
	return nil
}
