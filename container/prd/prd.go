/*
NAME
  prd.go

DESCRIPTION
  prd.go defines the PRD container wire format: the 48-byte file header,
  the 48-byte per-frame metadata record, and the trajectory block layout.
  All numbers are stored little endian on all targets. The header layout is
  frozen; new fields only ever consume reserved space.

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

// Package prd implements encoding and decoding of the PRD raw-data
// container. A PRD file is a Header followed by frameCount repetitions of
// (metadata, optional extended dynamic metadata, raw frame data).
package prd

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ausocean/scicam/frame"
)

// Signature identifies a PRD file (null-terminated string "PRD").
const Signature = uint32(0x00445250)

// PRD file versions. Higher versions have higher numbers.
const (
	Version01 = uint16(0x0001)
	Version02 = uint16(0x0002)
	Version03 = uint16(0x0003)
	Version04 = uint16(0x0004)
	Version05 = uint16(0x0005)
)

// Exposure resolutions stored in Header.ExposureResolution.
const (
	ExpResUs = uint32(1)
	ExpResMs = uint32(1000)
	ExpResS  = uint32(1000000)
)

// Header flag bits.
const (
	// FlagHasMetadata marks raw frame data that contains embedded
	// metadata, not only pixels.
	FlagHasMetadata = uint8(0x01)

	// FlagFrameSizeVary marks a multi-frame file whose frames may differ
	// in size. Readers predating Version05 cannot open such files.
	FlagFrameSizeVary = uint8(0x02)
)

// ExtFlagHasTrajectories marks per-frame extended metadata carrying
// particle trajectories.
const ExtFlagHasTrajectories = uint32(0x00000001)

// Wire sizes. HeaderLen and MetaDataLen are frozen at 48 bytes.
const (
	HeaderLen             = 48
	MetaDataLen           = 48
	trajectoriesHeaderLen = 12
	trajectoryHeaderLen   = 14
	trajectoryPointLen    = 5
)

// Errors returned by the parsing paths.
var (
	ErrSignature = errors.New("prd: bad signature")
	ErrShort     = errors.New("prd: buffer too short")
)

// Header is the PRD file header. Signature and reserved bytes are handled
// by the codec and do not appear here.
type Header struct {
	Version    uint16
	BitDepth   uint16 // Raw bit depth; pixels are always stored in 16 bits.
	FrameCount uint32

	// Region is the chip region the raw data was read from. It defines the
	// dimensions of the final image reconstructed from raw data.
	Region frame.Region

	// SizeOfMetaStruct is the per-frame metadata size used while saving.
	// Since Version05 it includes the extended metadata size.
	SizeOfMetaStruct uint32

	// ExposureResolution is one of ExpResUs, ExpResMs or ExpResS.
	ExposureResolution uint32

	ColorMask uint8
	Flags     uint8 // ORed combination of Flag* values.

	// FrameSize is the raw frame data size in bytes. Meaningful since
	// Version03; earlier versions derive the size from Region.
	FrameSize uint32
}

// Bytes appends the 48-byte wire form of the header to b.
func (h *Header) Bytes(b []byte) []byte {
	out := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint32(out[0:], Signature)
	binary.LittleEndian.PutUint16(out[4:], h.Version)
	binary.LittleEndian.PutUint16(out[6:], h.BitDepth)
	binary.LittleEndian.PutUint32(out[8:], h.FrameCount)
	putRegion(out[12:], h.Region)
	binary.LittleEndian.PutUint32(out[24:], h.SizeOfMetaStruct)
	binary.LittleEndian.PutUint32(out[28:], h.ExposureResolution)
	out[32] = h.ColorMask
	out[33] = h.Flags
	binary.LittleEndian.PutUint32(out[34:], h.FrameSize)
	return append(b, out...)
}

// ParseHeader decodes a 48-byte PRD header.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderLen {
		return h, errors.Wrapf(ErrShort, "header needs %d bytes, have %d", HeaderLen, len(b))
	}
	if binary.LittleEndian.Uint32(b[0:]) != Signature {
		return h, ErrSignature
	}
	h.Version = binary.LittleEndian.Uint16(b[4:])
	h.BitDepth = binary.LittleEndian.Uint16(b[6:])
	h.FrameCount = binary.LittleEndian.Uint32(b[8:])
	h.Region = getRegion(b[12:])
	h.SizeOfMetaStruct = binary.LittleEndian.Uint32(b[24:])
	h.ExposureResolution = binary.LittleEndian.Uint32(b[28:])
	h.ColorMask = b[32]
	h.Flags = b[33]
	h.FrameSize = binary.LittleEndian.Uint32(b[34:])
	return h, nil
}

// MetaData is the fixed per-frame metadata record. Extended metadata, when
// present, follows this record within the SizeOfMetaStruct region.
type MetaData struct {
	FrameNumber  uint32 // Unique, 1-based.
	ReadoutTime  uint32 // Microseconds, excludes exposure.
	ExposureTime uint32 // In the header's exposure resolution.

	BofTime uint32 // Low word, microseconds from acquisition start.
	EofTime uint32

	RoiCount uint16

	BofTimeHigh uint32 // High words, since Version04.
	EofTimeHigh uint32

	ExtFlags           uint32 // ORed ExtFlag* values, since Version05.
	ExtMetaDataSize    uint32 // Included in Header.SizeOfMetaStruct.
	ExtDynMetaDataSize uint32 // Not included in Header.SizeOfMetaStruct.
}

// Bytes appends the 48-byte wire form of the metadata record to b.
func (m *MetaData) Bytes(b []byte) []byte {
	out := make([]byte, MetaDataLen)
	binary.LittleEndian.PutUint32(out[0:], m.FrameNumber)
	binary.LittleEndian.PutUint32(out[4:], m.ReadoutTime)
	binary.LittleEndian.PutUint32(out[8:], m.ExposureTime)
	binary.LittleEndian.PutUint32(out[12:], m.BofTime)
	binary.LittleEndian.PutUint32(out[16:], m.EofTime)
	binary.LittleEndian.PutUint16(out[20:], m.RoiCount)
	binary.LittleEndian.PutUint32(out[22:], m.BofTimeHigh)
	binary.LittleEndian.PutUint32(out[26:], m.EofTimeHigh)
	binary.LittleEndian.PutUint32(out[30:], m.ExtFlags)
	binary.LittleEndian.PutUint32(out[34:], m.ExtMetaDataSize)
	binary.LittleEndian.PutUint32(out[38:], m.ExtDynMetaDataSize)
	return append(b, out...)
}

// ParseMetaData decodes a 48-byte per-frame metadata record.
func ParseMetaData(b []byte) (MetaData, error) {
	var m MetaData
	if len(b) < MetaDataLen {
		return m, errors.Wrapf(ErrShort, "metadata needs %d bytes, have %d", MetaDataLen, len(b))
	}
	m.FrameNumber = binary.LittleEndian.Uint32(b[0:])
	m.ReadoutTime = binary.LittleEndian.Uint32(b[4:])
	m.ExposureTime = binary.LittleEndian.Uint32(b[8:])
	m.BofTime = binary.LittleEndian.Uint32(b[12:])
	m.EofTime = binary.LittleEndian.Uint32(b[16:])
	m.RoiCount = binary.LittleEndian.Uint16(b[20:])
	m.BofTimeHigh = binary.LittleEndian.Uint32(b[22:])
	m.EofTimeHigh = binary.LittleEndian.Uint32(b[26:])
	m.ExtFlags = binary.LittleEndian.Uint32(b[30:])
	m.ExtMetaDataSize = binary.LittleEndian.Uint32(b[34:])
	m.ExtDynMetaDataSize = binary.LittleEndian.Uint32(b[38:])
	return m, nil
}

// TimestampBOF recombines the split beginning-of-frame timestamp. The high
// word only exists since Version04.
func (m *MetaData) TimestampBOF(version uint16) uint64 {
	t := uint64(m.BofTime)
	if version >= Version04 {
		t |= uint64(m.BofTimeHigh) << 32
	}
	return t
}

// TimestampEOF recombines the split end-of-frame timestamp.
func (m *MetaData) TimestampEOF(version uint16) uint64 {
	t := uint64(m.EofTime)
	if version >= Version04 {
		t |= uint64(m.EofTimeHigh) << 32
	}
	return t
}

// SetTimestamps splits the given timestamps into the low/high words.
func (m *MetaData) SetTimestamps(bof, eof uint64) {
	m.BofTime = uint32(bof)
	m.BofTimeHigh = uint32(bof >> 32)
	m.EofTime = uint32(eof)
	m.EofTimeHigh = uint32(eof >> 32)
}

func putRegion(b []byte, r frame.Region) {
	binary.LittleEndian.PutUint16(b[0:], r.S1)
	binary.LittleEndian.PutUint16(b[2:], r.S2)
	binary.LittleEndian.PutUint16(b[4:], r.Sbin)
	binary.LittleEndian.PutUint16(b[6:], r.P1)
	binary.LittleEndian.PutUint16(b[8:], r.P2)
	binary.LittleEndian.PutUint16(b[10:], r.Pbin)
}

func getRegion(b []byte) frame.Region {
	return frame.Region{
		S1:   binary.LittleEndian.Uint16(b[0:]),
		S2:   binary.LittleEndian.Uint16(b[2:]),
		Sbin: binary.LittleEndian.Uint16(b[4:]),
		P1:   binary.LittleEndian.Uint16(b[6:]),
		P2:   binary.LittleEndian.Uint16(b[8:]),
		Pbin: binary.LittleEndian.Uint16(b[10:]),
	}
}
