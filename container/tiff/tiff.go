/*
NAME
  tiff.go

DESCRIPTION
  tiff.go provides a writer for 16-bit grayscale TIFF output, one image per
  file in single mode or one image per page in stacked mode. Metadata-enabled
  frames are recomposed onto a black full-frame canvas before writing; the
  acquisition context travels in an ImageDescription tag on every page.

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

// Package tiff implements writing of acquisition frames to baseline TIFF
// files with 16-bit grayscale samples and multi-page stacks.
package tiff

import (
	"encoding/binary"
	"os"

	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"

	"github.com/ausocean/scicam/container/prd"
	"github.com/ausocean/scicam/frame"
)

// Baseline TIFF tags used by the writer.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagImageDesc       = 270
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagSampleFormat    = 339
)

// TIFF field types.
const (
	typeASCII = 2
	typeShort = 3
	typeLong  = 4
)

const headerLen = 8

// Writer writes one TIFF file of one or more 16-bit grayscale pages.
type Writer struct {
	f   *os.File
	h   prd.Header
	log logging.Logger

	width, height uint16
	rawBytes      int

	off        int64 // Current end of file.
	prevIFDPtr int64 // Where the next-IFD pointer of the last page lives.
	frames     uint32

	canvas []byte // Recompose target, allocated on first metadata frame.
}

// NewWriter creates the named file and writes the TIFF header. The frame
// dimensions derive from the acquisition header's implied region.
func NewWriter(path string, h prd.Header, l logging.Logger) (*Writer, error) {
	w := &Writer{h: h, log: l, width: h.Region.Width(), height: h.Region.Height()}
	if w.width == 0 || w.height == 0 {
		return nil, errors.New("tiff: header region defines an empty image")
	}
	w.rawBytes = 2 * int(w.width) * int(w.height)

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "tiff: could not create %s", path)
	}
	w.f = f

	hdr := make([]byte, headerLen)
	hdr[0], hdr[1] = 'I', 'I'
	binary.LittleEndian.PutUint16(hdr[2:], 42)
	// Next-IFD pointer at offset 4 is patched by the first WriteFrame.
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "tiff: header write failed")
	}
	w.off = headerLen
	w.prevIFDPtr = 4
	return w, nil
}

// Frames returns the number of pages written so far.
func (w *Writer) Frames() uint32 { return w.frames }

// WriteFrame appends one frame as a new page. Metadata-enabled frames are
// decoded and recomposed onto the implied-region canvas first; plain frames
// are written as is.
func (w *Writer) WriteFrame(fr *frame.Frame, expTime uint32) error {
	var data []byte
	if w.h.Flags&prd.FlagHasMetadata != 0 {
		if err := fr.DecodeMetadata(); err != nil {
			return err
		}
		if w.canvas == nil {
			w.canvas = make([]byte, w.rawBytes)
		}
		for i := range w.canvas {
			w.canvas[i] = 0
		}
		err := fr.Meta().Recompose(w.canvas, w.width, w.height)
		if err != nil {
			return err
		}
		data = w.canvas
	} else {
		if len(fr.Data()) < w.rawBytes {
			return errors.Errorf("tiff: frame data is %d bytes, want %d", len(fr.Data()), w.rawBytes)
		}
		data = fr.Data()[:w.rawBytes]
	}

	return w.writePage(data, imageDesc(w.h, fr, expTime))
}

// writePage lays out pixel strip, description and IFD, then links the page
// into the IFD chain.
func (w *Writer) writePage(data []byte, desc string) error {
	dataOff := w.off
	if _, err := w.f.Write(data); err != nil {
		return errors.Wrap(err, "tiff: strip write failed")
	}
	w.off += int64(len(data))

	// ASCII values are nul terminated and word aligned.
	descBytes := append([]byte(desc), 0)
	descOff := w.off
	if len(descBytes)&1 == 1 {
		descBytes = append(descBytes, 0)
	}
	if _, err := w.f.Write(descBytes); err != nil {
		return errors.Wrap(err, "tiff: description write failed")
	}
	w.off += int64(len(descBytes))

	type entry struct {
		tag, typ uint16
		count    uint32
		value    uint32
	}
	entries := []entry{
		{tagImageWidth, typeShort, 1, uint32(w.width)},
		{tagImageLength, typeShort, 1, uint32(w.height)},
		{tagBitsPerSample, typeShort, 1, 16},
		{tagCompression, typeShort, 1, 1}, // None.
		{tagPhotometric, typeShort, 1, 1}, // BlackIsZero.
		{tagImageDesc, typeASCII, uint32(len(desc) + 1), uint32(descOff)},
		{tagStripOffsets, typeLong, 1, uint32(dataOff)},
		{tagSamplesPerPixel, typeShort, 1, 1},
		{tagRowsPerStrip, typeLong, 1, uint32(w.height)},
		{tagStripByteCounts, typeLong, 1, uint32(len(data))},
		{tagSampleFormat, typeShort, 1, 1}, // Unsigned integer.
	}

	ifdOff := w.off
	ifd := make([]byte, 2+12*len(entries)+4)
	binary.LittleEndian.PutUint16(ifd, uint16(len(entries)))
	for i, e := range entries {
		b := ifd[2+12*i:]
		binary.LittleEndian.PutUint16(b[0:], e.tag)
		binary.LittleEndian.PutUint16(b[2:], e.typ)
		binary.LittleEndian.PutUint32(b[4:], e.count)
		if e.typ == typeShort && e.count == 1 {
			binary.LittleEndian.PutUint16(b[8:], uint16(e.value))
		} else {
			binary.LittleEndian.PutUint32(b[8:], e.value)
		}
	}
	// Next-IFD pointer of this page stays zero until another page arrives.
	if _, err := w.f.Write(ifd); err != nil {
		return errors.Wrap(err, "tiff: IFD write failed")
	}
	w.off += int64(len(ifd))

	var ptr [4]byte
	binary.LittleEndian.PutUint32(ptr[:], uint32(ifdOff))
	if _, err := w.f.WriteAt(ptr[:], w.prevIFDPtr); err != nil {
		return errors.Wrap(err, "tiff: IFD link failed")
	}
	w.prevIFDPtr = ifdOff + int64(2+12*len(entries))

	w.frames++
	return nil
}

// Close closes the file. Unlike PRD there is no declared frame count to fix
// up in the container itself; a mismatch with the acquisition header is
// only logged.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	if w.h.FrameCount != w.frames && w.log != nil {
		w.log.Warning("tiff: file does not contain declared number of frames", "declared", w.h.FrameCount, "written", w.frames)
	}
	err := w.f.Close()
	w.f = nil
	return err
}
