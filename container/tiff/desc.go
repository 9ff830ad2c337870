/*
NAME
  desc.go

DESCRIPTION
  desc.go assembles the ImageDescription tag content from the acquisition
  header, per-frame information and any decoded embedded metadata.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package tiff

import (
	"fmt"
	"strings"

	"github.com/ausocean/scicam/container/prd"
	"github.com/ausocean/scicam/frame"
)

var expResUnit = map[uint32]string{
	prd.ExpResUs: "us",
	prd.ExpResMs: "ms",
	prd.ExpResS:  "s",
}

// imageDesc builds the key-value description block written with each page.
// Invalid ROIs are skipped.
func imageDesc(h prd.Header, fr *frame.Frame, expTime uint32) string {
	info := fr.Info()

	var d strings.Builder
	fmt.Fprintf(&d, "bitDepth=%d", h.BitDepth)
	fmt.Fprintf(&d, "\nregion=[%d,%d,%d,%d,%d,%d]",
		h.Region.S1, h.Region.S2, h.Region.Sbin, h.Region.P1, h.Region.P2, h.Region.Pbin)
	fmt.Fprintf(&d, "\nframeNr=%d", info.FrameNr)
	fmt.Fprintf(&d, "\nreadoutTime=%dus", info.ReadoutTime())
	unit, ok := expResUnit[h.ExposureResolution]
	if !ok {
		unit = "<unknown unit>"
	}
	fmt.Fprintf(&d, "\nexpTime=%d%s", expTime, unit)
	fmt.Fprintf(&d, "\nbofTime=%dus", info.TimestampBOF)
	fmt.Fprintf(&d, "\neofTime=%dus", info.TimestampEOF)

	roiCount := fr.AcqCfg().RoiCount
	if m := fr.Meta(); m != nil {
		roiCount = m.Header.RoiCount
	}
	fmt.Fprintf(&d, "\nroiCount=%d", roiCount)
	fmt.Fprintf(&d, "\ncolorMask=%d", h.ColorMask)
	fmt.Fprintf(&d, "\nflags=0x%x", h.Flags)

	m := fr.Meta()
	if m == nil || h.Flags&prd.FlagHasMetadata == 0 {
		return d.String()
	}

	fmt.Fprintf(&d, "\nmeta.header.version=%d", m.Header.Version)
	fmt.Fprintf(&d, "\nmeta.header.frameNr=%d", m.Header.FrameNr)
	fmt.Fprintf(&d, "\nmeta.header.roiCount=%d", m.Header.RoiCount)
	fmt.Fprintf(&d, "\nmeta.header.timeBof=%d", m.Header.TimestampBOF)
	fmt.Fprintf(&d, "\nmeta.header.timeEof=%d", m.Header.TimestampEOF)
	fmt.Fprintf(&d, "\nmeta.header.expTime=%d", m.Header.ExposureTime)
	fmt.Fprintf(&d, "\nmeta.header.bitDepth=%d", m.Header.BitDepth)
	fmt.Fprintf(&d, "\nmeta.header.colorMask=%d", m.Header.ColorMask)
	fmt.Fprintf(&d, "\nmeta.header.flags=%d", m.Header.Flags)
	fmt.Fprintf(&d, "\nmeta.impliedRoi=[%d,%d,%d,%d,%d,%d]",
		m.Implied.S1, m.Implied.S2, m.Implied.Sbin, m.Implied.P1, m.Implied.P2, m.Implied.Pbin)
	fmt.Fprintf(&d, "\nmeta.roiCount=%d", len(m.Rois))

	for n, roi := range m.Rois {
		if roi.Header.Flags&frame.RoiFlagInvalid != 0 {
			continue
		}
		r := roi.Header.Region
		fmt.Fprintf(&d, "\nmeta.roi[%d].header.roiNr=%d", n, roi.Header.RoiNr)
		fmt.Fprintf(&d, "\nmeta.roi[%d].header.timeBor=%d", n, roi.Header.TimestampBOR)
		fmt.Fprintf(&d, "\nmeta.roi[%d].header.timeEor=%d", n, roi.Header.TimestampEOR)
		fmt.Fprintf(&d, "\nmeta.roi[%d].header.roi=[%d,%d,%d,%d,%d,%d]",
			n, r.S1, r.S2, r.Sbin, r.P1, r.P2, r.Pbin)
		fmt.Fprintf(&d, "\nmeta.roi[%d].header.flags=%d", n, roi.Header.Flags)
		fmt.Fprintf(&d, "\nmeta.roi[%d].dataSize=%d", n, len(roi.Data))
	}
	return d.String()
}
