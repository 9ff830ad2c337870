/*
NAME
  update.go

DESCRIPTION
  update.go provides updating of Config fields from a map of string
  variables, as delivered by the host's configuration file or flags.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ausocean/scicam/frame"
)

var errInvalidRegion = errors.New("config: region needs six comma separated values")

// Config variable keys.
const (
	KeyAcqMode            = "AcqMode"
	KeyAcqFrameCount      = "AcqFrameCount"
	KeyBufferFrameCount   = "BufferFrameCount"
	KeyExposure           = "Exposure"
	KeyExposureResolution = "ExposureResolution"
	KeyVtmExposures       = "VtmExposures"
	KeyTrigMode           = "TrigMode"
	KeyMetadataEnabled    = "MetadataEnabled"
	KeyRegions            = "Regions"
	KeyStorageType        = "StorageType"
	KeySaveDir            = "SaveDir"
	KeySaveFirst          = "SaveFirst"
	KeySaveLast           = "SaveLast"
	KeyMaxStackSize       = "MaxStackSize"
	KeyTimeLapseDelay     = "TimeLapseDelay"
)

var acqModeValues = map[string]AcqMode{
	"SnapSequence":   SnapSequence,
	"SnapCircBuffer": SnapCircBuffer,
	"SnapTimeLapse":  SnapTimeLapse,
	"LiveCircBuffer": LiveCircBuffer,
	"LiveTimeLapse":  LiveTimeLapse,
}

var storageValues = map[string]StorageType{
	"None": StorageNone,
	"Prd":  StoragePrd,
	"Tiff": StorageTiff,
}

// Update takes a map of variables and their values and updates the Config,
// skipping and logging anything unrecognised or malformed.
func (c *Config) Update(vars map[string]string) {
	for key, value := range vars {
		switch key {
		case KeyAcqMode:
			m, ok := acqModeValues[value]
			if !ok {
				c.logInvalid(key, value)
				break
			}
			c.AcqMode = m
		case KeyAcqFrameCount:
			c.setUint32(&c.AcqFrameCount, key, value)
		case KeyBufferFrameCount:
			c.setUint32(&c.BufferFrameCount, key, value)
		case KeyExposure:
			c.setUint32(&c.Exposure, key, value)
		case KeyExposureResolution:
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || c.SetExposureResolution(uint32(v)) != nil {
				c.logInvalid(key, value)
			}
		case KeyVtmExposures:
			var exps []uint16
			ok := true
			for _, s := range strings.Split(value, ",") {
				v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
				if err != nil {
					ok = false
					break
				}
				exps = append(exps, uint16(v))
			}
			if !ok {
				c.logInvalid(key, value)
				break
			}
			c.VtmExposures = exps
		case KeyTrigMode:
			v, err := strconv.ParseInt(value, 10, 32)
			if err != nil {
				c.logInvalid(key, value)
				break
			}
			c.TrigMode = int32(v)
		case KeyMetadataEnabled:
			v, err := strconv.ParseBool(value)
			if err != nil {
				c.logInvalid(key, value)
				break
			}
			c.MetadataEnabled = v
		case KeyRegions:
			regions, err := parseRegions(value)
			if err != nil {
				c.logInvalid(key, value)
				break
			}
			c.Regions = regions
		case KeyStorageType:
			s, ok := storageValues[value]
			if !ok {
				c.logInvalid(key, value)
				break
			}
			c.StorageType = s
		case KeySaveDir:
			c.SaveDir = value
		case KeySaveFirst:
			c.setUint32(&c.SaveFirst, key, value)
		case KeySaveLast:
			c.setUint32(&c.SaveLast, key, value)
		case KeyMaxStackSize:
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				c.logInvalid(key, value)
				break
			}
			c.MaxStackSize = v
		case KeyTimeLapseDelay:
			d, err := time.ParseDuration(value)
			if err != nil {
				c.logInvalid(key, value)
				break
			}
			c.TimeLapseDelay = d
		default:
			if c.Logger != nil {
				c.Logger.Warning("unrecognised config variable", "name", key)
			}
		}
	}
}

// parseRegions parses a region list of the form
// "s1,s2,sbin,p1,p2,pbin;s1,s2,sbin,p1,p2,pbin;...".
func parseRegions(value string) ([]frame.Region, error) {
	var regions []frame.Region
	for _, spec := range strings.Split(value, ";") {
		fields := strings.Split(spec, ",")
		if len(fields) != 6 {
			return nil, errInvalidRegion
		}
		var vals [6]uint16
		for i, s := range fields {
			v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
			if err != nil {
				return nil, err
			}
			vals[i] = uint16(v)
		}
		regions = append(regions, frame.Region{
			S1: vals[0], S2: vals[1], Sbin: vals[2],
			P1: vals[3], P2: vals[4], Pbin: vals[5],
		})
	}
	return regions, nil
}

func (c *Config) setUint32(dst *uint32, key, value string) {
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		c.logInvalid(key, value)
		return
	}
	*dst = uint32(v)
}

func (c *Config) logInvalid(key, value string) {
	if c.Logger != nil {
		c.Logger.Warning("invalid config variable value", "name", key, "value", value)
	}
}
