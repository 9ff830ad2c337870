/*
NAME
  gaps.go

DESCRIPTION
  gaps.go provides Gaps, a sorted and coalesced set of lost frame-number
  ranges from which drop statistics are derived at end of run.

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

// Package stats provides bookkeeping for frame numbers lost during an
// acquisition and the derived drop statistics reported at end of run.
package stats

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Range is an inclusive range of lost frame numbers.
type Range struct {
	Lo, Hi uint32
}

// Gaps records lost frame numbers as inclusive ranges. Ranges may be added
// in any order; they are sorted and coalesced lazily on the first query
// following a change. Gaps is not safe for concurrent use.
type Gaps struct {
	ranges []Range
	dirty  bool
}

// Clear removes all recorded ranges.
func (g *Gaps) Clear() {
	g.ranges = g.ranges[:0]
	g.dirty = false
}

// Add records a single lost frame number.
func (g *Gaps) Add(n uint32) {
	g.AddRange(n, n)
}

// AddRange records the inclusive range [lo,hi] of lost frame numbers.
func (g *Gaps) AddRange(lo, hi uint32) {
	if hi < lo {
		lo, hi = hi, lo
	}
	g.ranges = append(g.ranges, Range{Lo: lo, Hi: hi})
	g.dirty = true
}

// coalesce sorts ranges by (Lo,Hi) and merges any that touch or overlap.
func (g *Gaps) coalesce() {
	if !g.dirty {
		return
	}
	g.dirty = false
	if len(g.ranges) < 2 {
		return
	}
	sort.Slice(g.ranges, func(i, j int) bool {
		if g.ranges[i].Lo != g.ranges[j].Lo {
			return g.ranges[i].Lo < g.ranges[j].Lo
		}
		return g.ranges[i].Hi < g.ranges[j].Hi
	})
	merged := g.ranges[:1]
	for _, r := range g.ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Lo <= last.Hi+1 {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		merged = append(merged, r)
	}
	g.ranges = merged
}

// Ranges returns the sorted, coalesced ranges recorded so far.
func (g *Gaps) Ranges() []Range {
	g.coalesce()
	out := make([]Range, len(g.ranges))
	copy(out, g.ranges)
	return out
}

// Count returns the total number of lost frames over all ranges.
func (g *Gaps) Count() uint64 {
	g.coalesce()
	var n uint64
	for _, r := range g.ranges {
		n += uint64(r.Hi-r.Lo) + 1
	}
	return n
}

// AvgSpacing returns the average distance between consecutively lost frame
// numbers. Each gap between two ranges contributes the count of caught
// frames separating them, and each step inside a range contributes one.
func (g *Gaps) AvgSpacing() float64 {
	g.coalesce()
	var obs []float64
	for i, r := range g.ranges {
		if i > 0 {
			prev := g.ranges[i-1]
			obs = append(obs, float64(r.Lo-prev.Hi-1))
		}
		for n := r.Lo; n < r.Hi; n++ {
			obs = append(obs, 1)
		}
	}
	if len(obs) == 0 {
		return 0
	}
	return stat.Mean(obs, nil)
}

// LargestCluster returns the length of the longest run of consecutively
// lost frame numbers.
func (g *Gaps) LargestCluster() uint32 {
	g.coalesce()
	var max uint32
	for _, r := range g.ranges {
		if n := r.Hi - r.Lo + 1; n > max {
			max = n
		}
	}
	return max
}
