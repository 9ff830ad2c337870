/*
NAME
  trajectories.go

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package frame

// TrajectoriesHeader describes the trajectory capacity and fill level of one
// frame. Capacities are fixed for all frames of a stack so each frame has
// the same on-disk size.
type TrajectoriesHeader struct {
	MaxTrajectories uint32 // Capacity of trajectories per frame.
	MaxPoints       uint32 // Capacity of points per trajectory.
	Count           uint32 // Number of valid trajectories.
}

// TrajectoryHeader describes one particle's trace.
type TrajectoryHeader struct {
	RoiNr      uint16 // ROI carrying the particle in the current frame.
	ParticleID uint32 // Stable particle identity across frames.
	Lifetime   uint32 // Number of frames the particle has been detected in.
	PointCount uint32 // Number of valid points in the trajectory.
}

// TrajectoryPoint is one position along a trajectory, in sensor coordinates
// without binning applied. Valid is zero for an invalid point.
type TrajectoryPoint struct {
	Valid uint8
	X, Y  uint16
}

// Trajectory is one particle trace.
type Trajectory struct {
	Header TrajectoryHeader
	Points []TrajectoryPoint
}

// Trajectories is the set of particle traces attached to one frame.
type Trajectories struct {
	Header TrajectoriesHeader
	Data   []Trajectory
}

func (t Trajectories) clone() Trajectories {
	out := Trajectories{Header: t.Header}
	if t.Data == nil {
		return out
	}
	out.Data = make([]Trajectory, len(t.Data))
	for i, tr := range t.Data {
		pts := make([]TrajectoryPoint, len(tr.Points))
		copy(pts, tr.Points)
		out.Data[i] = Trajectory{Header: tr.Header, Points: pts}
	}
	return out
}
