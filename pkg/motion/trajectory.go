package motion

import (
	"math"
	"time"
)

// TrajectoryPoint is one pose sample on a planned path. Timestamp is
// seconds from trajectory start.
type TrajectoryPoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Yaw       float64 `json:"yaw"`
	Timestamp float64 `json:"timestamp"`
}

// Trajectory planning knobs.
const (
	pointsPerSecond = 10
	minTravelTime   = 1.0 // seconds

	// Angular travel time is budgeted at half the angular limit so
	// turns stay conservative.
	angularSpeedFactor = 0.5
)

// smoothStep is the cubic easing 3t^2 - 2t^3 on t in [0, 1].
func smoothStep(t float64) float64 {
	return t * t * (3.0 - 2.0*t)
}

// PlanTrajectory builds a smooth, time-increasing path from start to end.
// Travel time is the larger of the linear and angular estimates, never
// under one second, sampled at ten points per second minimum. The control
// loop differentiates neighbouring points to recover velocities, so
// fidelity scales with sample density.
func PlanTrajectory(startX, startY, startYaw, endX, endY, endYaw, maxSpeed, maxAngularVel float64) []TrajectoryPoint {
	distance := math.Hypot(endX-startX, endY-startY)
	angularDistance := math.Abs(endYaw - startYaw)

	linearTime := distance / maxSpeed
	angularTime := angularDistance / (maxAngularVel * angularSpeedFactor)
	totalTime := math.Max(math.Max(linearTime, angularTime), minTravelTime)

	numPoints := int(totalTime * pointsPerSecond)
	if numPoints < pointsPerSecond {
		numPoints = pointsPerSecond
	}

	trajectory := make([]TrajectoryPoint, 0, numPoints+1)
	for i := 0; i <= numPoints; i++ {
		t := float64(i) / float64(numPoints)
		s := smoothStep(t)
		trajectory = append(trajectory, TrajectoryPoint{
			X:         startX + (endX-startX)*s,
			Y:         startY + (endY-startY)*s,
			Yaw:       startYaw + (endYaw-startYaw)*s,
			Timestamp: t * totalTime,
		})
	}
	return trajectory
}

// Duration returns the total time span of a trajectory.
func Duration(trajectory []TrajectoryPoint) time.Duration {
	if len(trajectory) == 0 {
		return 0
	}
	return time.Duration(trajectory[len(trajectory)-1].Timestamp * float64(time.Second))
}
