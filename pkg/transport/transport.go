// Package transport provides the backends used to reach a quadruped robot.
//
// Each backend exposes the same narrow capability surface: send a velocity,
// invoke a named action, and hand back the latest sensor sample. The
// connection manager holds a Transport value and never inspects the
// concrete type.
package transport

import (
	"context"
	"time"
)

// Action names understood by every backend.
const (
	ActionStandUp  = "stand_up"
	ActionSitDown  = "sit_down"
	ActionStopMove = "stop_move"
)

// Sample is one normalized sensor reading from a backend.
// Zero-value fields mean "not reported by this backend".
type Sample struct {
	Mode            int
	BatteryLevel    float64     // 0-100
	Temperature     float64     // celsius
	Position        [3]float64  // x, y, z
	Orientation     [3]float64  // roll, pitch, yaw
	LinearVelocity  [3]float64  // m/s
	AngularVelocity float64     // rad/s around z
	JointPositions  [12]float64 // quadruped joints
	Timestamp       time.Time
}

// Age returns how old the sample is.
func (s Sample) Age() time.Duration {
	return time.Since(s.Timestamp)
}

// Transport is the capability interface implemented by every backend.
//
// Implementations must bound every blocking call with a timeout; the
// caller never waits indefinitely on transport I/O.
type Transport interface {
	// Name identifies the backend ("udp", "ros", "webrtc", "mock").
	Name() string

	// Connect establishes the backend connection. It must respect ctx
	// cancellation and return a descriptive error on failure.
	Connect(ctx context.Context) error

	// Close releases all backend resources. Safe to call more than once.
	Close() error

	// SendVelocity transmits a velocity command (m/s, m/s, rad/s) with
	// the given step height in meters.
	SendVelocity(linearX, linearY, angularZ, stepHeight float64) error

	// CallAction invokes a named action and reports whether the robot
	// acknowledged it. Backends without an acknowledgment path report
	// optimistic success after the send.
	CallAction(ctx context.Context, name string) (bool, error)

	// LatestSample returns the most recent sensor sample and whether
	// any sample has been received at all.
	LatestSample() (Sample, bool)

	// NeedsHeartbeat reports whether the backend requires periodic
	// liveness signaling from the command loop.
	NeedsHeartbeat() bool

	// Heartbeat emits one liveness signal. No-op for backends where
	// NeedsHeartbeat is false.
	Heartbeat() error
}
