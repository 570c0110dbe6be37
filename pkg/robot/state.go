// Package robot provides the connection manager for a quadruped robot.
//
// The manager owns exactly one transport backend and the authoritative
// RobotState. Every other component reads immutable state snapshots and
// issues commands through the manager, which gates them behind
// connectivity and the emergency-stop latch.
package robot

import "time"

// Mode is the robot's operating mode.
type Mode int

// Robot operating modes.
const (
	ModeIdle Mode = iota
	ModeWalk
	ModeRun
	ModeClimb
	ModeStand
	ModeSit
	ModeLie
)

var modeNames = map[Mode]string{
	ModeIdle:  "idle",
	ModeWalk:  "walk",
	ModeRun:   "run",
	ModeClimb: "climb",
	ModeStand: "stand",
	ModeSit:   "sit",
	ModeLie:   "lie",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// Gait is a named locomotion pattern. It affects step cadence, not the
// velocity semantics of a command.
type Gait string

// Available gaits.
const (
	GaitWalk  Gait = "walk"
	GaitTrot  Gait = "trot"
	GaitRun   Gait = "run"
	GaitBound Gait = "bound"
)

// State is one immutable snapshot of the robot. The manager publishes a
// fresh value every monitoring tick; holders never see partial updates.
//
// IsConnected reflects whether the snapshot came from live transport data.
// It is false on simulated fallback snapshots even while the transport
// connection itself is up.
type State struct {
	Mode            Mode        `json:"mode"`
	BatteryLevel    float64     `json:"battery_level"` // 0-100
	Temperature     float64     `json:"temperature"`   // celsius
	Position        [3]float64  `json:"position"`      // x, y, z
	Orientation     [3]float64  `json:"orientation"`   // roll, pitch, yaw
	LinearVelocity  [3]float64  `json:"linear_velocity"`
	AngularVelocity float64     `json:"angular_velocity"`
	JointPositions  [12]float64 `json:"joint_positions"`
	IsConnected     bool        `json:"is_connected"`
	LastUpdate      time.Time   `json:"last_update"`
}

// MotionCommand is one velocity command. It is built fresh per send and
// never mutated afterwards.
type MotionCommand struct {
	LinearX    float64 `json:"linear_x"`    // m/s
	LinearY    float64 `json:"linear_y"`    // m/s
	AngularZ   float64 `json:"angular_z"`   // rad/s
	StepHeight float64 `json:"step_height"` // meters
	Gait       Gait    `json:"gait_type"`
}

// StopCommand returns the all-zero command that halts the robot.
func StopCommand() MotionCommand {
	return MotionCommand{StepHeight: 0.1, Gait: GaitTrot}
}
