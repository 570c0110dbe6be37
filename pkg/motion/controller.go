// Package motion turns high-level intents into bounded velocity commands.
//
// The controller plans smoothstep trajectories and steps through them at a
// fixed control rate, independent of the connection manager's monitoring
// rate. Velocities passed by callers are clamped to the configured limits,
// never rejected.
package motion

import (
	"sync"
	"time"

	"github.com/butlerlabs/go-quad/internal/config"
	"github.com/butlerlabs/go-quad/internal/log"
	"github.com/butlerlabs/go-quad/pkg/robot"
)

// ControlRateHz is the trajectory stepping frequency.
const ControlRateHz = 20

// Step height limits in meters.
const (
	MinStepHeight = 0.05
	MaxStepHeight = 0.2
)

// CommandSender is the slice of the connection manager the controller
// needs: command dispatch and a state snapshot for planning.
type CommandSender interface {
	SendMotionCommand(cmd robot.MotionCommand) bool
	State() robot.State
}

// Controller executes velocity commands and multi-point trajectories.
type Controller struct {
	sender CommandSender

	maxLinearVel  float64
	maxAngularVel float64

	mu         sync.Mutex
	trajectory []TrajectoryPoint
	index      int
	executing  bool
	running    bool
	stop       chan struct{}
	done       chan struct{}
}

// NewController creates a motion controller bound to a command sender.
func NewController(sender CommandSender, cfg config.ControlConfig) *Controller {
	return &Controller{
		sender:        sender,
		maxLinearVel:  cfg.MaxLinearVelocity,
		maxAngularVel: cfg.MaxAngularVelocity,
	}
}

// Start launches the control loop. Calling Start on a running controller
// is a no-op.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.controlLoop()
	log.Info("motion controller started", "rate_hz", ControlRateHz)
}

// Stop halts the control loop and issues a final stop command.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	done := c.done
	c.mu.Unlock()

	<-done
	c.StopMotion()
	log.Info("motion controller stopped")
}

// MoveVelocity clamps the velocities to the configured maxima and sends
// one command.
func (c *Controller) MoveVelocity(linearX, linearY, angularZ float64, gait robot.Gait, stepHeight float64) bool {
	cmd := robot.MotionCommand{
		LinearX:    clamp(linearX, -c.maxLinearVel, c.maxLinearVel),
		LinearY:    clamp(linearY, -c.maxLinearVel, c.maxLinearVel),
		AngularZ:   clamp(angularZ, -c.maxAngularVel, c.maxAngularVel),
		StepHeight: stepHeight,
		Gait:       gait,
	}

	ok := c.sender.SendMotionCommand(cmd)
	if ok {
		log.Debug("velocity command",
			"linear_x", cmd.LinearX, "linear_y", cmd.LinearY, "angular_z", cmd.AngularZ)
	}
	return ok
}

// MoveToPosition plans a trajectory from the current pose to the target
// and hands it to the control loop. It returns once the trajectory is
// accepted; completion is asynchronous.
func (c *Controller) MoveToPosition(targetX, targetY, targetYaw, maxSpeed float64) bool {
	if maxSpeed <= 0 || maxSpeed > c.maxLinearVel {
		maxSpeed = c.maxLinearVel
	}

	state := c.sender.State()
	trajectory := PlanTrajectory(
		state.Position[0], state.Position[1], state.Orientation[2],
		targetX, targetY, targetYaw,
		maxSpeed, c.maxAngularVel,
	)

	log.Info("trajectory planned",
		"points", len(trajectory),
		"duration", Duration(trajectory),
		"target_x", targetX, "target_y", targetY, "target_yaw", targetYaw)
	return c.ExecuteTrajectory(trajectory)
}

// ExecuteTrajectory replaces any in-flight trajectory with a new one and
// resets progress to the start.
func (c *Controller) ExecuteTrajectory(trajectory []TrajectoryPoint) bool {
	if len(trajectory) == 0 {
		return false
	}

	c.mu.Lock()
	if c.executing {
		log.Warn("replacing in-flight trajectory")
	}
	c.trajectory = trajectory
	c.index = 0
	c.executing = true
	c.mu.Unlock()

	log.Info("trajectory execution started", "points", len(trajectory))
	return true
}

// StopTrajectory clears the active trajectory and stops the robot.
func (c *Controller) StopTrajectory() {
	c.mu.Lock()
	c.trajectory = nil
	c.index = 0
	c.executing = false
	c.mu.Unlock()

	c.StopMotion()
	log.Info("trajectory execution stopped")
}

// StopMotion sends the all-zero stop command.
func (c *Controller) StopMotion() {
	c.sender.SendMotionCommand(robot.StopCommand())
}

// ChangeGait issues a zero-velocity command carrying only the new gait.
func (c *Controller) ChangeGait(gait robot.Gait) bool {
	cmd := robot.StopCommand()
	cmd.Gait = gait
	ok := c.sender.SendMotionCommand(cmd)
	if ok {
		log.Info("gait changed", "gait", gait)
	}
	return ok
}

// SetStepHeight issues a zero-velocity command carrying only the new step
// height, clamped to the mechanical range.
func (c *Controller) SetStepHeight(height float64) bool {
	height = clamp(height, MinStepHeight, MaxStepHeight)
	cmd := robot.StopCommand()
	cmd.StepHeight = height
	ok := c.sender.SendMotionCommand(cmd)
	if ok {
		log.Info("step height set", "meters", height)
	}
	return ok
}

// IsExecuting reports whether a trajectory is in flight.
func (c *Controller) IsExecuting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executing
}

// controlLoop steps the active trajectory at the fixed control rate. On
// shutdown it always attempts one final stop.
func (c *Controller) controlLoop() {
	defer close(c.done)

	ticker := time.NewTicker(time.Second / ControlRateHz)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.step()
		}
	}
}

// step advances the trajectory cursor by one point, commanding the finite
// difference velocity between the current point and the next.
func (c *Controller) step() {
	c.mu.Lock()
	if !c.executing || len(c.trajectory) == 0 {
		c.mu.Unlock()
		return
	}

	if c.index >= len(c.trajectory)-1 {
		c.trajectory = nil
		c.index = 0
		c.executing = false
		c.mu.Unlock()

		c.StopMotion()
		log.Info("trajectory execution completed")
		return
	}

	current := c.trajectory[c.index]
	next := c.trajectory[c.index+1]
	c.index++
	c.mu.Unlock()

	dt := next.Timestamp - current.Timestamp
	if dt <= 0 {
		return
	}
	c.MoveVelocity(
		(next.X-current.X)/dt,
		(next.Y-current.Y)/dt,
		(next.Yaw-current.Yaw)/dt,
		robot.GaitTrot, 0.1,
	)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
