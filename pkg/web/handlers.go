package web

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/butlerlabs/go-quad/pkg/robot"
)

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	Connected bool        `json:"connected"`
	Transport string      `json:"transport"`
	State     robot.State `json:"state"`
	Executing bool        `json:"executing_trajectory"`
}

// handleStatus returns the connection status and latest state snapshot.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(StatusResponse{
		Connected: s.robot.IsConnected(),
		Transport: s.robot.ActiveTransport(),
		State:     s.robot.State(),
		Executing: s.motion.IsExecuting(),
	})
}

// handleAlerts returns the active safety alerts.
func (s *Server) handleAlerts(c *fiber.Ctx) error {
	return c.JSON(s.safety.ActiveAlerts())
}

// handleSafetyStatus returns the safety supervisor summary.
func (s *Server) handleSafetyStatus(c *fiber.Ctx) error {
	return c.JSON(s.safety.GetStatus())
}

// handleHistory returns recent state snapshots. The optional "seconds"
// query bounds the window; zero means everything retained.
func (s *Server) handleHistory(c *fiber.Ctx) error {
	seconds := c.QueryFloat("seconds", 0)
	window := time.Duration(seconds * float64(time.Second))
	return c.JSON(fiber.Map{
		"states":     s.history.History(window),
		"statistics": s.history.GetStats(),
	})
}

// handleConnect brings the configured transport up.
func (s *Server) handleConnect(c *fiber.Ctx) error {
	if err := s.robot.Connect(c.Context()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"connected": true,
		"transport": s.robot.ActiveTransport(),
	})
}

// handleDisconnect tears the transport down.
func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	s.robot.Disconnect()
	return c.JSON(fiber.Map{"connected": false})
}

// CommandRequest is the /api/command body. Velocities are clamped by the
// motion controller, not rejected.
type CommandRequest struct {
	LinearX    float64 `json:"linear_x"`
	LinearY    float64 `json:"linear_y"`
	AngularZ   float64 `json:"angular_z"`
	Gait       string  `json:"gait"`
	StepHeight float64 `json:"step_height"`
}

func (s *Server) handleCommand(c *fiber.Ctx) error {
	var req CommandRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid command body",
		})
	}

	gait := robot.Gait(req.Gait)
	if req.Gait == "" {
		gait = robot.GaitTrot
	}
	step := req.StepHeight
	if step == 0 {
		step = 0.1
	}

	ok := s.motion.MoveVelocity(req.LinearX, req.LinearY, req.AngularZ, gait, step)
	if !ok {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "command refused",
		})
	}
	return c.JSON(fiber.Map{"sent": true})
}

func (s *Server) handleStand(c *fiber.Ctx) error {
	if !s.robot.StandUp(c.Context()) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "stand refused",
		})
	}
	return c.JSON(fiber.Map{"mode": robot.ModeStand.String()})
}

func (s *Server) handleSit(c *fiber.Ctx) error {
	if !s.robot.SitDown(c.Context()) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "sit refused",
		})
	}
	return c.JSON(fiber.Map{"mode": robot.ModeSit.String()})
}

// EmergencyStopRequest optionally carries the operator's reason.
type EmergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEmergencyStop(c *fiber.Ctx) error {
	var req EmergencyStopRequest
	c.BodyParser(&req)
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	s.safety.EmergencyStop(req.Reason)
	return c.JSON(fiber.Map{"emergency_stop": true})
}

func (s *Server) handleEmergencyReset(c *fiber.Ctx) error {
	s.safety.ResetEmergencyStop()
	return c.JSON(fiber.Map{"emergency_stop": false})
}

// GaitRequest selects the gait pattern.
type GaitRequest struct {
	Gait string `json:"gait"`
}

func (s *Server) handleGait(c *fiber.Ctx) error {
	var req GaitRequest
	if err := c.BodyParser(&req); err != nil || req.Gait == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "gait required",
		})
	}

	if !s.motion.ChangeGait(robot.Gait(req.Gait)) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "gait change refused",
		})
	}
	return c.JSON(fiber.Map{"gait": req.Gait})
}

// StepHeightRequest sets the step height in meters.
type StepHeightRequest struct {
	Height float64 `json:"height"`
}

func (s *Server) handleStepHeight(c *fiber.Ctx) error {
	var req StepHeightRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "height required",
		})
	}

	if !s.motion.SetStepHeight(req.Height) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "step height refused",
		})
	}
	return c.JSON(fiber.Map{"height": req.Height})
}

// TrajectoryRequest is a move-to-position goal.
type TrajectoryRequest struct {
	TargetX   float64 `json:"target_x"`
	TargetY   float64 `json:"target_y"`
	TargetYaw float64 `json:"target_yaw"`
	MaxSpeed  float64 `json:"max_speed"`
}

func (s *Server) handleTrajectory(c *fiber.Ctx) error {
	var req TrajectoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid trajectory body",
		})
	}

	if !s.motion.MoveToPosition(req.TargetX, req.TargetY, req.TargetYaw, req.MaxSpeed) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "trajectory refused",
		})
	}
	return c.JSON(fiber.Map{"accepted": true})
}

func (s *Server) handleTrajectoryStop(c *fiber.Ctx) error {
	s.motion.StopTrajectory()
	return c.JSON(fiber.Map{"stopped": true})
}
