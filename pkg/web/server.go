// Package web exposes the robot over an HTTP API and a state websocket.
package web

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/butlerlabs/go-quad/internal/log"
	"github.com/butlerlabs/go-quad/pkg/hub"
	"github.com/butlerlabs/go-quad/pkg/robot"
	"github.com/butlerlabs/go-quad/pkg/safety"
	"github.com/butlerlabs/go-quad/pkg/telemetry"
)

// RobotService is the connection manager surface the API needs.
type RobotService interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() robot.State
	IsConnected() bool
	ActiveTransport() string
	StandUp(ctx context.Context) bool
	SitDown(ctx context.Context) bool
	EmergencyStopRobot()
}

// MotionService is the motion controller surface the API needs.
type MotionService interface {
	MoveVelocity(linearX, linearY, angularZ float64, gait robot.Gait, stepHeight float64) bool
	MoveToPosition(targetX, targetY, targetYaw, maxSpeed float64) bool
	ChangeGait(gait robot.Gait) bool
	SetStepHeight(height float64) bool
	StopTrajectory()
	IsExecuting() bool
}

// SafetyService is the safety supervisor surface the API needs.
type SafetyService interface {
	ActiveAlerts() []safety.Alert
	GetStatus() safety.Status
	EmergencyStop(reason string)
	ResetEmergencyStop()
}

// HistoryService is the telemetry recorder surface the API needs.
type HistoryService interface {
	History(duration time.Duration) []robot.State
	GetStats() telemetry.Stats
}

// Server is the control API server.
type Server struct {
	app  *fiber.App
	port int

	robot   RobotService
	motion  MotionService
	safety  SafetyService
	history HistoryService

	stateHub *hub.Hub
}

// NewServer wires the API around the given services.
func NewServer(port int, r RobotService, m MotionService, s SafetyService, h HistoryService) *Server {
	srv := &Server{
		port:     port,
		robot:    r,
		motion:   m,
		safety:   s,
		history:  h,
		stateHub: hub.New("state"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-quad",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", srv.handleStatus)
	api.Get("/alerts", srv.handleAlerts)
	api.Get("/safety", srv.handleSafetyStatus)
	api.Get("/history", srv.handleHistory)
	api.Post("/connect", srv.handleConnect)
	api.Post("/disconnect", srv.handleDisconnect)
	api.Post("/command", srv.handleCommand)
	api.Post("/stand", srv.handleStand)
	api.Post("/sit", srv.handleSit)
	api.Post("/estop", srv.handleEmergencyStop)
	api.Post("/estop/reset", srv.handleEmergencyReset)
	api.Post("/gait", srv.handleGait)
	api.Post("/step_height", srv.handleStepHeight)
	api.Post("/trajectory", srv.handleTrajectory)
	api.Post("/trajectory/stop", srv.handleTrajectoryStop)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(srv.handleStateWS))

	srv.app = app
	return srv
}

// Start runs the server. It blocks until Shutdown.
func (s *Server) Start() error {
	go s.stateHub.Run()
	log.Info("web api listening", "port", s.port)
	return s.app.Listen(fmt.Sprintf(":%d", s.port))
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			log.Error("web server", "err", err)
		}
	}()
}

// OnState is registered with the connection manager; every snapshot is
// fanned out to websocket subscribers.
func (s *Server) OnState(st robot.State) {
	if s.stateHub.ClientCount() == 0 {
		return
	}
	if err := s.stateHub.BroadcastJSON(st); err != nil {
		log.Warn("state broadcast", "err", err)
	}
}

// handleStateWS streams state snapshots to one websocket client.
func (s *Server) handleStateWS(c *websocket.Conn) {
	// Seed the client with the current state before the stream starts.
	c.WriteJSON(s.robot.State())

	client := hub.NewClient(s.stateHub, c)
	client.Run()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.stateHub.Stop()
	return s.app.Shutdown()
}
