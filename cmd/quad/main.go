package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/butlerlabs/go-quad/internal/config"
	"github.com/butlerlabs/go-quad/internal/log"
	"github.com/butlerlabs/go-quad/pkg/motion"
	"github.com/butlerlabs/go-quad/pkg/robot"
	"github.com/butlerlabs/go-quad/pkg/safety"
	"github.com/butlerlabs/go-quad/pkg/telemetry"
	"github.com/butlerlabs/go-quad/pkg/web"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	protocol := flag.String("protocol", "", "Override communication protocol (udp, ros, webrtc, mock)")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Init("info")
		log.Warn("config load failed, using defaults", "path", *configPath, "err", err)
		cfg = config.Default()
	}
	if *protocol != "" {
		cfg.Communication.Protocol = *protocol
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log.Init(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	log.Info("go-quad starting",
		"robot", cfg.Robot.IPAddress,
		"protocol", cfg.Communication.Protocol,
		"web_port", cfg.Web.Port)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		cancel()
	}()

	manager := robot.NewManager(cfg)
	controller := motion.NewController(manager, cfg.Control)
	monitor := safety.NewMonitor(manager, cfg.Safety)
	recorder := telemetry.NewRecorder(cfg.Monitoring)
	server := web.NewServer(cfg.Web.Port, manager, controller, monitor, recorder)

	manager.RegisterStateCallback(recorder.OnState)
	manager.RegisterStateCallback(server.OnState)

	// A failed connect is not fatal: the API stays up and an operator can
	// retry via POST /api/connect.
	if err := manager.Connect(ctx); err != nil {
		log.Error("initial connect failed", "err", err)
	}

	controller.Start()
	monitor.Start()
	recorder.Start()
	if cfg.Web.Enabled {
		server.StartAsync()
	}

	<-ctx.Done()

	if err := server.Shutdown(); err != nil {
		log.Warn("web shutdown", "err", err)
	}
	monitor.Stop()
	controller.Stop()
	recorder.Stop()
	manager.Disconnect()

	log.Info("goodbye")
}
