// Patrol - scripted motion demo.
//
// Drives the robot through a square patrol loop using the motion
// controller, against the mock transport by default so it can run
// without hardware.
package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/butlerlabs/go-quad/internal/config"
	"github.com/butlerlabs/go-quad/internal/log"
	"github.com/butlerlabs/go-quad/pkg/motion"
	"github.com/butlerlabs/go-quad/pkg/robot"
)

func main() {
	protocol := flag.String("protocol", config.ProtocolMock, "Transport protocol (udp, ros, webrtc, mock)")
	robotIP := flag.String("robot", "", "Robot IP address (overrides config default)")
	side := flag.Float64("side", 2.0, "Patrol square side length in meters")
	laps := flag.Int("laps", 1, "Number of laps, 0 for endless")
	flag.Parse()

	log.Init("info")

	cfg := config.Default()
	cfg.Communication.Protocol = *protocol
	if *robotIP != "" {
		cfg.Robot.IPAddress = *robotIP
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("stopping patrol")
		cancel()
	}()

	manager := robot.NewManager(cfg)
	if err := manager.Connect(ctx); err != nil {
		log.Error("connect failed", "err", err)
		os.Exit(1)
	}
	defer manager.Disconnect()

	controller := motion.NewController(manager, cfg.Control)
	controller.Start()
	defer controller.Stop()

	if !manager.StandUp(ctx) {
		log.Error("robot refused to stand")
		os.Exit(1)
	}
	time.Sleep(time.Second)

	log.Info("patrol started", "side_m", *side, "laps", *laps)
	corners := [][3]float64{
		{*side, 0, math.Pi / 2},
		{*side, *side, math.Pi},
		{0, *side, -math.Pi / 2},
		{0, 0, 0},
	}

	for lap := 0; *laps == 0 || lap < *laps; lap++ {
		for _, c := range corners {
			if ctx.Err() != nil {
				return
			}
			if !controller.MoveToPosition(c[0], c[1], c[2], cfg.Control.MaxLinearVelocity) {
				log.Error("waypoint refused", "x", c[0], "y", c[1])
				return
			}
			waitForTrajectory(ctx, controller)
		}
		log.Info("lap complete", "lap", lap+1)
	}

	manager.SitDown(ctx)
	log.Info("patrol finished")
}

func waitForTrajectory(ctx context.Context, c *motion.Controller) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for c.IsExecuting() {
		select {
		case <-ctx.Done():
			c.StopTrajectory()
			return
		case <-ticker.C:
		}
	}
}
