// Package telemetry records robot state history and derives statistics.
//
// The recorder subscribes to the connection manager's state snapshots,
// keeps a bounded ring of them, and periodically flushes a JSON summary
// to disk. It is an observer only; it never issues commands.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/butlerlabs/go-quad/internal/config"
	"github.com/butlerlabs/go-quad/internal/log"
	"github.com/butlerlabs/go-quad/pkg/robot"
)

// Trend classifies how a sampled value moved over a window.
type Trend string

// Trend values.
const (
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
)

// Change magnitudes below these are considered noise.
const (
	batteryTrendDelta = 1.0 // percent
	tempTrendDelta    = 2.0 // celsius

	// Changes worth a log line of their own.
	batteryLogDelta = 5.0
	tempLogDelta    = 5.0
)

// Stats summarizes recorder activity.
type Stats struct {
	TotalUpdates      uint64    `json:"total_updates"`
	AverageUpdateRate float64   `json:"average_update_rate"` // Hz
	LastUpdate        time.Time `json:"last_update_time"`
	HistorySize       int       `json:"history_size"`
	MaxHistorySize    int       `json:"max_history_size"`
	BatteryTrend      Trend     `json:"battery_trend"`
	TemperatureTrend  Trend     `json:"temperature_trend"`
}

// Recorder is the state history recorder.
type Recorder struct {
	cfg config.MonitoringConfig

	mu      sync.Mutex
	history []robot.State // ring, oldest first once full
	start   int
	count   int
	updates uint64
	last    time.Time

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewRecorder creates a recorder with the configured history size.
func NewRecorder(cfg config.MonitoringConfig) *Recorder {
	size := cfg.HistorySize
	if size <= 0 {
		size = 1000
	}
	return &Recorder{
		cfg:     cfg,
		history: make([]robot.State, size),
	}
}

// Start launches the periodic flush loop when logging is enabled.
func (r *Recorder) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.flushLoop()
	log.Info("telemetry recorder started", "history_size", len(r.history))
}

// Stop halts the flush loop and writes one final log, so a shutdown never
// loses the tail of the history.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	<-done
	if r.cfg.EnableLogging {
		if err := r.Flush(); err != nil {
			log.Warn("final telemetry flush failed", "err", err)
		}
	}
	log.Info("telemetry recorder stopped")
}

// OnState is the state callback registered with the connection manager.
func (r *Recorder) OnState(st robot.State) {
	r.mu.Lock()

	var prev *robot.State
	if r.count > 0 {
		p := r.at(r.count - 1)
		prev = &p
	}

	idx := (r.start + r.count) % len(r.history)
	if r.count == len(r.history) {
		r.start = (r.start + 1) % len(r.history)
		idx = (r.start + r.count - 1) % len(r.history)
	} else {
		r.count++
	}
	r.history[idx] = st
	r.updates++
	r.last = time.Now()
	r.mu.Unlock()

	if prev != nil {
		logSignificantChanges(*prev, st)
	}
}

// at returns the i-th oldest retained state. Caller holds r.mu.
func (r *Recorder) at(i int) robot.State {
	return r.history[(r.start+i)%len(r.history)]
}

// History returns the retained snapshots, oldest first. A positive
// duration limits the result to snapshots newer than now-duration.
func (r *Recorder) History(duration time.Duration) []robot.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Time{}
	if duration > 0 {
		cutoff = time.Now().Add(-duration)
	}

	out := make([]robot.State, 0, r.count)
	for i := 0; i < r.count; i++ {
		st := r.at(i)
		if st.LastUpdate.After(cutoff) {
			out = append(out, st)
		}
	}
	return out
}

// Latest returns the newest retained snapshot.
func (r *Recorder) Latest() (robot.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return robot.State{}, false
	}
	return r.at(r.count - 1), true
}

// GetStats returns recorder statistics including value trends over the
// last minute.
func (r *Recorder) GetStats() Stats {
	recent := r.History(time.Minute)

	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		TotalUpdates:     r.updates,
		LastUpdate:       r.last,
		HistorySize:      r.count,
		MaxHistorySize:   len(r.history),
		BatteryTrend:     TrendStable,
		TemperatureTrend: TrendStable,
	}

	if len(recent) > 1 {
		span := recent[len(recent)-1].LastUpdate.Sub(recent[0].LastUpdate).Seconds()
		if span > 0 {
			s.AverageUpdateRate = float64(len(recent)-1) / span
		}
		s.BatteryTrend = classify(
			recent[len(recent)-1].BatteryLevel-recent[0].BatteryLevel, batteryTrendDelta)
		s.TemperatureTrend = classify(
			recent[len(recent)-1].Temperature-recent[0].Temperature, tempTrendDelta)
	}
	return s
}

func classify(delta, noise float64) Trend {
	switch {
	case delta > noise:
		return TrendIncreasing
	case delta < -noise:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// stateLog is the on-disk flush format.
type stateLog struct {
	Timestamp    time.Time     `json:"timestamp"`
	Stats        Stats         `json:"statistics"`
	RecentStates []robot.State `json:"recent_states"`
}

// Flush writes the statistics and the last hundred states to the
// configured log file.
func (r *Recorder) Flush() error {
	recent := r.History(0)
	if len(recent) == 0 {
		return nil
	}
	if len(recent) > 100 {
		recent = recent[len(recent)-100:]
	}

	payload := stateLog{
		Timestamp:    time.Now(),
		Stats:        r.GetStats(),
		RecentStates: recent,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state log: %w", err)
	}

	path := r.cfg.LogFile
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write state log: %w", err)
	}
	log.Debug("state log flushed", "path", path, "states", len(recent))
	return nil
}

func (r *Recorder) flushLoop() {
	defer close(r.done)

	if !r.cfg.EnableLogging {
		<-r.stop
		return
	}

	interval := time.Duration(r.cfg.LogInterval * float64(time.Second))
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				log.Warn("telemetry flush failed", "err", err)
			}
		}
	}
}

// logSignificantChanges emits a line only when something worth noticing
// moved between consecutive snapshots.
func logSignificantChanges(prev, cur robot.State) {
	if cur.Mode != prev.Mode {
		log.Info("robot mode changed", "from", prev.Mode.String(), "to", cur.Mode.String())
	}
	if cur.IsConnected != prev.IsConnected {
		if cur.IsConnected {
			log.Info("robot state source is live")
		} else {
			log.Info("robot state source is simulated")
		}
	}
	if d := cur.BatteryLevel - prev.BatteryLevel; d > batteryLogDelta || d < -batteryLogDelta {
		log.Info("battery level", "percent", cur.BatteryLevel)
	}
	if d := cur.Temperature - prev.Temperature; d > tempLogDelta || d < -tempLogDelta {
		log.Info("temperature", "celsius", cur.Temperature)
	}
}
