package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/butlerlabs/go-quad/internal/config"
	"github.com/butlerlabs/go-quad/pkg/robot"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		HistorySize:   5,
		EnableLogging: false,
	}
}

func stateAt(offset time.Duration, battery float64) robot.State {
	return robot.State{
		BatteryLevel: battery,
		Temperature:  30,
		IsConnected:  true,
		LastUpdate:   time.Now().Add(offset),
	}
}

func TestRecorderRetainsStates(t *testing.T) {
	r := NewRecorder(testMonitoringConfig())

	r.OnState(stateAt(0, 90))
	r.OnState(stateAt(0, 89))

	states := r.History(0)
	if len(states) != 2 {
		t.Fatalf("retained %d states, want 2", len(states))
	}
	if states[0].BatteryLevel != 90 || states[1].BatteryLevel != 89 {
		t.Errorf("wrong order: %v then %v", states[0].BatteryLevel, states[1].BatteryLevel)
	}

	latest, ok := r.Latest()
	if !ok || latest.BatteryLevel != 89 {
		t.Errorf("latest = %v ok=%v, want 89", latest.BatteryLevel, ok)
	}
}

func TestRecorderRingEviction(t *testing.T) {
	r := NewRecorder(testMonitoringConfig())

	for i := 0; i < 8; i++ {
		r.OnState(stateAt(0, float64(100-i)))
	}

	states := r.History(0)
	if len(states) != 5 {
		t.Fatalf("retained %d states, want ring size 5", len(states))
	}
	// Oldest three were evicted; the window is 97..93.
	if states[0].BatteryLevel != 97 {
		t.Errorf("oldest = %v, want 97", states[0].BatteryLevel)
	}
	if states[4].BatteryLevel != 93 {
		t.Errorf("newest = %v, want 93", states[4].BatteryLevel)
	}

	stats := r.GetStats()
	if stats.TotalUpdates != 8 {
		t.Errorf("total updates = %d, want 8", stats.TotalUpdates)
	}
	if stats.HistorySize != 5 || stats.MaxHistorySize != 5 {
		t.Errorf("sizes = %d/%d, want 5/5", stats.HistorySize, stats.MaxHistorySize)
	}
}

func TestHistoryWindow(t *testing.T) {
	r := NewRecorder(testMonitoringConfig())

	r.OnState(stateAt(-10*time.Minute, 90))
	r.OnState(stateAt(0, 89))

	recent := r.History(time.Minute)
	if len(recent) != 1 {
		t.Fatalf("window returned %d states, want 1", len(recent))
	}
	if recent[0].BatteryLevel != 89 {
		t.Errorf("window kept the wrong state: %v", recent[0].BatteryLevel)
	}
}

func TestTrendClassification(t *testing.T) {
	r := NewRecorder(testMonitoringConfig())

	r.OnState(robot.State{BatteryLevel: 90, Temperature: 30, LastUpdate: time.Now().Add(-30 * time.Second)})
	r.OnState(robot.State{BatteryLevel: 80, Temperature: 45, LastUpdate: time.Now()})

	stats := r.GetStats()
	if stats.BatteryTrend != TrendDecreasing {
		t.Errorf("battery trend = %q, want decreasing", stats.BatteryTrend)
	}
	if stats.TemperatureTrend != TrendIncreasing {
		t.Errorf("temperature trend = %q, want increasing", stats.TemperatureTrend)
	}
	if stats.AverageUpdateRate <= 0 {
		t.Errorf("update rate = %v, want positive", stats.AverageUpdateRate)
	}
}

func TestTrendStableWithinNoise(t *testing.T) {
	r := NewRecorder(testMonitoringConfig())

	r.OnState(robot.State{BatteryLevel: 90, Temperature: 30, LastUpdate: time.Now().Add(-30 * time.Second)})
	r.OnState(robot.State{BatteryLevel: 89.5, Temperature: 31, LastUpdate: time.Now()})

	stats := r.GetStats()
	if stats.BatteryTrend != TrendStable {
		t.Errorf("battery trend = %q, want stable", stats.BatteryTrend)
	}
	if stats.TemperatureTrend != TrendStable {
		t.Errorf("temperature trend = %q, want stable", stats.TemperatureTrend)
	}
}

func TestFlushWritesStateLog(t *testing.T) {
	cfg := config.MonitoringConfig{
		HistorySize:   10,
		EnableLogging: true,
		LogFile:       filepath.Join(t.TempDir(), "logs", "state.json"),
		LogInterval:   60,
	}
	r := NewRecorder(cfg)
	r.OnState(stateAt(0, 75))

	if err := r.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	data, err := os.ReadFile(cfg.LogFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var payload struct {
		Stats  Stats         `json:"statistics"`
		States []robot.State `json:"recent_states"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("parse log: %v", err)
	}
	if len(payload.States) != 1 || payload.States[0].BatteryLevel != 75 {
		t.Errorf("log states = %+v", payload.States)
	}
	if payload.Stats.TotalUpdates != 1 {
		t.Errorf("log stats = %+v", payload.Stats)
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	cfg := config.MonitoringConfig{
		HistorySize:   10,
		EnableLogging: true,
		LogFile:       filepath.Join(t.TempDir(), "state.json"),
	}
	r := NewRecorder(cfg)
	if err := r.Flush(); err != nil {
		t.Fatalf("empty flush: %v", err)
	}
	if _, err := os.Stat(cfg.LogFile); !os.IsNotExist(err) {
		t.Error("empty flush should not create the log file")
	}
}

func TestStopFlushesFinalLog(t *testing.T) {
	cfg := config.MonitoringConfig{
		HistorySize:   10,
		EnableLogging: true,
		LogFile:       filepath.Join(t.TempDir(), "state.json"),
		LogInterval:   3600,
	}
	r := NewRecorder(cfg)
	r.Start()
	r.OnState(stateAt(0, 50))
	r.Stop()

	if _, err := os.Stat(cfg.LogFile); err != nil {
		t.Fatalf("final flush missing: %v", err)
	}
}
