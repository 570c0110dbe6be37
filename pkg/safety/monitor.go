// Package safety runs the independent safety supervisor.
//
// The supervisor evaluates boundary conditions on robot state snapshots
// at its own fixed cadence and translates violations into graded actions.
// It can stop the robot or latch the emergency flag regardless of what
// the motion controller is doing.
package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/butlerlabs/go-quad/internal/config"
	"github.com/butlerlabs/go-quad/internal/log"
	"github.com/butlerlabs/go-quad/pkg/robot"
)

// commTimeout is how long the state may go without an update before the
// communication-timeout alert fires.
const commTimeout = 5 * time.Second

// Robot is the slice of the connection manager the supervisor acts on.
type Robot interface {
	State() robot.State
	SendMotionCommand(cmd robot.MotionCommand) bool
	EmergencyStopRobot()
	ResetEmergencyStop()
}

// AlertCallback receives every raised alert.
type AlertCallback func(Alert)

// Monitor is the safety supervisor.
type Monitor struct {
	cfg config.SafetyConfig

	target     Robot
	boundaries map[string]Boundary

	mu         sync.Mutex
	alerts     map[string]*Alert
	enabled    bool
	emergency  bool
	checkCount uint64
	lastCheck  time.Time

	cbMu      sync.Mutex
	callbacks []AlertCallback

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewMonitor creates a supervisor over the given robot. Boundaries are
// derived from configuration once, here, and never mutated afterwards.
func NewMonitor(target Robot, cfg config.SafetyConfig) *Monitor {
	b := cfg.Boundaries
	return &Monitor{
		cfg:     cfg,
		target:  target,
		alerts:  make(map[string]*Alert),
		enabled: true,
		boundaries: map[string]Boundary{
			"battery": {
				Name:              "battery_level",
				MinValue:          ptr(b.MinBatteryLevel),
				WarningThreshold:  0.2,
				CriticalThreshold: 0.1,
			},
			"temperature": {
				Name:              "temperature",
				MaxValue:          ptr(b.MaxTemperature),
				WarningThreshold:  0.15,
				CriticalThreshold: 0.05,
			},
			"roll": {
				Name:              "roll_angle",
				MinValue:          ptr(-b.MaxRoll),
				MaxValue:          ptr(b.MaxRoll),
				WarningThreshold:  0.2,
				CriticalThreshold: 0.1,
			},
			"pitch": {
				Name:              "pitch_angle",
				MinValue:          ptr(-b.MaxPitch),
				MaxValue:          ptr(b.MaxPitch),
				WarningThreshold:  0.2,
				CriticalThreshold: 0.1,
			},
		},
	}
}

// Start launches the periodic check loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.checkLoop()
	log.Info("safety monitoring started", "interval_s", m.cfg.CheckInterval)
}

// Stop halts the check loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	<-done
	log.Info("safety monitoring stopped")
}

// EmergencyStop latches the supervisor-wide emergency flag and stops the
// robot. Safe to call repeatedly; only the first call acts.
func (m *Monitor) EmergencyStop(reason string) {
	m.mu.Lock()
	if m.emergency {
		m.mu.Unlock()
		return
	}
	m.emergency = true
	m.mu.Unlock()

	m.raise(Alert{
		ID:        AlertEmergencyStop,
		Level:     LevelEmergency,
		Message:   reason,
		Action:    ActionEmergencyStop,
		Timestamp: time.Now(),
	})
}

// ResetEmergencyStop clears the latch and resolves the emergency alert.
// This is the only path out of the latched state.
func (m *Monitor) ResetEmergencyStop() {
	m.mu.Lock()
	if !m.emergency {
		m.mu.Unlock()
		return
	}
	m.emergency = false
	if a, ok := m.alerts[AlertEmergencyStop]; ok {
		a.Resolved = true
	}
	m.mu.Unlock()

	m.target.ResetEmergencyStop()
	log.Warn("emergency stop reset")
}

// EmergencyStopActive reports the latch state.
func (m *Monitor) EmergencyStopActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergency
}

// EnableMonitoring re-enables the periodic checks.
func (m *Monitor) EnableMonitoring() {
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
	log.Info("safety monitoring enabled")
}

// DisableMonitoring suspends the checks. This removes the only
// independent safety layer, so it is always logged loudly.
func (m *Monitor) DisableMonitoring() {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
	log.Error("safety monitoring DISABLED - robot is running without independent safety checks")
}

// RegisterAlertCallback appends an alert observer.
func (m *Monitor) RegisterAlertCallback(cb AlertCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// ActiveAlerts returns the unresolved alerts.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.Resolved {
			out = append(out, *a)
		}
	}
	return out
}

// Status summarizes the supervisor for status endpoints.
type Status struct {
	Enabled             bool                `json:"safety_enabled"`
	EmergencyStopActive bool                `json:"emergency_stop_active"`
	ActiveAlertCount    int                 `json:"active_alerts_count"`
	HighestAlertLevel   string              `json:"highest_alert_level"`
	LastCheck           time.Time           `json:"last_check_time"`
	TotalChecks         uint64              `json:"total_checks"`
	Boundaries          map[string]Boundary `json:"boundaries"`
}

// GetStatus returns a snapshot of the supervisor state.
func (m *Monitor) GetStatus() Status {
	active := m.ActiveAlerts()

	highest := "none"
	rank := -1
	for _, a := range active {
		if r := levelRank[a.Level]; r > rank {
			rank = r
			highest = string(a.Level)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Enabled:             m.enabled,
		EmergencyStopActive: m.emergency,
		ActiveAlertCount:    len(active),
		HighestAlertLevel:   highest,
		LastCheck:           m.lastCheck,
		TotalChecks:         m.checkCount,
		Boundaries:          m.boundaries,
	}
}

func (m *Monitor) checkLoop() {
	defer close(m.done)

	interval := time.Duration(m.cfg.CheckInterval * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			enabled := m.enabled
			m.checkCount++
			m.lastCheck = time.Now()
			m.mu.Unlock()

			if enabled {
				m.runChecks(m.target.State())
			}
		}
	}
}

// runChecks evaluates every boundary against one state snapshot.
func (m *Monitor) runChecks(st robot.State) {
	m.checkConnection(st)
	m.checkBattery(st)
	m.checkTemperature(st)
	m.checkOrientation(st)
	m.checkCommTimeout(st)
}

func (m *Monitor) checkConnection(st robot.State) {
	if st.IsConnected {
		return
	}
	m.raise(Alert{
		ID:        AlertConnectionLost,
		Level:     LevelCritical,
		Message:   "Robot connection lost",
		Action:    ActionStop,
		Timestamp: time.Now(),
	})
}

func (m *Monitor) checkBattery(st robot.State) {
	critical := m.cfg.AlertThresholds.BatteryCritical
	warning := critical * 2

	switch {
	case st.BatteryLevel <= critical:
		m.raise(Alert{
			ID:        AlertBatteryCritical,
			Level:     LevelCritical,
			Message:   fmt.Sprintf("Critical battery level: %.1f%%", st.BatteryLevel),
			Action:    ActionEmergencyStop,
			Timestamp: time.Now(),
		})
	case st.BatteryLevel <= warning:
		m.raise(Alert{
			ID:        AlertBatteryLow,
			Level:     LevelWarning,
			Message:   fmt.Sprintf("Low battery level: %.1f%%", st.BatteryLevel),
			Action:    ActionMonitor,
			Timestamp: time.Now(),
		})
	}
}

func (m *Monitor) checkTemperature(st robot.State) {
	critical := m.cfg.Boundaries.MaxTemperature
	warning := m.cfg.AlertThresholds.TemperatureWarning

	switch {
	case st.Temperature >= critical:
		m.raise(Alert{
			ID:        AlertTemperatureCritical,
			Level:     LevelCritical,
			Message:   fmt.Sprintf("Critical temperature: %.1f C", st.Temperature),
			Action:    ActionEmergencyStop,
			Timestamp: time.Now(),
		})
	case st.Temperature >= warning:
		// SlowDown is logged and broadcast; actual speed reduction is
		// an extension point, not implemented here.
		m.raise(Alert{
			ID:        AlertTemperatureHigh,
			Level:     LevelWarning,
			Message:   fmt.Sprintf("High temperature: %.1f C", st.Temperature),
			Action:    ActionSlowDown,
			Timestamp: time.Now(),
		})
	}
}

func (m *Monitor) checkOrientation(st robot.State) {
	roll, pitch := st.Orientation[0], st.Orientation[1]

	if abs(roll) > m.cfg.Boundaries.MaxRoll {
		m.raise(Alert{
			ID:        AlertRollLimit,
			Level:     LevelCritical,
			Message:   fmt.Sprintf("Roll angle exceeded: %.3f rad", roll),
			Action:    ActionEmergencyStop,
			Timestamp: time.Now(),
		})
	}
	if abs(pitch) > m.cfg.Boundaries.MaxPitch {
		m.raise(Alert{
			ID:        AlertPitchLimit,
			Level:     LevelCritical,
			Message:   fmt.Sprintf("Pitch angle exceeded: %.3f rad", pitch),
			Action:    ActionEmergencyStop,
			Timestamp: time.Now(),
		})
	}
}

func (m *Monitor) checkCommTimeout(st robot.State) {
	age := time.Since(st.LastUpdate)
	if age <= commTimeout {
		return
	}
	m.raise(Alert{
		ID:        AlertCommTimeout,
		Level:     LevelCritical,
		Message:   fmt.Sprintf("Communication timeout: %.1fs", age.Seconds()),
		Action:    ActionStop,
		Timestamp: time.Now(),
	})
}

// raise stores or updates the alert, executes its action, notifies
// observers, and logs at a level mapped from severity - always in that
// order.
func (m *Monitor) raise(alert Alert) {
	m.mu.Lock()
	m.alerts[alert.ID] = &alert
	m.mu.Unlock()

	m.executeAction(alert)
	m.notify(alert)

	msg := "safety alert"
	switch alert.Level {
	case LevelInfo:
		log.Info(msg, "id", alert.ID, "level", alert.Level, "detail", alert.Message)
	case LevelWarning:
		log.Warn(msg, "id", alert.ID, "level", alert.Level, "detail", alert.Message)
	default:
		log.Error(msg, "id", alert.ID, "level", alert.Level, "detail", alert.Message)
	}
}

func (m *Monitor) executeAction(alert Alert) {
	switch alert.Action {
	case ActionEmergencyStop:
		m.mu.Lock()
		m.emergency = true
		m.mu.Unlock()
		// The manager's latch is idempotent, so the stop goes out on
		// every raise, manual or condition-driven.
		m.target.EmergencyStopRobot()
	case ActionStop:
		// A plain stop does not latch.
		m.target.SendMotionCommand(robot.StopCommand())
	case ActionMonitor, ActionSlowDown:
		// Log-and-notify only.
	}
}

// notify fans the alert out over a stable copy of the callback list; a
// failing observer is isolated and logged.
func (m *Monitor) notify(alert Alert) {
	m.cbMu.Lock()
	callbacks := make([]AlertCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("alert callback panicked", "panic", r)
				}
			}()
			cb(alert)
		}()
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
