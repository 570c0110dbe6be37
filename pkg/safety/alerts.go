package safety

import "time"

// Level grades the severity of a safety alert.
type Level string

// Alert levels, lowest to highest.
const (
	LevelInfo      Level = "info"
	LevelWarning   Level = "warning"
	LevelCritical  Level = "critical"
	LevelEmergency Level = "emergency"
)

// rank orders levels for highest-level reporting.
var levelRank = map[Level]int{
	LevelInfo:      0,
	LevelWarning:   1,
	LevelCritical:  2,
	LevelEmergency: 3,
}

// Action is the graded response attached to an alert.
type Action string

// Safety response actions, mildest to harshest.
const (
	ActionMonitor       Action = "monitor"
	ActionSlowDown      Action = "slow_down"
	ActionStop          Action = "stop"
	ActionEmergencyStop Action = "emergency_stop"
	ActionShutdown      Action = "shutdown"
)

// Alert ids used by the built-in checks.
const (
	AlertConnectionLost      = "connection_lost"
	AlertBatteryCritical     = "battery_critical"
	AlertBatteryLow          = "battery_low"
	AlertTemperatureCritical = "temperature_critical"
	AlertTemperatureHigh     = "temperature_high"
	AlertRollLimit           = "roll_limit"
	AlertPitchLimit          = "pitch_limit"
	AlertCommTimeout         = "communication_timeout"
	AlertEmergencyStop       = "emergency_stop"
)

// Alert is one safety condition, keyed by id. Re-raising an id updates
// the stored alert in place instead of duplicating it.
type Alert struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
}

// Boundary is a configuration-derived safety limit, read-only after
// construction. Thresholds are fractions of the limit at which warning
// and critical alerts are considered.
type Boundary struct {
	Name              string   `json:"name"`
	MinValue          *float64 `json:"min_value,omitempty"`
	MaxValue          *float64 `json:"max_value,omitempty"`
	WarningThreshold  float64  `json:"warning_threshold"`
	CriticalThreshold float64  `json:"critical_threshold"`
}

func ptr(v float64) *float64 { return &v }
