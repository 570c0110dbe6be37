// Package config loads and validates the go-quad YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol names accepted in the communication section.
const (
	ProtocolUDP    = "udp"
	ProtocolROS    = "ros"
	ProtocolWebRTC = "webrtc"
	ProtocolMock   = "mock"
)

// Config is the root configuration consumed at start-up.
type Config struct {
	Robot         RobotConfig         `yaml:"robot"`
	Communication CommunicationConfig `yaml:"communication"`
	Control       ControlConfig       `yaml:"control"`
	Safety        SafetyConfig        `yaml:"safety"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Web           WebConfig           `yaml:"web"`
	LogLevel      string              `yaml:"log_level"`
}

// RobotConfig holds connection parameters and hardware limits.
type RobotConfig struct {
	IPAddress       string  `yaml:"ip_address"`
	UDPPort         int     `yaml:"udp_port"`
	MaxSpeed        float64 `yaml:"max_speed"`         // m/s
	MaxAngularSpeed float64 `yaml:"max_angular_speed"` // rad/s
	TimeoutSeconds  float64 `yaml:"timeout"`
}

// Timeout returns the transport I/O timeout as a duration.
func (r RobotConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds * float64(time.Second))
}

// CommunicationConfig selects the transport backend and its sub-config.
type CommunicationConfig struct {
	Protocol string       `yaml:"protocol"`
	ROS      ROSConfig    `yaml:"ros"`
	WebRTC   WebRTCConfig `yaml:"webrtc"`
}

// ROSConfig names the topics and services used by the pub/sub backend.
type ROSConfig struct {
	MasterAddress    string `yaml:"master_address"`
	Namespace        string `yaml:"namespace"`
	CmdVelTopic      string `yaml:"cmd_vel_topic"`
	BatteryTopic     string `yaml:"battery_topic"`
	TemperatureTopic string `yaml:"temperature_topic"`
	OdomTopic        string `yaml:"odom_topic"`
	StandService     string `yaml:"stand_service"`
	SitService       string `yaml:"sit_service"`
}

// WebRTCConfig configures the signaling-negotiated data channel backend.
type WebRTCConfig struct {
	SignalingPort int      `yaml:"signaling_port"`
	SignalingPath string   `yaml:"signaling_path"`
	ICEServers    []string `yaml:"ice_servers"`
}

// ControlConfig holds motion controller parameters.
type ControlConfig struct {
	MaxLinearVelocity  float64 `yaml:"max_linear_velocity"`  // m/s
	MaxAngularVelocity float64 `yaml:"max_angular_velocity"` // rad/s
	MaxAcceleration    float64 `yaml:"max_acceleration"`     // m/s^2
}

// SafetyConfig holds boundary limits and alert thresholds.
type SafetyConfig struct {
	Boundaries      BoundariesConfig `yaml:"boundaries"`
	AlertThresholds ThresholdsConfig `yaml:"alert_thresholds"`
	CheckInterval   float64          `yaml:"check_interval"` // seconds
}

// BoundariesConfig defines hard limits on robot state.
type BoundariesConfig struct {
	MinBatteryLevel float64 `yaml:"min_battery_level"` // percent
	MaxTemperature  float64 `yaml:"max_temperature"`   // celsius
	MaxRoll         float64 `yaml:"max_roll"`          // radians
	MaxPitch        float64 `yaml:"max_pitch"`         // radians
}

// ThresholdsConfig defines early-warning thresholds short of the limits.
type ThresholdsConfig struct {
	BatteryCritical    float64 `yaml:"battery_critical"`    // percent
	TemperatureWarning float64 `yaml:"temperature_warning"` // celsius
}

// MonitoringConfig configures the state history recorder.
type MonitoringConfig struct {
	HistorySize   int     `yaml:"history_size"`
	EnableLogging bool    `yaml:"enable_logging"`
	LogFile       string  `yaml:"log_file"`
	LogInterval   float64 `yaml:"log_interval"` // seconds
}

// WebConfig configures the HTTP/websocket surface.
type WebConfig struct {
	Port    int  `yaml:"port"`
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the configuration file, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// ROBOT_IP always wins so a config file can be shared across robots.
	if ip := os.Getenv("ROBOT_IP"); ip != "" {
		cfg.Robot.IPAddress = ip
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated with every optional default.
func Default() *Config {
	return &Config{
		Robot: RobotConfig{
			IPAddress:       "192.168.123.161",
			UDPPort:         8082,
			MaxSpeed:        1.5,
			MaxAngularSpeed: 2.0,
			TimeoutSeconds:  5.0,
		},
		Communication: CommunicationConfig{
			Protocol: ProtocolMock,
			ROS: ROSConfig{
				CmdVelTopic:      "cmd_vel",
				BatteryTopic:     "battery_state",
				TemperatureTopic: "temperature",
				OdomTopic:        "odom",
				StandService:     "stand_up",
				SitService:       "sit_down",
			},
			WebRTC: WebRTCConfig{
				SignalingPort: 8080,
				SignalingPath: "/signaling",
				ICEServers: []string{
					"stun:stun.l.google.com:19302",
					"stun:stun1.l.google.com:19302",
				},
			},
		},
		Control: ControlConfig{
			MaxLinearVelocity:  1.5,
			MaxAngularVelocity: 2.0,
			MaxAcceleration:    2.0,
		},
		Safety: SafetyConfig{
			Boundaries: BoundariesConfig{
				MinBatteryLevel: 20,
				MaxTemperature:  65,
				MaxRoll:         0.5,
				MaxPitch:        0.5,
			},
			AlertThresholds: ThresholdsConfig{
				BatteryCritical:    10,
				TemperatureWarning: 55,
			},
			CheckInterval: 1.0,
		},
		Monitoring: MonitoringConfig{
			HistorySize:   1000,
			EnableLogging: true,
			LogFile:       "logs/state_log.json",
			LogInterval:   60.0,
		},
		Web: WebConfig{
			Port:    8081,
			Enabled: true,
		},
		LogLevel: "info",
	}
}

// Validate checks that every key required by the selected protocol is
// present. A missing key is a start-up failure, never a runtime crash.
func (c *Config) Validate() error {
	switch c.Communication.Protocol {
	case ProtocolUDP:
		if c.Robot.IPAddress == "" {
			return fmt.Errorf("config: robot.ip_address is required for the udp protocol")
		}
		if c.Robot.UDPPort <= 0 || c.Robot.UDPPort > 65535 {
			return fmt.Errorf("config: robot.udp_port %d is out of range", c.Robot.UDPPort)
		}
	case ProtocolROS:
		if c.Communication.ROS.MasterAddress == "" {
			return fmt.Errorf("config: communication.ros.master_address is required for the ros protocol")
		}
	case ProtocolWebRTC:
		if c.Robot.IPAddress == "" {
			return fmt.Errorf("config: robot.ip_address is required for the webrtc protocol")
		}
		if c.Communication.WebRTC.SignalingPort <= 0 {
			return fmt.Errorf("config: communication.webrtc.signaling_port is required for the webrtc protocol")
		}
	case ProtocolMock:
		// Nothing to check: the mock backend needs no endpoint.
	default:
		return fmt.Errorf("config: unknown communication.protocol %q (expected udp, ros, webrtc or mock)", c.Communication.Protocol)
	}

	if c.Robot.MaxSpeed <= 0 {
		return fmt.Errorf("config: robot.max_speed must be positive, got %v", c.Robot.MaxSpeed)
	}
	if c.Robot.MaxAngularSpeed <= 0 {
		return fmt.Errorf("config: robot.max_angular_speed must be positive, got %v", c.Robot.MaxAngularSpeed)
	}
	if c.Robot.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: robot.timeout must be positive, got %v", c.Robot.TimeoutSeconds)
	}
	// Zero limits would divide trajectory planning by zero, so they are
	// rejected here rather than at runtime.
	if c.Control.MaxLinearVelocity <= 0 {
		return fmt.Errorf("config: control.max_linear_velocity must be positive, got %v", c.Control.MaxLinearVelocity)
	}
	if c.Control.MaxAngularVelocity <= 0 {
		return fmt.Errorf("config: control.max_angular_velocity must be positive, got %v", c.Control.MaxAngularVelocity)
	}
	if c.Safety.CheckInterval <= 0 {
		return fmt.Errorf("config: safety.check_interval must be positive, got %v", c.Safety.CheckInterval)
	}
	return nil
}
