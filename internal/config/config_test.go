package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateUnknownProtocol(t *testing.T) {
	cfg := Default()
	cfg.Communication.Protocol = "zigbee"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown protocol")
	}
	if !strings.Contains(err.Error(), "zigbee") {
		t.Errorf("error should name the bad protocol, got %q", err)
	}
}

func TestValidateROSRequiresMaster(t *testing.T) {
	cfg := Default()
	cfg.Communication.Protocol = ProtocolROS
	cfg.Communication.ROS.MasterAddress = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing ros master address")
	}
	if !strings.Contains(err.Error(), "master_address") {
		t.Errorf("error should name the missing key, got %q", err)
	}
}

func TestValidateWebRTCRequiresSignalingPort(t *testing.T) {
	cfg := Default()
	cfg.Communication.Protocol = ProtocolWebRTC
	cfg.Communication.WebRTC.SignalingPort = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing signaling port")
	}
}

func TestValidateUDPPortRange(t *testing.T) {
	cfg := Default()
	cfg.Communication.Protocol = ProtocolUDP
	cfg.Robot.UDPPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range udp port")
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg := Default()
	cfg.Robot.MaxSpeed = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero max_speed")
	}

	cfg = Default()
	cfg.Safety.CheckInterval = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative check_interval")
	}

	cfg = Default()
	cfg.Control.MaxLinearVelocity = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero max_linear_velocity")
	}

	cfg = Default()
	cfg.Control.MaxAngularVelocity = -0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative max_angular_velocity")
	}
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
robot:
  ip_address: "10.0.0.5"
  max_speed: 0.8
communication:
  protocol: "udp"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Robot.IPAddress != "10.0.0.5" {
		t.Errorf("ip = %q, want 10.0.0.5", cfg.Robot.IPAddress)
	}
	if cfg.Robot.MaxSpeed != 0.8 {
		t.Errorf("max_speed = %v, want 0.8", cfg.Robot.MaxSpeed)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Robot.UDPPort != 8082 {
		t.Errorf("udp_port = %d, want default 8082", cfg.Robot.UDPPort)
	}
	if cfg.Safety.Boundaries.MaxTemperature != 65 {
		t.Errorf("max_temperature = %v, want default 65", cfg.Safety.Boundaries.MaxTemperature)
	}
}

func TestLoadEnvOverridesIP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
robot:
  ip_address: "10.0.0.5"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ROBOT_IP", "10.0.0.99")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Robot.IPAddress != "10.0.0.99" {
		t.Errorf("ip = %q, want env override 10.0.0.99", cfg.Robot.IPAddress)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
