package transport

import (
	"context"
	"testing"
)

func TestMockAlwaysConnects(t *testing.T) {
	m := NewMock()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("mock connect should never fail: %v", err)
	}
	if _, ok := m.LatestSample(); !ok {
		t.Fatal("connected mock should produce samples")
	}
}

func TestMockNoSampleBeforeConnect(t *testing.T) {
	m := NewMock()
	if _, ok := m.LatestSample(); ok {
		t.Fatal("mock should not produce samples before connect")
	}
}

func TestMockRecordsCommands(t *testing.T) {
	m := NewMock()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := m.SendVelocity(0.4, -0.1, 0.7, 0.12); err != nil {
		t.Fatalf("send: %v", err)
	}
	vx, vy, wz, step := m.LastVelocity()
	if vx != 0.4 || vy != -0.1 || wz != 0.7 || step != 0.12 {
		t.Errorf("recorded velocity = %v %v %v %v", vx, vy, wz, step)
	}

	ok, err := m.CallAction(context.Background(), ActionSitDown)
	if err != nil || !ok {
		t.Fatalf("call action: ok=%v err=%v", ok, err)
	}
	if m.LastAction() != ActionSitDown {
		t.Errorf("last action = %q, want %q", m.LastAction(), ActionSitDown)
	}
}

func TestMockSampleReflectsCommands(t *testing.T) {
	m := NewMock()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.SendVelocity(1.0, 0, 0.5, 0.1)

	sample, ok := m.LatestSample()
	if !ok {
		t.Fatal("expected sample")
	}
	if sample.LinearVelocity[0] != 1.0 {
		t.Errorf("linear velocity = %v, want 1.0", sample.LinearVelocity[0])
	}
	if sample.AngularVelocity != 0.5 {
		t.Errorf("angular velocity = %v, want 0.5", sample.AngularVelocity)
	}
	if sample.BatteryLevel <= 0 || sample.BatteryLevel > 100 {
		t.Errorf("battery out of range: %v", sample.BatteryLevel)
	}
}

func TestMockSetBattery(t *testing.T) {
	m := NewMock()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.SetBattery(8)

	sample, _ := m.LatestSample()
	if sample.BatteryLevel > 8 || sample.BatteryLevel < 7.5 {
		t.Errorf("battery = %v, want about 8", sample.BatteryLevel)
	}
}
