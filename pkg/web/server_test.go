package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/butlerlabs/go-quad/pkg/robot"
	"github.com/butlerlabs/go-quad/pkg/safety"
	"github.com/butlerlabs/go-quad/pkg/telemetry"
)

type fakeRobotService struct {
	mu        sync.Mutex
	connected bool
	failNext  bool
	estops    int
	state     robot.State
}

func (f *fakeRobotService) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return context.DeadlineExceeded
	}
	f.connected = true
	return nil
}

func (f *fakeRobotService) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeRobotService) State() robot.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRobotService) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRobotService) ActiveTransport() string { return "mock" }

func (f *fakeRobotService) StandUp(ctx context.Context) bool { return f.IsConnected() }

func (f *fakeRobotService) SitDown(ctx context.Context) bool { return f.IsConnected() }

func (f *fakeRobotService) EmergencyStopRobot() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estops++
}

type fakeMotionService struct {
	mu        sync.Mutex
	accept    bool
	lastCmd   []float64
	lastGait  robot.Gait
	executing bool
}

func (f *fakeMotionService) MoveVelocity(lx, ly, az float64, gait robot.Gait, step float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accept {
		return false
	}
	f.lastCmd = []float64{lx, ly, az, step}
	f.lastGait = gait
	return true
}

func (f *fakeMotionService) MoveToPosition(x, y, yaw, maxSpeed float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executing = f.accept
	return f.accept
}

func (f *fakeMotionService) ChangeGait(gait robot.Gait) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGait = gait
	return f.accept
}

func (f *fakeMotionService) SetStepHeight(height float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accept
}

func (f *fakeMotionService) StopTrajectory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executing = false
}

func (f *fakeMotionService) IsExecuting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executing
}

type fakeSafetyService struct {
	mu     sync.Mutex
	alerts []safety.Alert
	estops []string
	resets int
}

func (f *fakeSafetyService) ActiveAlerts() []safety.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alerts
}

func (f *fakeSafetyService) GetStatus() safety.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return safety.Status{Enabled: true, ActiveAlertCount: len(f.alerts)}
}

func (f *fakeSafetyService) EmergencyStop(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estops = append(f.estops, reason)
}

func (f *fakeSafetyService) ResetEmergencyStop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

type fakeHistoryService struct {
	states []robot.State
}

func (f *fakeHistoryService) History(d time.Duration) []robot.State { return f.states }

func (f *fakeHistoryService) GetStats() telemetry.Stats {
	return telemetry.Stats{TotalUpdates: uint64(len(f.states))}
}

type testServer struct {
	srv    *Server
	robot  *fakeRobotService
	motion *fakeMotionService
	safety *fakeSafetyService
}

func newTestServer() *testServer {
	r := &fakeRobotService{connected: true, state: robot.State{BatteryLevel: 80, IsConnected: true}}
	m := &fakeMotionService{accept: true}
	s := &fakeSafetyService{}
	h := &fakeHistoryService{states: []robot.State{{BatteryLevel: 80}}}
	return &testServer{
		srv:    NewServer(0, r, m, s, h),
		robot:  r,
		motion: m,
		safety: s,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.srv.app.Test(req, 2000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp, data
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer()
	resp, body := ts.request(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var got StatusResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Connected || got.Transport != "mock" {
		t.Errorf("response = %+v", got)
	}
	if got.State.BatteryLevel != 80 {
		t.Errorf("battery = %v, want 80", got.State.BatteryLevel)
	}
}

func TestCommandEndpoint(t *testing.T) {
	ts := newTestServer()
	resp, _ := ts.request(t, http.MethodPost, "/api/command", CommandRequest{
		LinearX: 0.5, AngularZ: -0.3,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ts.motion.mu.Lock()
	defer ts.motion.mu.Unlock()
	if ts.motion.lastCmd[0] != 0.5 || ts.motion.lastCmd[2] != -0.3 {
		t.Errorf("dispatched = %v", ts.motion.lastCmd)
	}
	// Omitted fields get usable defaults.
	if ts.motion.lastGait != robot.GaitTrot {
		t.Errorf("gait = %q, want trot default", ts.motion.lastGait)
	}
	if ts.motion.lastCmd[3] != 0.1 {
		t.Errorf("step height = %v, want 0.1 default", ts.motion.lastCmd[3])
	}
}

func TestCommandRefused(t *testing.T) {
	ts := newTestServer()
	ts.motion.accept = false
	resp, _ := ts.request(t, http.MethodPost, "/api/command", CommandRequest{LinearX: 0.5})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestEmergencyStopEndpoint(t *testing.T) {
	ts := newTestServer()
	resp, _ := ts.request(t, http.MethodPost, "/api/estop", EmergencyStopRequest{Reason: "test button"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ts.safety.mu.Lock()
	if len(ts.safety.estops) != 1 || ts.safety.estops[0] != "test button" {
		t.Errorf("estops = %v", ts.safety.estops)
	}
	ts.safety.mu.Unlock()

	resp, _ = ts.request(t, http.MethodPost, "/api/estop/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	ts.safety.mu.Lock()
	defer ts.safety.mu.Unlock()
	if ts.safety.resets != 1 {
		t.Errorf("resets = %d, want 1", ts.safety.resets)
	}
}

func TestEmergencyStopDefaultReason(t *testing.T) {
	ts := newTestServer()
	ts.request(t, http.MethodPost, "/api/estop", nil)

	ts.safety.mu.Lock()
	defer ts.safety.mu.Unlock()
	if len(ts.safety.estops) != 1 || ts.safety.estops[0] != "operator request" {
		t.Errorf("estops = %v", ts.safety.estops)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	ts := newTestServer()
	ts.safety.alerts = []safety.Alert{{ID: safety.AlertBatteryLow, Level: safety.LevelWarning}}

	resp, body := ts.request(t, http.MethodGet, "/api/alerts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var alerts []safety.Alert
	if err := json.Unmarshal(body, &alerts); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != safety.AlertBatteryLow {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	ts := newTestServer()
	resp, body := ts.request(t, http.MethodGet, "/api/history?seconds=60", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		States []robot.State   `json:"states"`
		Stats  telemetry.Stats `json:"statistics"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(payload.States) != 1 || payload.Stats.TotalUpdates != 1 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestGaitEndpointValidation(t *testing.T) {
	ts := newTestServer()
	resp, _ := ts.request(t, http.MethodPost, "/api/gait", GaitRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty gait", resp.StatusCode)
	}

	resp, _ = ts.request(t, http.MethodPost, "/api/gait", GaitRequest{Gait: "bound"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	ts.motion.mu.Lock()
	defer ts.motion.mu.Unlock()
	if ts.motion.lastGait != robot.GaitBound {
		t.Errorf("gait = %q, want bound", ts.motion.lastGait)
	}
}

func TestTrajectoryEndpoints(t *testing.T) {
	ts := newTestServer()
	resp, _ := ts.request(t, http.MethodPost, "/api/trajectory", TrajectoryRequest{TargetX: 2})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !ts.motion.IsExecuting() {
		t.Fatal("trajectory should be in flight")
	}

	resp, _ = ts.request(t, http.MethodPost, "/api/trajectory/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	if ts.motion.IsExecuting() {
		t.Fatal("stop should clear execution")
	}
}

func TestConnectEndpoints(t *testing.T) {
	ts := newTestServer()
	ts.robot.connected = false

	resp, _ := ts.request(t, http.MethodPost, "/api/connect", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect status = %d", resp.StatusCode)
	}
	if !ts.robot.IsConnected() {
		t.Fatal("robot should be connected")
	}

	resp, _ = ts.request(t, http.MethodPost, "/api/disconnect", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disconnect status = %d", resp.StatusCode)
	}
	if ts.robot.IsConnected() {
		t.Fatal("robot should be disconnected")
	}
}

func TestConnectFailure(t *testing.T) {
	ts := newTestServer()
	ts.robot.connected = false
	ts.robot.failNext = true

	resp, _ := ts.request(t, http.MethodPost, "/api/connect", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestStandSitRefusedWhenDisconnected(t *testing.T) {
	ts := newTestServer()
	ts.robot.connected = false

	resp, _ := ts.request(t, http.MethodPost, "/api/stand", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stand status = %d, want 409", resp.StatusCode)
	}
	resp, _ = ts.request(t, http.MethodPost, "/api/sit", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("sit status = %d, want 409", resp.StatusCode)
	}
}
