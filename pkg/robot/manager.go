package robot

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/butlerlabs/go-quad/internal/config"
	"github.com/butlerlabs/go-quad/internal/log"
	"github.com/butlerlabs/go-quad/pkg/transport"
)

// Monitoring cadence. The loop runs fast while live samples are fresh and
// slows down once it is only feeding simulated state.
const (
	liveMonitorInterval = 100 * time.Millisecond
	simMonitorInterval  = 500 * time.Millisecond
	heartbeatInterval   = 1 * time.Second

	// A sample older than this is treated as stale and the monitoring
	// loop falls back to the simulated generator.
	sampleStaleAfter = 5 * time.Second
)

// StateCallback receives every published state snapshot.
type StateCallback func(State)

// ErrorCallback receives error notifications such as "emergency_stop".
type ErrorCallback func(signal, message string)

// Manager owns the active transport and the authoritative robot state.
type Manager struct {
	cfg *config.Config

	// mu guards the transport, connection flags, and the emergency
	// latch. Every command send samples the latch under this mutex, so
	// no command can slip out after the latch is set.
	mu        sync.Mutex
	tr        transport.Transport
	connected bool
	emergency bool
	lastMode  Mode

	// Published snapshot, replaced wholesale each monitoring tick.
	state atomic.Pointer[State]

	// Simulated fallback generator. Constructed up front so fallback
	// state never materializes lazily mid-run.
	sim *transport.Mock

	cbMu           sync.Mutex
	stateCallbacks []StateCallback
	errorCallbacks []ErrorCallback

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a connection manager. No transport is active until
// Connect.
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		cfg: cfg,
		sim: transport.NewMock(),
	}
	m.state.Store(&State{})
	return m
}

// newTransport builds the backend selected by the configured protocol.
func (m *Manager) newTransport() (transport.Transport, error) {
	rc := m.cfg.Robot
	cc := m.cfg.Communication

	switch cc.Protocol {
	case config.ProtocolUDP:
		return transport.NewUDP(rc.IPAddress, rc.UDPPort, rc.Timeout()), nil
	case config.ProtocolROS:
		return transport.NewROS(transport.ROSTopics{
			MasterAddress:    cc.ROS.MasterAddress,
			Namespace:        cc.ROS.Namespace,
			CmdVelTopic:      cc.ROS.CmdVelTopic,
			BatteryTopic:     cc.ROS.BatteryTopic,
			TemperatureTopic: cc.ROS.TemperatureTopic,
			OdomTopic:        cc.ROS.OdomTopic,
			StandService:     cc.ROS.StandService,
			SitService:       cc.ROS.SitService,
		}, rc.Timeout()), nil
	case config.ProtocolWebRTC:
		return transport.NewWebRTC(transport.WebRTCOptions{
			RobotIP:       rc.IPAddress,
			SignalingPort: cc.WebRTC.SignalingPort,
			SignalingPath: cc.WebRTC.SignalingPath,
			ICEServers:    cc.WebRTC.ICEServers,
		}, rc.Timeout()), nil
	case config.ProtocolMock:
		return transport.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", cc.Protocol)
	}
}

// Connect selects and connects the configured transport, then starts the
// monitoring and heartbeat loops.
//
// The packet backend's probe is optimistic: a ping that leaves the host
// counts as success. The pub/sub and data channel backends fall back to
// the mock transport when their setup fails, so the rest of the system
// keeps running against simulated state; the fallback is observable via
// ActiveTransport.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.cfg.Validate(); err != nil {
		return err
	}
	tr, err := m.newTransport()
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.Robot.Timeout())
	err = tr.Connect(connectCtx)
	cancel()
	if err != nil {
		switch m.cfg.Communication.Protocol {
		case config.ProtocolROS, config.ProtocolWebRTC:
			log.Warn("transport connect failed, falling back to mock",
				"protocol", m.cfg.Communication.Protocol, "err", err)
			tr = transport.NewMock()
			if err := tr.Connect(ctx); err != nil {
				return fmt.Errorf("mock fallback connect: %w", err)
			}
		default:
			return fmt.Errorf("connect %s transport: %w", m.cfg.Communication.Protocol, err)
		}
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.tr = tr
	m.connected = true
	m.cancel = loopCancel
	m.mu.Unlock()

	m.wg.Add(2)
	go m.monitorLoop(loopCtx)
	go m.heartbeatLoop(loopCtx)

	log.Info("robot connected", "transport", tr.Name())
	return nil
}

// Disconnect stops the loops, sends one best-effort stop command, and
// releases the transport. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = false
	cancel := m.cancel
	m.cancel = nil
	tr := m.tr
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	// Final protective stop. Failures are swallowed: the link may
	// already be gone.
	if tr != nil {
		if err := tr.SendVelocity(0, 0, 0, 0); err != nil {
			log.Debug("final stop command failed", "err", err)
		}
		if err := tr.Close(); err != nil {
			log.Warn("transport close", "err", err)
		}
	}

	m.mu.Lock()
	m.tr = nil
	m.mu.Unlock()

	st := *m.state.Load()
	st.IsConnected = false
	m.publish(st)

	log.Info("robot disconnected")
}

// SendMotionCommand validates and dispatches one velocity command.
// It fails fast when disconnected or emergency-latched, and rejects
// commands exceeding the configured maxima. Clamping is the motion
// controller's job; the manager is a hard boundary.
func (m *Manager) SendMotionCommand(cmd MotionCommand) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected || m.emergency {
		return false
	}
	if !m.validCommand(cmd) {
		log.Warn("motion command rejected: exceeds configured limits",
			"linear_x", cmd.LinearX, "linear_y", cmd.LinearY, "angular_z", cmd.AngularZ)
		return false
	}

	if err := m.tr.SendVelocity(cmd.LinearX, cmd.LinearY, cmd.AngularZ, cmd.StepHeight); err != nil {
		log.Error("send motion command", "err", err)
		return false
	}
	log.Debug("motion command sent",
		"linear_x", cmd.LinearX, "linear_y", cmd.LinearY, "angular_z", cmd.AngularZ,
		"gait", cmd.Gait)
	return true
}

func (m *Manager) validCommand(cmd MotionCommand) bool {
	maxLinear := m.cfg.Robot.MaxSpeed
	maxAngular := m.cfg.Robot.MaxAngularSpeed
	return math.Abs(cmd.LinearX) <= maxLinear &&
		math.Abs(cmd.LinearY) <= maxLinear &&
		math.Abs(cmd.AngularZ) <= maxAngular
}

// EmergencyStopRobot latches the emergency flag and stops the robot. The
// stop goes straight to the transport because SendMotionCommand refuses
// everything once the latch is set. Only ResetEmergencyStop clears it.
func (m *Manager) EmergencyStopRobot() {
	m.mu.Lock()
	already := m.emergency
	m.emergency = true
	tr := m.tr
	if tr != nil {
		if err := tr.SendVelocity(0, 0, 0, 0); err != nil {
			log.Error("emergency stop command", "err", err)
		}
	}
	m.mu.Unlock()

	if already {
		return
	}

	log.Warn("emergency stop activated")
	for _, cb := range m.errorCallbackSnapshot() {
		m.safeErrorCallback(cb, "emergency_stop", "Emergency stop activated")
	}
}

// ResetEmergencyStop clears the latch. Intended for the safety supervisor
// or an operator, never called internally.
func (m *Manager) ResetEmergencyStop() {
	m.mu.Lock()
	m.emergency = false
	m.mu.Unlock()
	log.Warn("emergency stop reset")
}

// EmergencyStopActive reports the latch state.
func (m *Manager) EmergencyStopActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergency
}

// StandUp commands the robot to stand. Transport-specific: a service call
// where the backend supports one, a mode packet otherwise.
func (m *Manager) StandUp(ctx context.Context) bool {
	return m.modeAction(ctx, transport.ActionStandUp, ModeStand)
}

// SitDown commands the robot to sit.
func (m *Manager) SitDown(ctx context.Context) bool {
	return m.modeAction(ctx, transport.ActionSitDown, ModeSit)
}

func (m *Manager) modeAction(ctx context.Context, action string, mode Mode) bool {
	m.mu.Lock()
	if !m.connected || m.emergency {
		m.mu.Unlock()
		log.Warn("mode action refused", "action", action,
			"connected", m.connected, "emergency", m.emergency)
		return false
	}
	tr := m.tr
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.Robot.Timeout())
	defer cancel()
	ok, err := tr.CallAction(callCtx, action)
	if err != nil {
		log.Error("mode action failed", "action", action, "err", err)
		return false
	}
	if ok {
		m.mu.Lock()
		m.lastMode = mode
		m.mu.Unlock()
		log.Info("mode action sent", "action", action, "mode", mode.String())
	}
	return ok
}

// RegisterStateCallback appends an observer for state snapshots.
func (m *Manager) RegisterStateCallback(cb StateCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.stateCallbacks = append(m.stateCallbacks, cb)
}

// RegisterErrorCallback appends an observer for error notifications.
func (m *Manager) RegisterErrorCallback(cb ErrorCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.errorCallbacks = append(m.errorCallbacks, cb)
}

// State returns the latest published snapshot.
func (m *Manager) State() State {
	return *m.state.Load()
}

// IsConnected reports whether a transport is active. Note that snapshots
// can still be simulated while this is true; see State.IsConnected.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// ActiveTransport returns the name of the transport actually in use,
// which differs from the configured protocol after a mock fallback.
func (m *Manager) ActiveTransport() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tr == nil {
		return ""
	}
	return m.tr.Name()
}

// monitorLoop refreshes the robot state and fans snapshots out to
// observers. On cancellation it publishes one final disconnected snapshot.
func (m *Manager) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	timer := time.NewTimer(liveMonitorInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			st := *m.state.Load()
			st.IsConnected = false
			m.publish(st)
			return
		case <-timer.C:
		}

		live := m.refreshState()

		// Live data earns the fast cadence; simulated state does not
		// need it.
		if live {
			timer.Reset(liveMonitorInterval)
		} else {
			timer.Reset(simMonitorInterval)
		}
	}
}

// refreshState builds and publishes one snapshot. Returns true when the
// snapshot came from live transport data.
func (m *Manager) refreshState() bool {
	m.mu.Lock()
	tr := m.tr
	lastMode := m.lastMode
	m.mu.Unlock()
	if tr == nil {
		return false
	}

	sample, ok := tr.LatestSample()
	live := ok && sample.Age() < sampleStaleAfter
	if !live {
		// Keep the system fed with plausible state, clearly marked as
		// simulated.
		sample, _ = m.sim.LatestSample()
	}

	st := State{
		Mode:            lastMode,
		BatteryLevel:    sample.BatteryLevel,
		Temperature:     sample.Temperature,
		Position:        sample.Position,
		Orientation:     sample.Orientation,
		LinearVelocity:  sample.LinearVelocity,
		AngularVelocity: sample.AngularVelocity,
		JointPositions:  sample.JointPositions,
		IsConnected:     live,
		LastUpdate:      sample.Timestamp,
	}
	if sample.Mode != 0 {
		st.Mode = Mode(sample.Mode)
	}

	m.preCheckBoundaries(st)
	m.publish(st)
	return live
}

// preCheckBoundaries logs threshold crossings early. The safety supervisor
// owns the real alerting; this is the manager's first line of visibility.
func (m *Manager) preCheckBoundaries(st State) {
	if st.BatteryLevel < m.cfg.Safety.Boundaries.MinBatteryLevel {
		log.Warn("low battery", "level", st.BatteryLevel)
	}
	if st.Temperature > m.cfg.Safety.Boundaries.MaxTemperature {
		log.Warn("high temperature", "celsius", st.Temperature)
	}
}

// publish swaps in the new snapshot and notifies observers. The callback
// list is copied first so registrations during a tick cannot corrupt the
// iteration, and one panicking observer never takes down the loop.
func (m *Manager) publish(st State) {
	m.state.Store(&st)
	for _, cb := range m.stateCallbackSnapshot() {
		m.safeStateCallback(cb, st)
	}
}

func (m *Manager) stateCallbackSnapshot() []StateCallback {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	out := make([]StateCallback, len(m.stateCallbacks))
	copy(out, m.stateCallbacks)
	return out
}

func (m *Manager) errorCallbackSnapshot() []ErrorCallback {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	out := make([]ErrorCallback, len(m.errorCallbacks))
	copy(out, m.errorCallbacks)
	return out
}

func (m *Manager) safeStateCallback(cb StateCallback, st State) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("state callback panicked", "panic", r)
		}
	}()
	cb(st)
}

func (m *Manager) safeErrorCallback(cb ErrorCallback, signal, msg string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("error callback panicked", "panic", r)
		}
	}()
	cb(signal, msg)
}

// heartbeatLoop emits liveness signals for transports that need them.
func (m *Manager) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()

	m.mu.Lock()
	tr := m.tr
	m.mu.Unlock()
	if tr == nil || !tr.NeedsHeartbeat() {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tr.Heartbeat(); err != nil {
				log.Error("heartbeat failed", "err", err)
			}
		}
	}
}
