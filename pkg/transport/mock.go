package transport

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/butlerlabs/go-quad/internal/log"
)

// Mock is the simulated backend. It always connects and synthesizes a
// deterministic, plausible sensor stream so the rest of the system has
// state to reason about when no real robot is reachable.
type Mock struct {
	mu        sync.Mutex
	connected bool
	start     time.Time
	battery   float64

	// Last command received, kept for tests and the simulated velocity.
	lastVX, lastVY, lastWZ float64
	lastStepHeight         float64
	lastAction             string
	heartbeats             int

	pos [3]float64
}

// NewMock creates a simulated backend with a full battery. All simulation
// state is initialized here, not on first read.
func NewMock() *Mock {
	return &Mock{
		start:   time.Now(),
		battery: 100.0,
	}
}

// Name implements Transport.
func (m *Mock) Name() string { return "mock" }

// Connect implements Transport. It never fails.
func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.start = time.Now()
	log.Info("mock transport connected (simulated robot)")
	return nil
}

// Close implements Transport.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// SendVelocity implements Transport. The command is recorded and folded
// into the simulated odometry.
func (m *Mock) SendVelocity(linearX, linearY, angularZ, stepHeight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastVX, m.lastVY, m.lastWZ = linearX, linearY, angularZ
	m.lastStepHeight = stepHeight
	return nil
}

// CallAction implements Transport. The simulated robot acknowledges every
// known action.
func (m *Mock) CallAction(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAction = name
	return true, nil
}

// LatestSample implements Transport. Battery drains smoothly over hours;
// temperature and position carry a slow sinusoidal jitter so trends and
// boundary checks have something to chew on.
func (m *Mock) LatestSample() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return Sample{}, false
	}

	elapsed := time.Since(m.start).Seconds()

	// 1% battery per minute of simulated runtime.
	battery := m.battery - elapsed/60.0
	if battery < 0 {
		battery = 0
	}

	m.pos[0] += m.lastVX * 0.1
	m.pos[1] += m.lastVY * 0.1

	s := Sample{
		BatteryLevel: battery,
		Temperature:  25.0 + 2.0*math.Sin(elapsed/30.0),
		Position: [3]float64{
			m.pos[0] + 0.01*math.Sin(elapsed),
			m.pos[1] + 0.01*math.Cos(elapsed),
			0.32,
		},
		Orientation:     [3]float64{0.02 * math.Sin(elapsed / 5.0), 0.02 * math.Cos(elapsed / 7.0), 0},
		LinearVelocity:  [3]float64{m.lastVX, m.lastVY, 0},
		AngularVelocity: m.lastWZ,
		Timestamp:       time.Now(),
	}
	return s, true
}

// NeedsHeartbeat implements Transport.
func (m *Mock) NeedsHeartbeat() bool { return false }

// Heartbeat implements Transport.
func (m *Mock) Heartbeat() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	return nil
}

// SetBattery overrides the simulated battery level. Used by tests and the
// demo tooling to drive safety scenarios.
func (m *Mock) SetBattery(level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.battery = level
	m.start = time.Now()
}

// LastVelocity returns the most recent velocity command received.
func (m *Mock) LastVelocity() (vx, vy, wz, stepHeight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastVX, m.lastVY, m.lastWZ, m.lastStepHeight
}

// LastAction returns the most recent action name received.
func (m *Mock) LastAction() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAction
}

var _ Transport = (*Mock)(nil)
