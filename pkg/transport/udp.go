package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/butlerlabs/go-quad/internal/log"
)

// Wire constants for the mock UDP robot protocol. Little-endian floats
// throughout. This layout only matters to peers that speak the same mock
// protocol; it is not a public standard.
var (
	udpPing      = []byte{0x00, 0x01, 0x02, 0x03}
	udpHeartbeat = []byte{0xFF, 0xFE, 0xFD, 0xFC}
	udpHeader    = []byte{0xAA, 0xBB}
)

const (
	udpCmdModeChange = 0x01

	// Telemetry frame types sent by the robot.
	udpMsgBattery     = 1
	udpMsgOdometry    = 2
	udpMsgTemperature = 3
)

// Robot mode bytes carried in mode-change packets.
var udpModeBytes = map[string]byte{
	ActionStandUp:  4, // Stand
	ActionSitDown:  5, // Sit
	ActionStopMove: 0, // Idle
}

// UDP is the raw packet backend. Commands are fire-and-forget datagrams;
// telemetry frames arriving on the same socket are parsed by a background
// reader.
type UDP struct {
	addr    string
	timeout time.Duration

	mu     sync.Mutex
	conn   *net.UDPConn
	sample Sample
	fresh  bool

	readerDone chan struct{}
}

// NewUDP creates a packet backend targeting ip:port. timeout bounds the
// connectivity probe and individual sends.
func NewUDP(ip string, port int, timeout time.Duration) *UDP {
	return &UDP{
		addr:    fmt.Sprintf("%s:%d", ip, port),
		timeout: timeout,
	}
}

// Name implements Transport.
func (u *UDP) Name() string { return "udp" }

// Connect dials the robot and sends a ping probe. UDP gives no delivery
// guarantee, so success here is optimistic: the probe leaving the host is
// treated as a live link. A real robot integration should demand an
// authenticated response before trusting the connection.
func (u *UDP) Connect(ctx context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp", u.addr)
	if err != nil {
		return fmt.Errorf("resolve robot address %s: %w", u.addr, err)
	}

	dialer := net.Dialer{Timeout: u.timeout}
	c, err := dialer.DialContext(ctx, "udp", raddr.String())
	if err != nil {
		return fmt.Errorf("dial robot at %s: %w", u.addr, err)
	}
	conn := c.(*net.UDPConn)

	conn.SetWriteDeadline(time.Now().Add(u.timeout))
	if _, err := conn.Write(udpPing); err != nil {
		conn.Close()
		return fmt.Errorf("send ping probe: %w", err)
	}

	u.mu.Lock()
	u.conn = conn
	u.readerDone = make(chan struct{})
	u.mu.Unlock()

	go u.readLoop(conn)

	log.Info("udp transport connected", "addr", u.addr)
	return nil
}

// Close implements Transport.
func (u *UDP) Close() error {
	u.mu.Lock()
	conn := u.conn
	u.conn = nil
	u.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	if u.readerDone != nil {
		<-u.readerDone
	}
	return err
}

// SendVelocity implements Transport. The packet is four little-endian
// float32s: vx, vy, wz, step height.
func (u *UDP) SendVelocity(linearX, linearY, angularZ, stepHeight float64) error {
	packet := make([]byte, 16)
	binary.LittleEndian.PutUint32(packet[0:], math.Float32bits(float32(linearX)))
	binary.LittleEndian.PutUint32(packet[4:], math.Float32bits(float32(linearY)))
	binary.LittleEndian.PutUint32(packet[8:], math.Float32bits(float32(angularZ)))
	binary.LittleEndian.PutUint32(packet[12:], math.Float32bits(float32(stepHeight)))
	return u.send(packet)
}

// CallAction implements Transport. Actions map to 5-byte mode-change
// packets: header, command type, mode, checksum. Like Connect, success is
// optimistic; the mock protocol has no acknowledgment path.
func (u *UDP) CallAction(ctx context.Context, name string) (bool, error) {
	mode, ok := udpModeBytes[name]
	if !ok {
		return false, fmt.Errorf("udp transport has no action %q", name)
	}
	if err := u.send(modePacket(mode)); err != nil {
		return false, err
	}
	return true, nil
}

// modePacket builds a mode-change packet with a one-byte additive checksum.
func modePacket(mode byte) []byte {
	packet := make([]byte, 0, 5)
	packet = append(packet, udpHeader...)
	packet = append(packet, udpCmdModeChange, mode)

	var sum int
	for _, b := range packet {
		sum += int(b)
	}
	return append(packet, byte(sum%256))
}

// LatestSample implements Transport.
func (u *UDP) LatestSample() (Sample, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sample, u.fresh
}

// NeedsHeartbeat implements Transport. The packet protocol has no implicit
// liveness, so the command loop must beat.
func (u *UDP) NeedsHeartbeat() bool { return true }

// Heartbeat implements Transport.
func (u *UDP) Heartbeat() error {
	return u.send(udpHeartbeat)
}

func (u *UDP) send(packet []byte) error {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("udp transport not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(u.timeout))
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("udp send: %w", err)
	}
	return nil
}

// readLoop parses telemetry frames until the socket closes. Each frame is
// an 8-byte header (uint32 type, uint32 length) followed by the payload.
func (u *UDP) readLoop(conn *net.UDPConn) {
	defer close(u.readerDone)

	buf := make([]byte, 2048)
	for {
		conn.SetReadDeadline(time.Now().Add(u.timeout))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// No telemetry this window; the monitoring loop falls
				// back to simulation on its own.
				u.mu.Lock()
				closed := u.conn == nil
				u.mu.Unlock()
				if closed {
					return
				}
				continue
			}
			return
		}
		u.handleFrame(buf[:n])
	}
}

func (u *UDP) handleFrame(frame []byte) {
	if len(frame) < 8 {
		return
	}
	msgType := binary.LittleEndian.Uint32(frame[0:4])
	payload := frame[8:]

	u.mu.Lock()
	defer u.mu.Unlock()

	switch msgType {
	case udpMsgBattery:
		if len(payload) >= 8 {
			// voltage (ignored), percentage
			u.sample.BatteryLevel = float64(leFloat32(payload[4:8]))
		}
	case udpMsgOdometry:
		if len(payload) >= 24 {
			for i := 0; i < 3; i++ {
				u.sample.Position[i] = float64(leFloat32(payload[i*4 : i*4+4]))
				u.sample.Orientation[i] = float64(leFloat32(payload[12+i*4 : 16+i*4]))
			}
		}
	case udpMsgTemperature:
		if len(payload) >= 4 {
			u.sample.Temperature = float64(leFloat32(payload[0:4]))
		}
	default:
		log.Debug("udp: unknown telemetry frame", "type", msgType, "len", len(frame))
		return
	}
	u.sample.Timestamp = time.Now()
	u.fresh = true
}

func leFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

var _ Transport = (*UDP)(nil)
