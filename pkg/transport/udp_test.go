package transport

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"
)

// listenUDP opens a local listener standing in for the robot.
func listenUDP(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func readPacket(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf[:n]
}

func TestUDPConnectSendsPing(t *testing.T) {
	robotConn, port := listenUDP(t)

	u := NewUDP("127.0.0.1", port, time.Second)
	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer u.Close()

	got := readPacket(t, robotConn)
	want := []byte{0x00, 0x01, 0x02, 0x03}
	if string(got) != string(want) {
		t.Errorf("ping = % x, want % x", got, want)
	}
}

func TestUDPVelocityPacketLayout(t *testing.T) {
	robotConn, port := listenUDP(t)

	u := NewUDP("127.0.0.1", port, time.Second)
	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer u.Close()
	readPacket(t, robotConn) // ping

	if err := u.SendVelocity(0.5, -0.25, 1.0, 0.1); err != nil {
		t.Fatalf("send: %v", err)
	}

	packet := readPacket(t, robotConn)
	if len(packet) != 16 {
		t.Fatalf("packet length = %d, want 16", len(packet))
	}
	want := []float32{0.5, -0.25, 1.0, 0.1}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(packet[i*4:]))
		if got != w {
			t.Errorf("field %d = %v, want %v", i, got, w)
		}
	}
}

func TestUDPActionPacket(t *testing.T) {
	robotConn, port := listenUDP(t)

	u := NewUDP("127.0.0.1", port, time.Second)
	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer u.Close()
	readPacket(t, robotConn) // ping

	ok, err := u.CallAction(context.Background(), ActionStandUp)
	if err != nil || !ok {
		t.Fatalf("call action: ok=%v err=%v", ok, err)
	}

	packet := readPacket(t, robotConn)
	want := []byte{0xAA, 0xBB, 0x01, 0x04, 0x6A}
	if string(packet) != string(want) {
		t.Errorf("mode packet = % x, want % x", packet, want)
	}
}

func TestUDPUnknownAction(t *testing.T) {
	u := NewUDP("127.0.0.1", 9, time.Second)
	if _, err := u.CallAction(context.Background(), "backflip"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestModePacketChecksum(t *testing.T) {
	packet := modePacket(5)
	var sum int
	for _, b := range packet[:4] {
		sum += int(b)
	}
	if packet[4] != byte(sum%256) {
		t.Errorf("checksum = %#x, want %#x", packet[4], byte(sum%256))
	}
}

func TestUDPHeartbeatBytes(t *testing.T) {
	robotConn, port := listenUDP(t)

	u := NewUDP("127.0.0.1", port, time.Second)
	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer u.Close()
	readPacket(t, robotConn) // ping

	if !u.NeedsHeartbeat() {
		t.Fatal("udp transport should need heartbeats")
	}
	if err := u.Heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	got := readPacket(t, robotConn)
	want := []byte{0xFF, 0xFE, 0xFD, 0xFC}
	if string(got) != string(want) {
		t.Errorf("heartbeat = % x, want % x", got, want)
	}
}

func TestUDPTelemetryFrames(t *testing.T) {
	u := NewUDP("127.0.0.1", 9, time.Second)

	battery := make([]byte, 16)
	binary.LittleEndian.PutUint32(battery[0:], udpMsgBattery)
	binary.LittleEndian.PutUint32(battery[4:], 8)
	binary.LittleEndian.PutUint32(battery[8:], math.Float32bits(24.1))  // voltage
	binary.LittleEndian.PutUint32(battery[12:], math.Float32bits(87.5)) // percentage
	u.handleFrame(battery)

	sample, ok := u.LatestSample()
	if !ok {
		t.Fatal("expected a fresh sample after battery frame")
	}
	if sample.BatteryLevel != 87.5 {
		t.Errorf("battery = %v, want 87.5", sample.BatteryLevel)
	}

	odom := make([]byte, 8+24)
	binary.LittleEndian.PutUint32(odom[0:], udpMsgOdometry)
	binary.LittleEndian.PutUint32(odom[4:], 24)
	vals := []float32{1.5, -2.0, 0.3, 0.1, -0.05, 1.2}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(odom[8+i*4:], math.Float32bits(v))
	}
	u.handleFrame(odom)

	sample, _ = u.LatestSample()
	if sample.Position != [3]float64{1.5, -2.0, float64(float32(0.3))} {
		t.Errorf("position = %v", sample.Position)
	}
	if sample.Orientation != [3]float64{float64(float32(0.1)), float64(float32(-0.05)), float64(float32(1.2))} {
		t.Errorf("orientation = %v", sample.Orientation)
	}

	temp := make([]byte, 12)
	binary.LittleEndian.PutUint32(temp[0:], udpMsgTemperature)
	binary.LittleEndian.PutUint32(temp[4:], 4)
	binary.LittleEndian.PutUint32(temp[8:], math.Float32bits(42.5))
	u.handleFrame(temp)

	sample, _ = u.LatestSample()
	if sample.Temperature != 42.5 {
		t.Errorf("temperature = %v, want 42.5", sample.Temperature)
	}
}

func TestUDPShortFrameIgnored(t *testing.T) {
	u := NewUDP("127.0.0.1", 9, time.Second)
	u.handleFrame([]byte{1, 2, 3})
	if _, ok := u.LatestSample(); ok {
		t.Fatal("short frame should not produce a sample")
	}
}

func TestUDPSendWithoutConnect(t *testing.T) {
	u := NewUDP("127.0.0.1", 9, time.Second)
	if err := u.SendVelocity(0, 0, 0, 0); err == nil {
		t.Fatal("expected error when not connected")
	}
}
