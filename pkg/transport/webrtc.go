package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/butlerlabs/go-quad/internal/httpc"
	"github.com/butlerlabs/go-quad/internal/log"
)

// Sport command ids understood by the robot's data channel API.
var sportCommands = map[string]int{
	"Move":      1008,
	"StandUp":   1004,
	"StandDown": 1005,
	"StopMove":  1003,
}

// Actions map onto sport commands.
var sportActions = map[string]string{
	ActionStandUp:  "StandUp",
	ActionSitDown:  "StandDown",
	ActionStopMove: "StopMove",
}

// WebRTCOptions configures the signaling-negotiated data channel backend.
type WebRTCOptions struct {
	RobotIP       string
	SignalingPort int
	SignalingPath string
	ICEServers    []string
}

// WebRTC is the peer-to-peer data channel backend. The offer/answer
// exchange runs over a websocket signaling endpoint on the robot; commands
// and telemetry then flow on a single data channel.
type WebRTC struct {
	opts    WebRTCOptions
	timeout time.Duration

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
	open    bool
	sample  Sample
	fresh   bool
}

// NewWebRTC creates a data channel backend. timeout bounds the signaling
// exchange and the wait for the channel to open.
func NewWebRTC(opts WebRTCOptions, timeout time.Duration) *WebRTC {
	return &WebRTC{
		opts:    opts,
		timeout: timeout,
	}
}

// Name implements Transport.
func (w *WebRTC) Name() string { return "webrtc" }

// signalMessage is the wire format of the websocket signaling exchange.
type signalMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Connect implements Transport. It creates the peer connection, negotiates
// over the signaling websocket, and waits for the data channel to open,
// all within the configured timeout.
func (w *WebRTC) Connect(ctx context.Context) error {
	ice := make([]webrtc.ICEServer, 0, len(w.opts.ICEServers))
	for _, url := range w.opts.ICEServers {
		ice = append(ice, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info("webrtc connection state", "state", s.String())
		if s == webrtc.PeerConnectionStateFailed {
			w.Close()
		}
	})

	channel, err := pc.CreateDataChannel("robot_data", nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}
	// One open signal per connect attempt, so a reconnect on the same
	// instance never sees a stale closed channel.
	openCh := make(chan struct{})
	channel.OnOpen(func() {
		w.mu.Lock()
		w.open = true
		w.mu.Unlock()
		close(openCh)
	})
	channel.OnMessage(w.onMessage)

	w.mu.Lock()
	w.pc = pc
	w.channel = channel
	w.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		w.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		w.Close()
		return fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-time.After(w.timeout):
		w.Close()
		return fmt.Errorf("ice gathering timed out after %v", w.timeout)
	case <-ctx.Done():
		w.Close()
		return ctx.Err()
	}

	answer, err := w.exchangeOffer(ctx, pc.LocalDescription())
	if err != nil {
		w.Close()
		return err
	}
	if err := pc.SetRemoteDescription(*answer); err != nil {
		w.Close()
		return fmt.Errorf("set remote description: %w", err)
	}

	select {
	case <-openCh:
	case <-time.After(w.timeout):
		w.Close()
		return fmt.Errorf("data channel did not open within %v", w.timeout)
	case <-ctx.Done():
		w.Close()
		return ctx.Err()
	}

	log.Info("webrtc transport connected", "robot", w.opts.RobotIP)
	return nil
}

// exchangeOffer sends the local offer to the robot's signaling endpoint and
// returns the answer. Websocket signaling is preferred; older firmware only
// speaks plain HTTP POST, so a failed dial falls back to that.
func (w *WebRTC) exchangeOffer(ctx context.Context, offer *webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	url := fmt.Sprintf("ws://%s:%d%s", w.opts.RobotIP, w.opts.SignalingPort, w.opts.SignalingPath)

	dialCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		log.Debug("websocket signaling unavailable, trying http", "err", err)
		return w.exchangeOfferHTTP(ctx, offer)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(w.timeout))
	if err := conn.WriteJSON(signalMessage{Type: "offer", SDP: offer.SDP}); err != nil {
		return nil, fmt.Errorf("send offer: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(w.timeout))
	var msg signalMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read answer: %w", err)
	}
	if msg.Type != "answer" || msg.SDP == "" {
		return nil, fmt.Errorf("unexpected signaling reply %q", msg.Type)
	}

	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}, nil
}

// exchangeOfferHTTP posts the offer to the signaling path over plain HTTP.
func (w *WebRTC) exchangeOfferHTTP(ctx context.Context, offer *webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	url := fmt.Sprintf("http://%s:%d%s", w.opts.RobotIP, w.opts.SignalingPort, w.opts.SignalingPath)

	body, err := json.Marshal(signalMessage{Type: "offer", SDP: offer.SDP})
	if err != nil {
		return nil, fmt.Errorf("marshal offer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build signaling request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post offer to %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signaling endpoint returned %s", resp.Status)
	}

	var msg signalMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	if msg.Type != "answer" || msg.SDP == "" {
		return nil, fmt.Errorf("unexpected signaling reply %q", msg.Type)
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}, nil
}

// Close implements Transport.
func (w *WebRTC) Close() error {
	w.mu.Lock()
	channel := w.channel
	pc := w.pc
	w.channel = nil
	w.pc = nil
	w.open = false
	w.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	if pc != nil {
		return pc.Close()
	}
	return nil
}

// sportCommand sends one JSON command on the data channel. Every command
// carries a correlation id so replies can be matched in traces.
func (w *WebRTC) sportCommand(name string, params map[string]any) error {
	w.mu.Lock()
	channel := w.channel
	open := w.open
	w.mu.Unlock()

	if channel == nil || !open {
		return fmt.Errorf("webrtc data channel not open")
	}

	id, ok := sportCommands[name]
	if !ok {
		return fmt.Errorf("unknown sport command %q", name)
	}

	msg := map[string]any{
		"api_id": id,
		"id":     uuid.NewString(),
	}
	for k, v := range params {
		msg[k] = v
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal sport command: %w", err)
	}
	return channel.SendText(string(data))
}

// SendVelocity implements Transport.
func (w *WebRTC) SendVelocity(linearX, linearY, angularZ, stepHeight float64) error {
	return w.sportCommand("Move", map[string]any{
		"vx":          linearX,
		"vy":          linearY,
		"vyaw":        angularZ,
		"step_height": stepHeight,
	})
}

// CallAction implements Transport. Delivery on an open channel counts as
// success; the sport API does not acknowledge individual commands.
func (w *WebRTC) CallAction(ctx context.Context, name string) (bool, error) {
	cmd, ok := sportActions[name]
	if !ok {
		return false, fmt.Errorf("webrtc transport has no action %q", name)
	}
	if err := w.sportCommand(cmd, nil); err != nil {
		return false, err
	}
	return true, nil
}

// LatestSample implements Transport.
func (w *WebRTC) LatestSample() (Sample, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sample, w.fresh
}

// NeedsHeartbeat implements Transport. The SCTP association keeps itself
// alive.
func (w *WebRTC) NeedsHeartbeat() bool { return false }

// Heartbeat implements Transport.
func (w *WebRTC) Heartbeat() error { return nil }

// telemetryMessage is the JSON telemetry format on the data channel.
type telemetryMessage struct {
	Type        string    `json:"type"`
	Percentage  float64   `json:"percentage"`
	Temperature float64   `json:"temperature"`
	Position    []float64 `json:"position"`
	Orientation []float64 `json:"orientation"`
	Velocity    []float64 `json:"velocity"`
	Joints      []float64 `json:"joint_positions"`
	Mode        int       `json:"mode"`
}

// onMessage parses telemetry from the data channel. Text frames are JSON;
// binary frames reuse the packet telemetry layout.
func (w *WebRTC) onMessage(msg webrtc.DataChannelMessage) {
	if msg.IsString {
		var t telemetryMessage
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			log.Debug("webrtc: bad telemetry json", "err", err)
			return
		}
		w.applyJSON(t)
		return
	}
	w.applyBinary(msg.Data)
}

func (w *WebRTC) applyJSON(t telemetryMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch t.Type {
	case "battery_state":
		w.sample.BatteryLevel = math.Max(0, math.Min(100, t.Percentage))
	case "temperature":
		w.sample.Temperature = t.Temperature
	case "odometry":
		copyInto(&w.sample.Position, t.Position)
		copyInto(&w.sample.Orientation, t.Orientation)
		copyInto(&w.sample.LinearVelocity, t.Velocity)
	case "sport_state":
		w.sample.Mode = t.Mode
		for i := 0; i < len(t.Joints) && i < len(w.sample.JointPositions); i++ {
			w.sample.JointPositions[i] = t.Joints[i]
		}
	default:
		log.Debug("webrtc: unhandled telemetry type", "type", t.Type)
		return
	}
	w.sample.Timestamp = time.Now()
	w.fresh = true
}

// applyBinary parses the uint32 type / uint32 length framed telemetry also
// used by the packet backend.
func (w *WebRTC) applyBinary(frame []byte) {
	if len(frame) < 8 {
		return
	}
	msgType := binary.LittleEndian.Uint32(frame[0:4])
	payload := frame[8:]

	w.mu.Lock()
	defer w.mu.Unlock()

	switch msgType {
	case udpMsgBattery:
		if len(payload) >= 8 {
			w.sample.BatteryLevel = float64(leFloat32(payload[4:8]))
		}
	case udpMsgOdometry:
		if len(payload) >= 24 {
			for i := 0; i < 3; i++ {
				w.sample.Position[i] = float64(leFloat32(payload[i*4 : i*4+4]))
				w.sample.Orientation[i] = float64(leFloat32(payload[12+i*4 : 16+i*4]))
			}
		}
	case udpMsgTemperature:
		if len(payload) >= 4 {
			w.sample.Temperature = float64(leFloat32(payload[0:4]))
		}
	default:
		return
	}
	w.sample.Timestamp = time.Now()
	w.fresh = true
}

func copyInto(dst *[3]float64, src []float64) {
	for i := 0; i < 3 && i < len(src); i++ {
		dst[i] = src[i]
	}
}

var _ Transport = (*WebRTC)(nil)
