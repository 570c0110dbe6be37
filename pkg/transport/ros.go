package transport

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/goroslib/v2"
	"github.com/bluenviron/goroslib/v2/pkg/msgs/geometry_msgs"
	"github.com/bluenviron/goroslib/v2/pkg/msgs/nav_msgs"
	"github.com/bluenviron/goroslib/v2/pkg/msgs/sensor_msgs"
	"github.com/bluenviron/goroslib/v2/pkg/msgs/std_srvs"

	"github.com/butlerlabs/go-quad/internal/log"
)

// ROSTopics names the endpoints used by the pub/sub backend.
type ROSTopics struct {
	MasterAddress    string
	Namespace        string
	CmdVelTopic      string
	BatteryTopic     string
	TemperatureTopic string
	OdomTopic        string
	StandService     string
	SitService       string
}

// ROS is the publish/subscribe backend. Velocity goes out as a
// geometry_msgs/Twist, stand/sit are std_srvs/Trigger calls with a real
// success bit, and sensor samples arrive on battery, temperature and
// odometry subscriptions.
type ROS struct {
	topics  ROSTopics
	timeout time.Duration

	mu     sync.Mutex
	node   *goroslib.Node
	pubVel *goroslib.Publisher
	subs   []*goroslib.Subscriber
	svcs   map[string]*goroslib.ServiceClient
	sample Sample
	fresh  bool
}

// NewROS creates a pub/sub backend. timeout bounds service calls.
func NewROS(topics ROSTopics, timeout time.Duration) *ROS {
	return &ROS{
		topics:  topics,
		timeout: timeout,
		svcs:    make(map[string]*goroslib.ServiceClient),
	}
}

// Name implements Transport.
func (r *ROS) Name() string { return "ros" }

// nsJoin prefixes a name with the configured namespace.
func (r *ROS) nsJoin(name string) string {
	if r.topics.Namespace == "" {
		return name
	}
	return "/" + strings.Trim(r.topics.Namespace, "/") + "/" + strings.TrimPrefix(name, "/")
}

// Connect implements Transport. Any setup failure tears the node down and
// is returned so the connection manager can fall back to the mock backend.
func (r *ROS) Connect(ctx context.Context) error {
	node, err := goroslib.NewNode(goroslib.NodeConf{
		Name:          "go_quad",
		MasterAddress: r.topics.MasterAddress,
	})
	if err != nil {
		return fmt.Errorf("ros node setup (%s): %w", r.topics.MasterAddress, err)
	}

	pubVel, err := goroslib.NewPublisher(goroslib.PublisherConf{
		Node:  node,
		Topic: r.nsJoin(r.topics.CmdVelTopic),
		Msg:   &geometry_msgs.Twist{},
	})
	if err != nil {
		node.Close()
		return fmt.Errorf("ros cmd_vel publisher: %w", err)
	}

	var subs []*goroslib.Subscriber

	subBattery, err := goroslib.NewSubscriber(goroslib.SubscriberConf{
		Node:     node,
		Topic:    r.nsJoin(r.topics.BatteryTopic),
		Callback: r.onBattery,
	})
	if err != nil {
		pubVel.Close()
		node.Close()
		return fmt.Errorf("ros battery subscriber: %w", err)
	}
	subs = append(subs, subBattery)

	// Temperature and odometry are optional topics; a robot that does not
	// publish them still works, the fields just stay at their zero values.
	if subTemp, err := goroslib.NewSubscriber(goroslib.SubscriberConf{
		Node:     node,
		Topic:    r.nsJoin(r.topics.TemperatureTopic),
		Callback: r.onTemperature,
	}); err == nil {
		subs = append(subs, subTemp)
	} else {
		log.Warn("ros temperature subscription unavailable", "err", err)
	}

	if subOdom, err := goroslib.NewSubscriber(goroslib.SubscriberConf{
		Node:     node,
		Topic:    r.nsJoin(r.topics.OdomTopic),
		Callback: r.onOdometry,
	}); err == nil {
		subs = append(subs, subOdom)
	} else {
		log.Warn("ros odometry subscription unavailable", "err", err)
	}

	svcs := make(map[string]*goroslib.ServiceClient)
	for action, service := range map[string]string{
		ActionStandUp: r.topics.StandService,
		ActionSitDown: r.topics.SitService,
	} {
		sc, err := goroslib.NewServiceClient(goroslib.ServiceClientConf{
			Node: node,
			Name: r.nsJoin(service),
			Srv:  &std_srvs.Trigger{},
		})
		if err != nil {
			log.Warn("ros service client unavailable", "action", action, "err", err)
			continue
		}
		svcs[action] = sc
	}

	r.mu.Lock()
	r.node = node
	r.pubVel = pubVel
	r.subs = subs
	r.svcs = svcs
	r.mu.Unlock()

	log.Info("ros transport connected",
		"master", r.topics.MasterAddress,
		"cmd_vel", r.nsJoin(r.topics.CmdVelTopic))
	return nil
}

// Close implements Transport.
func (r *ROS) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sc := range r.svcs {
		sc.Close()
	}
	r.svcs = make(map[string]*goroslib.ServiceClient)
	for _, sub := range r.subs {
		sub.Close()
	}
	r.subs = nil
	if r.pubVel != nil {
		r.pubVel.Close()
		r.pubVel = nil
	}
	if r.node != nil {
		r.node.Close()
		r.node = nil
	}
	return nil
}

// SendVelocity implements Transport. Step height has no Twist field and is
// carried only by backends whose command format includes it.
func (r *ROS) SendVelocity(linearX, linearY, angularZ, _ float64) error {
	r.mu.Lock()
	pub := r.pubVel
	r.mu.Unlock()

	if pub == nil {
		return fmt.Errorf("ros transport not connected")
	}
	pub.Write(&geometry_msgs.Twist{
		Linear:  geometry_msgs.Vector3{X: linearX, Y: linearY},
		Angular: geometry_msgs.Vector3{Z: angularZ},
	})
	return nil
}

// CallAction implements Transport. Trigger services report real success.
func (r *ROS) CallAction(ctx context.Context, name string) (bool, error) {
	if name == ActionStopMove {
		// No dedicated service; a zero Twist stops the robot.
		return true, r.SendVelocity(0, 0, 0, 0)
	}

	r.mu.Lock()
	sc, ok := r.svcs[name]
	r.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("ros service for action %q not available", name)
	}

	// Bound the call; goroslib blocks until the service responds.
	type result struct {
		res std_srvs.TriggerRes
		err error
	}
	done := make(chan result, 1)
	go func() {
		var res std_srvs.TriggerRes
		err := sc.Call(&std_srvs.TriggerReq{}, &res)
		done <- result{res, err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		if out.err != nil {
			return false, fmt.Errorf("ros action %q: %w", name, out.err)
		}
		return out.res.Success, nil
	case <-timer.C:
		return false, fmt.Errorf("ros action %q timed out after %v", name, r.timeout)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// LatestSample implements Transport.
func (r *ROS) LatestSample() (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sample, r.fresh
}

// NeedsHeartbeat implements Transport. ROS liveness is implicit in the
// node's master registration.
func (r *ROS) NeedsHeartbeat() bool { return false }

// Heartbeat implements Transport.
func (r *ROS) Heartbeat() error { return nil }

func (r *ROS) onBattery(msg *sensor_msgs.BatteryState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// BatteryState.percentage is 0..1.
	pct := float64(msg.Percentage) * 100.0
	r.sample.BatteryLevel = math.Max(0, math.Min(100, pct))
	r.sample.Timestamp = time.Now()
	r.fresh = true
}

func (r *ROS) onTemperature(msg *sensor_msgs.Temperature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sample.Temperature = msg.Temperature
	r.sample.Timestamp = time.Now()
	r.fresh = true
}

func (r *ROS) onOdometry(msg *nav_msgs.Odometry) {
	pos := msg.Pose.Pose.Position
	q := msg.Pose.Pose.Orientation
	roll, pitch, yaw := quaternionToRPY(q.X, q.Y, q.Z, q.W)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sample.Position = [3]float64{pos.X, pos.Y, pos.Z}
	r.sample.Orientation = [3]float64{roll, pitch, yaw}
	r.sample.LinearVelocity = [3]float64{
		msg.Twist.Twist.Linear.X,
		msg.Twist.Twist.Linear.Y,
		msg.Twist.Twist.Linear.Z,
	}
	r.sample.AngularVelocity = msg.Twist.Twist.Angular.Z
	r.sample.Timestamp = time.Now()
	r.fresh = true
}

// quaternionToRPY converts a quaternion to roll, pitch, yaw in radians.
func quaternionToRPY(x, y, z, w float64) (roll, pitch, yaw float64) {
	sinrCosp := 2 * (w*x + y*z)
	cosrCosp := 1 - 2*(x*x+y*y)
	roll = math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (w*y - z*x)
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	sinyCosp := 2 * (w*z + x*y)
	cosyCosp := 1 - 2*(y*y+z*z)
	yaw = math.Atan2(sinyCosp, cosyCosp)
	return roll, pitch, yaw
}

var _ Transport = (*ROS)(nil)
