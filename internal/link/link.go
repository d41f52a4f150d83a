// Package link connects the robot controller to a MOEnet co-processor over a
// shared key-value transport.
//
// All calls are non-blocking and are meant to be driven from a single
// periodic tick. Ordering comes only from the server timestamps carried with
// each value: a channel accepts a value only if it is newer than the last one
// it accepted.
package link

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/codec"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/monitoring"
	"github.com/mailmindlin/MOEnet-2024/internal/msg"
	"github.com/mailmindlin/MOEnet-2024/internal/nt"
)

// TableName is the default table the co-processor uses.
const TableName = "moenet"

// Topic names within the table.
const (
	TopicPing         = "client_ping"
	TopicStatus       = "client_status"
	TopicClientConfig = "client_config"
	TopicRioConfig    = "rio_config"
	TopicSleep        = "rio_sleep"
	TopicFieldToOdom  = "tf_field_odom"
	TopicFieldToRobot = "tf_field_robot"
	TopicOdomToRobot  = "tf_odom_robot"
	TopicDetections   = "client_detections"
	TopicPoseOverride = "rio_pose_override"
)

// TimeoutMicros is how long the co-processor may go without a ping before it
// is considered disconnected.
const TimeoutMicros = 5_000_000

// never is the initial value of every last-seen timestamp. Server time starts
// at zero, so zero is a real timestamp.
const never = math.MinInt64

// Recorder receives every accepted transform and the schemas needed to read
// them back. datalog.DB implements it.
type Recorder interface {
	RegisterSchema(name, typ string, data []byte) error
	Append(entry, typ string, data []byte, tsMicros int64) error
}

// Options configures a Link.
type Options struct {
	// Name identifies the link in logs and metrics. Defaults to the table
	// name.
	Name string
	// Table is the transport table. Defaults to TableName.
	Table string

	Recorder Recorder
	Metrics  *monitoring.LinkMetrics
}

// Pose is a field-relative pose stamped in server time.
type Pose = msg.Timestamped[nt.ServerTime, geom.Pose3D]

// Transform is a transform stamped in server time.
type Transform = msg.Timestamped[nt.ServerTime, geom.Transform3D]

// Estimate is a position estimate stamped in server time.
type Estimate = msg.PositionEstimate[nt.ServerTime]

// Detections is a detection batch stamped in server time.
type Detections = msg.ObjectDetections[nt.ServerTime]

// Link is the controller side of one co-processor connection. It is safe for
// concurrent use, though the protocol assumes a single driving tick.
type Link struct {
	mu       sync.Mutex
	name     string
	store    nt.Store
	table    *nt.Table
	recorder Recorder
	metrics  *monitoring.LinkMetrics
	closed   bool

	ping          *nt.Subscriber[int64]
	status        *nt.Subscriber[int64]
	clientConfig  *nt.Subscriber[string]
	detectionsSub *nt.Subscriber[Detections]
	rioConfig     *nt.Publisher[string]
	sleep         *nt.Publisher[bool]
	poseOverride  *nt.Publisher[geom.Pose3D]

	fieldToOdom  *channel[geom.Pose3D]
	fieldToRobot *channel[Estimate]
	odomToRobot  *channel[geom.Transform3D]

	// config is the last successfully decoded client_config, or nil.
	config *FullConfig
	// configTs is the timestamp of the last client_config blob examined,
	// whether or not it decoded.
	configTs int64

	detections   Detections
	detectionsTs int64
	badDetTs     int64

	lastState   State
	badStatusTs int64
}

// New returns a link over store and publishes the schemas of every record
// type it exchanges.
func New(store nt.Store, opts Options) (*Link, error) {
	if opts.Table == "" {
		opts.Table = TableName
	}
	if opts.Name == "" {
		opts.Name = opts.Table
	}
	t := nt.NewTable(store, opts.Table)
	d := t.Time()

	pose := codec.ForStruct[geom.Pose3D](codec.Pose3DStruct{})
	transform := codec.ForStruct[geom.Transform3D](codec.Transform3DStruct{})
	estimate := codec.ForStruct[Estimate](codec.PositionEstimateStruct[nt.ServerTime]{Domain: d})
	detections := codec.DetectionsProto[nt.ServerTime]{Domain: d}

	l := &Link{
		name:     opts.Name,
		store:    store,
		table:    t,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,

		ping:          nt.Subscribe[int64](t, TopicPing, codec.Int64{}),
		status:        nt.Subscribe[int64](t, TopicStatus, codec.Int64{}),
		clientConfig:  nt.Subscribe[string](t, TopicClientConfig, codec.String{}),
		detectionsSub: nt.Subscribe[Detections](t, TopicDetections, detections),
		rioConfig:     nt.Publish[string](t, TopicRioConfig, codec.String{}),
		sleep:         nt.Publish[bool](t, TopicSleep, codec.Bool{}),
		poseOverride:  nt.Publish[geom.Pose3D](t, TopicPoseOverride, pose),

		fieldToOdom:  newChannel(t, TopicFieldToOdom, pose, func(c *NetworkTableConfig) TransformDirection { return c.TfFieldToOdom }),
		fieldToRobot: newChannel(t, TopicFieldToRobot, estimate, func(c *NetworkTableConfig) TransformDirection { return c.TfFieldToRobot }),
		odomToRobot:  newChannel(t, TopicOdomToRobot, transform, func(c *NetworkTableConfig) TransformDirection { return c.TfOdomToRobot }),

		configTs:     never,
		detectionsTs: never,
		badDetTs:     never,
		badStatusTs:  never,
	}

	reg := codec.NewRegistry()
	pose.AddSchemas(reg)
	transform.AddSchemas(reg)
	estimate.AddSchemas(reg)
	detections.AddSchemas(reg)
	if err := t.PublishSchemas(reg); err != nil {
		return nil, fmt.Errorf("link %s: %w", l.name, err)
	}
	if l.recorder != nil {
		for _, e := range reg.Entries() {
			if err := l.recorder.RegisterSchema(e.Name, e.Type, e.Data); err != nil {
				return nil, fmt.Errorf("link %s: register schema %s: %w", l.name, e.Name, err)
			}
		}
	}
	return l, nil
}

// Name returns the link name.
func (l *Link) Name() string { return l.name }

// Time returns the clock domain of every timestamp the link reports.
func (l *Link) Time() nt.ServerTime { return l.table.Time() }

// Now returns the current server time.
func (l *Link) Now() clock.Timestamp[nt.ServerTime] { return clock.Now(l.Time()) }

// Config returns the configuration the co-processor reports it is running.
// ok is false when none is available. The blob is decoded only when its
// timestamp advances; a blob that fails to decode returns ErrConfigDecode
// once and leaves the previously decoded configuration in effect.
func (l *Link) Config() (cfg FullConfig, ok bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	err = l.refreshConfigLocked()
	if l.config == nil {
		return FullConfig{}, false, err
	}
	return l.config.Clone(), true, err
}

func (l *Link) refreshConfigLocked() error {
	e, ok, err := l.clientConfig.GetAtomic()
	ts := e.Raw.Timestamp
	if (!ok && err == nil) || ts <= l.configTs {
		return nil
	}
	l.configTs = ts
	if err == nil && e.Value == "" {
		l.config = nil
		return nil
	}
	if err == nil {
		var cfg FullConfig
		if cfg, err = DecodeFullConfig([]byte(e.Value)); err == nil {
			l.config = &cfg
			l.metrics.Read(TopicClientConfig, monitoring.ResultAccepted)
			return nil
		}
	}
	monitoring.Warnf("%s: unable to decode config: %v", l.name, err)
	l.metrics.ConfigError("decode")
	l.metrics.Read(TopicClientConfig, monitoring.ResultError)
	return fmt.Errorf("%w: %v", ErrConfigDecode, err)
}

// ntConfigLocked returns the transport section of the current configuration,
// or the defaults when there is none.
func (l *Link) ntConfigLocked() *NetworkTableConfig {
	if l.config != nil {
		return &l.config.NT
	}
	def := DefaultNetworkTableConfig()
	return &def
}

// SetConfig asks the co-processor to run cfg. If cfg cannot be encoded
// nothing is published and the error wraps ErrConfigEncode.
func (l *Link) SetConfig(cfg *RemoteConfig) error {
	if cfg == nil {
		cfg = &RemoteConfig{}
	}
	b, err := cfg.Encode()
	if err != nil {
		monitoring.Warnf("%s: unable to send config: %v", l.name, err)
		l.metrics.ConfigError("encode")
		l.metrics.Write(TopicRioConfig, monitoring.ResultSkipped)
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rioConfig.Set(string(b)); err != nil {
		l.metrics.Write(TopicRioConfig, monitoring.ResultError)
		return err
	}
	l.metrics.Write(TopicRioConfig, monitoring.ResultSent)
	return nil
}

// IsConnected reports whether the co-processor pinged within TimeoutMicros.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isConnectedLocked()
}

func (l *Link) isConnectedLocked() bool {
	raw, ok := l.ping.Raw()
	if !ok {
		return false
	}
	return l.store.Now()-raw.Timestamp < TimeoutMicros
}

// State returns the co-processor's reported state. Before any status is
// published the state is StateNotReady.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

func (l *Link) stateLocked() State {
	e, ok, err := l.status.GetAtomic()
	if err == nil && !ok {
		return StateNotReady
	}
	if err == nil {
		var s State
		if s, err = StateFromCode(e.Value); err == nil {
			return s
		}
	}
	if ts := e.Raw.Timestamp; ts != l.badStatusTs {
		l.badStatusTs = ts
		monitoring.Warnf("%s: %v", l.name, err)
	}
	return StateError
}

// CanSleep reports whether the co-processor listens for sleep requests.
func (l *Link) CanSleep() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.refreshConfigLocked() // logged
	return l.config != nil && l.config.NT.SubscribeSleep
}

// SetSleeping requests the co-processor to sleep or wake. The request is
// dropped if the co-processor does not listen for it.
func (l *Link) SetSleeping(sleeping bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.refreshConfigLocked() // logged
	if l.config == nil || !l.config.NT.SubscribeSleep {
		l.metrics.Write(TopicSleep, monitoring.ResultSkipped)
		return nil
	}
	if err := l.sleep.Set(sleeping); err != nil {
		l.metrics.Write(TopicSleep, monitoring.ResultError)
		return err
	}
	l.metrics.Write(TopicSleep, monitoring.ResultSent)
	return nil
}

// SetPoseOverride tells the co-processor to reset its field pose.
func (l *Link) SetPoseOverride(p geom.Pose3D) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.poseOverride.Set(p); err != nil {
		l.metrics.Write(TopicPoseOverride, monitoring.ResultError)
		return err
	}
	l.metrics.Write(TopicPoseOverride, monitoring.ResultSent)
	return nil
}

// FieldToOdom returns a new field to odometry pose, if one has arrived since
// the last call.
func (l *Link) FieldToOdom() (Pose, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.fieldToOdom.read(l)
	return Pose{Timestamp: e.Time, Value: e.Value}, ok
}

// FieldToRobot returns a new position estimate, if one has arrived since the
// last call.
func (l *Link) FieldToRobot() (Estimate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.fieldToRobot.read(l)
	return e.Value, ok
}

// OdomToRobot returns a new odometry to robot transform, if one has arrived
// since the last call.
func (l *Link) OdomToRobot() (Transform, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.odomToRobot.read(l)
	return Transform{Timestamp: e.Time, Value: e.Value}, ok
}

// SendFieldToOdom publishes p if the controller owns tf_field_odom.
func (l *Link) SendFieldToOdom(p geom.Pose3D) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fieldToOdom.write(l, p)
}

// SendFieldToRobot publishes e if the controller owns tf_field_robot.
func (l *Link) SendFieldToRobot(e Estimate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fieldToRobot.write(l, e)
}

// SendOdomToRobot publishes t if the controller owns tf_odom_robot.
func (l *Link) SendOdomToRobot(t geom.Transform3D) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.odomToRobot.write(l, t)
}

// Detections returns the latest detection batch, as of the last Periodic.
func (l *Link) Detections() Detections {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(Detections, len(l.detections))
	copy(out, l.detections)
	return out
}

func (l *Link) pollDetectionsLocked() {
	e, ok, err := l.detectionsSub.GetAtomic()
	ts := e.Raw.Timestamp
	switch {
	case err != nil:
		if ts != l.badDetTs {
			l.badDetTs = ts
			monitoring.Warnf("%s: dropping detections: %v", l.name, err)
		}
		l.metrics.Read(TopicDetections, monitoring.ResultError)
	case !ok:
	case ts <= l.detectionsTs:
		l.metrics.Read(TopicDetections, monitoring.ResultStale)
	default:
		l.detectionsTs = ts
		l.detections = e.Value
		l.record(l.detectionsSub.Key(), e.Raw)
		l.metrics.Read(TopicDetections, monitoring.ResultAccepted)
	}
}

func (l *Link) record(key string, v nt.Value) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Append(key, v.Type, v.Data, v.Timestamp); err != nil {
		monitoring.Warnf("%s: record %s: %v", l.name, key, err)
	}
}

// Periodic refreshes the configuration, polls detections and samples the
// co-processor state. It never panics.
func (l *Link) Periodic() {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			monitoring.Errorf("%s: periodic: %v", l.name, r)
		}
	}()
	if l.closed {
		return
	}

	_ = l.refreshConfigLocked() // logged
	l.pollDetectionsLocked()

	state := l.stateLocked()
	if state != l.lastState {
		if !l.lastState.CanTransition(state) {
			monitoring.Warnf("%s: unexpected transition %s -> %s", l.name, l.lastState, state)
		}
		monitoring.Logf("%s: %s -> %s", l.name, l.lastState, state)
		l.lastState = state
	}
	l.metrics.Observe(l.isConnectedLocked(), int(state), len(l.detections))
}

// Status is a snapshot of the link.
type Status struct {
	Name       string `json:"name"`
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
	StateCode  int    `json:"state_code"`
	Configured bool   `json:"configured"`
	Detections int    `json:"detections"`
}

// Status returns a snapshot as of the last Periodic.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Name:       l.name,
		Connected:  l.isConnectedLocked(),
		State:      l.lastState.String(),
		StateCode:  int(l.lastState),
		Configured: l.config != nil,
		Detections: len(l.detections),
	}
}

type closer interface{ Close() error }

// Close releases subscriptions and then publishers. It always releases
// everything and returns the errors joined. Closing twice is a no-op.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	for _, c := range []closer{
		l.ping, l.status, l.clientConfig, l.detectionsSub,
		l.fieldToOdom.sub, l.fieldToRobot.sub, l.odomToRobot.sub,
		l.rioConfig, l.sleep, l.poseOverride,
		l.fieldToOdom.pub, l.fieldToRobot.pub, l.odomToRobot.pub,
	} {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
