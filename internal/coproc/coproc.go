// Package coproc is the co-processor end of the link. The simulator uses it
// to stand in for real hardware, and tests use it to drive a link.Link.
package coproc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/codec"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/link"
	"github.com/mailmindlin/MOEnet-2024/internal/monitoring"
	"github.com/mailmindlin/MOEnet-2024/internal/nt"
	"github.com/mailmindlin/MOEnet-2024/internal/timeutil"
)

// LocalTime is the co-processor's own clock. Everything it measures is
// stamped in this domain and mapped to server time before publishing.
type LocalTime struct{ *clock.Source }

// NewLocalTime returns a local clock domain whose epoch is now on c.
func NewLocalTime(c timeutil.Clock) LocalTime {
	return LocalTime{clock.NewSource("coproc-local", c, c.Now())}
}

// Client publishes what a co-processor reports and reads what the controller
// asks of it.
type Client struct {
	id    uuid.UUID
	store nt.Store
	table *nt.Table
	cfg   link.FullConfig

	ping         *nt.Publisher[int64]
	status       *nt.Publisher[int64]
	config       *nt.Publisher[string]
	detections   *nt.Publisher[link.Detections]
	fieldToOdom  *nt.Publisher[geom.Pose3D]
	fieldToRobot *nt.Publisher[link.Estimate]
	odomToRobot  *nt.Publisher[geom.Transform3D]

	rioConfig    *nt.Subscriber[string]
	sleep        *nt.Subscriber[bool]
	poseOverride *nt.Subscriber[geom.Pose3D]
	rioTs        int64
}

// New returns a client on the named table of store. An empty table name
// uses link.TableName.
func New(store nt.Store, table string) *Client {
	if table == "" {
		table = link.TableName
	}
	t := nt.NewTable(store, table)
	d := t.Time()
	pose := codec.ForStruct[geom.Pose3D](codec.Pose3DStruct{})
	return &Client{
		id:    uuid.New(),
		store: store,
		table: t,
		cfg:   link.FullConfig{NT: link.DefaultNetworkTableConfig(), SLAM: link.DefaultSlamConfig()},

		ping:         nt.Publish[int64](t, link.TopicPing, codec.Int64{}),
		status:       nt.Publish[int64](t, link.TopicStatus, codec.Int64{}),
		config:       nt.Publish[string](t, link.TopicClientConfig, codec.String{}),
		detections:   nt.Publish[link.Detections](t, link.TopicDetections, codec.DetectionsProto[nt.ServerTime]{Domain: d}),
		fieldToOdom:  nt.Publish[geom.Pose3D](t, link.TopicFieldToOdom, pose),
		fieldToRobot: nt.Publish[link.Estimate](t, link.TopicFieldToRobot, codec.ForStruct[link.Estimate](codec.PositionEstimateStruct[nt.ServerTime]{Domain: d})),
		odomToRobot:  nt.Publish[geom.Transform3D](t, link.TopicOdomToRobot, codec.ForStruct[geom.Transform3D](codec.Transform3DStruct{})),

		rioConfig:    nt.Subscribe[string](t, link.TopicRioConfig, codec.String{}),
		sleep:        nt.Subscribe[bool](t, link.TopicSleep, codec.Bool{}),
		poseOverride: nt.Subscribe[geom.Pose3D](t, link.TopicPoseOverride, pose),
	}
}

// ID identifies this client instance in logs.
func (c *Client) ID() uuid.UUID { return c.id }

// Time returns the domain of the timestamps this client publishes.
func (c *Client) Time() nt.ServerTime { return c.table.Time() }

// TimeMapper maps local into server time. The offset is measured again on
// every conversion, so it follows the transport's clock as it is adjusted.
func (c *Client) TimeMapper(local LocalTime) clock.Mapper[LocalTime, nt.ServerTime] {
	server := c.Time()
	return clock.OffsetFunc(local, server, func() time.Duration {
		return clock.Measure(local, server).Offset()
	})
}

// Ping publishes a heartbeat.
func (c *Client) Ping() error { return c.ping.Set(c.store.Now()) }

// SetState publishes the lifecycle state.
func (c *Client) SetState(s link.State) error { return c.status.Set(int64(s)) }

// SetStatusCode publishes a raw status code, including ones the controller
// does not know.
func (c *Client) SetStatusCode(code int64) error { return c.status.Set(code) }

// PublishConfig reports cfg as the running configuration. Later transform
// publishes follow its directions.
func (c *Client) PublishConfig(cfg link.FullConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("coproc: encode config: %w", err)
	}
	if err := c.config.Set(string(b)); err != nil {
		return err
	}
	c.cfg = cfg.Clone()
	return nil
}

// Config returns the configuration last reported.
func (c *Client) Config() link.FullConfig { return c.cfg.Clone() }

// errNotOwner is returned when the configuration makes the controller the
// publisher of a transform.
var errNotOwner = errors.New("coproc: channel is not published by the co-processor")

func publishIf[T any](p *nt.Publisher[T], dir link.TransformDirection, v T) error {
	if dir != link.CamToRio {
		return fmt.Errorf("%s: %w", p.Key(), errNotOwner)
	}
	return p.Set(v)
}

// PublishFieldToOdom publishes the field to odometry pose.
func (c *Client) PublishFieldToOdom(p geom.Pose3D) error {
	return publishIf(c.fieldToOdom, c.cfg.NT.TfFieldToOdom, p)
}

// PublishFieldToRobot publishes a position estimate.
func (c *Client) PublishFieldToRobot(e link.Estimate) error {
	return publishIf(c.fieldToRobot, c.cfg.NT.TfFieldToRobot, e)
}

// PublishOdomToRobot publishes the odometry to robot transform.
func (c *Client) PublishOdomToRobot(t geom.Transform3D) error {
	return publishIf(c.odomToRobot, c.cfg.NT.TfOdomToRobot, t)
}

// PublishDetections publishes a detection batch if detections are enabled.
func (c *Client) PublishDetections(ds link.Detections) error {
	if !c.cfg.NT.PublishDetections {
		return nil
	}
	for _, d := range ds {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return c.detections.Set(ds)
}

// RequestedConfig returns the configuration the controller last asked for,
// if it changed since the previous call.
func (c *Client) RequestedConfig() (*link.RemoteConfig, bool, error) {
	e, ok, err := c.rioConfig.GetAtomic()
	if err != nil || !ok || e.Raw.Timestamp <= c.rioTs {
		return nil, false, err
	}
	c.rioTs = e.Raw.Timestamp
	var rc link.RemoteConfig
	if err := json.Unmarshal([]byte(e.Value), &rc); err != nil {
		monitoring.Warnf("coproc %s: bad rio config: %v", c.id, err)
		return nil, false, err
	}
	return &rc, true, nil
}

// SleepRequested returns the controller's sleep request, if any.
func (c *Client) SleepRequested() (sleeping, ok bool) {
	e, ok, err := c.sleep.GetAtomic()
	if err != nil || !ok {
		return false, false
	}
	return e.Value, true
}

// PoseOverride returns the pose the controller last asked the co-processor
// to reset to.
func (c *Client) PoseOverride() (geom.Pose3D, bool) {
	e, ok, err := c.poseOverride.GetAtomic()
	if err != nil || !ok {
		return geom.Pose3D{}, false
	}
	return e.Value, true
}
