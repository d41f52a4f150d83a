package vision

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/link"
	"github.com/mailmindlin/MOEnet-2024/internal/monitoring"
	"github.com/mailmindlin/MOEnet-2024/internal/nt"
	"github.com/mailmindlin/MOEnet-2024/internal/timeutil"
)

// ErrNoStore is returned by Build when links were added without a store.
var ErrNoStore = errors.New("vision: links require a store")

// Builder assembles a Vision. Setters return the builder so calls can be
// chained; the first invalid argument is reported by Build.
type Builder struct {
	store    nt.Store
	name     string
	log      link.Recorder
	registry prometheus.Registerer
	clock    timeutil.Clock
	poseLog  PoseLog
	tables   []string
	odometry Odometry
	cameras  []System
	err      error
}

// NewBuilder returns a builder named "vision".
func NewBuilder() *Builder {
	return &Builder{name: "vision"}
}

// SetClock sets the source of robot time. The default is the wall clock.
func (b *Builder) SetClock(c timeutil.Clock) *Builder {
	b.clock = c
	return b
}

// SetPoseLog records the fused pose after every Periodic.
func (b *Builder) SetPoseLog(l PoseLog) *Builder {
	b.poseLog = l
	return b
}

// SetStore sets the transport shared by every link.
func (b *Builder) SetStore(s nt.Store) *Builder {
	b.store = s
	return b
}

// SetName names the facade in logs.
func (b *Builder) SetName(name string) *Builder {
	b.name = name
	return b
}

// SetLog records every accepted transform to r.
func (b *Builder) SetLog(r link.Recorder) *Builder {
	b.log = r
	return b
}

// SetMetrics registers per-link metrics on reg.
func (b *Builder) SetMetrics(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// AddLink adds a co-processor link on the named table. An empty name uses
// link.TableName.
func (b *Builder) AddLink(table string) *Builder {
	if table == "" {
		table = link.TableName
	}
	for _, t := range b.tables {
		if t == table {
			b.fail(fmt.Errorf("vision: duplicate link %q", table))
			return b
		}
	}
	b.tables = append(b.tables, table)
	return b
}

// AddOdometry sets the odometry the pose is built on.
func (b *Builder) AddOdometry(o Odometry) *Builder {
	if o == nil {
		b.fail(errors.New("vision: nil odometry"))
		return b
	}
	b.odometry = o
	return b
}

// AddCamera adds a camera system that is not a MOEnet link.
func (b *Builder) AddCamera(s System) *Builder {
	if s == nil {
		b.fail(errors.New("vision: nil camera"))
		return b
	}
	b.cameras = append(b.cameras, s)
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build creates the links and returns the facade.
func (b *Builder) Build() (*Vision, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.tables) > 0 && b.store == nil {
		return nil, ErrNoStore
	}

	c := b.clock
	if c == nil {
		c = timeutil.RealClock{}
	}
	v := &Vision{
		name:        b.name,
		robot:       RobotTime{clock.NewSource("robot", c, c.Now())},
		poseLog:     b.poseLog,
		odometry:    b.odometry,
		fieldToOdom: geom.IdentityPose,
		odomToRobot: geom.IdentityTransform,
		pose:        geom.IdentityPose,
		relative:    true,
	}
	for _, table := range b.tables {
		opts := link.Options{Table: table, Recorder: b.log}
		if b.registry != nil {
			m, err := monitoring.NewLinkMetrics(b.registry, table)
			if err != nil {
				_ = v.Close()
				return nil, fmt.Errorf("vision: metrics for %s: %w", table, err)
			}
			opts.Metrics = m
		}
		l, err := link.New(b.store, opts)
		if err != nil {
			_ = v.Close()
			return nil, err
		}
		v.links = append(v.links, l)
		v.systems = append(v.systems, l)
		v.fromServer = append(v.fromServer, serverToRobot(v.robot, l.Time()))
	}
	v.systems = append(v.systems, b.cameras...)
	return v, nil
}
