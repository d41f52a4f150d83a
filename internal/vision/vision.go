// Package vision fuses co-processor estimates with the robot's odometry into
// a field-relative pose.
package vision

import (
	"errors"
	"sync"
	"time"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/link"
	"github.com/mailmindlin/MOEnet-2024/internal/monitoring"
	"github.com/mailmindlin/MOEnet-2024/internal/nt"
)

// RobotTime is the controller's own clock domain.
type RobotTime struct{ *clock.Source }

// serverToRobot maps a link's server time into robot time. The offset is
// measured again on every conversion.
func serverToRobot(robot RobotTime, server nt.ServerTime) clock.Mapper[nt.ServerTime, RobotTime] {
	toServer := clock.OffsetFunc(robot, server, func() time.Duration {
		return clock.Measure(robot, server).Offset()
	})
	return clock.Invert[RobotTime, nt.ServerTime](toServer)
}

// System is a camera system whose health the facade tracks. *link.Link is
// one.
type System interface {
	State() link.State
	IsConnected() bool
	CanSleep() bool
	SetSleeping(sleeping bool) error
	Periodic()
}

// Odometry is the robot's dead-reckoned pose in the odometry frame.
type Odometry interface {
	Pose() geom.Pose3D
}

// OdometryFunc adapts a function to Odometry.
type OdometryFunc func() geom.Pose3D

func (f OdometryFunc) Pose() geom.Pose3D { return f() }

// PoseLog records the fused pose. *datalog.StructEntry[geom.Pose3D] is one.
type PoseLog interface {
	Append(p geom.Pose3D, tsMicros int64) error
}

// Vision is the pose sensor the rest of the robot reads. Call Periodic once
// per tick, after odometry has been updated.
type Vision struct {
	mu       sync.Mutex
	name     string
	links    []*link.Link
	systems  []System
	odometry Odometry

	robot RobotTime
	// fromServer holds one mapper per link, in link order.
	fromServer []clock.Mapper[nt.ServerTime, RobotTime]
	estimateAt clock.Timestamp[RobotTime]
	estimated  bool
	poseLog    PoseLog

	// fieldToOdom places the odometry frame on the field.
	fieldToOdom geom.Pose3D
	odomToRobot geom.Transform3D
	pose        geom.Pose3D
	// relative is true until something has placed the robot on the field.
	relative bool
}

// Name returns the name given to the builder.
func (v *Vision) Name() string { return v.name }

// Links returns the co-processor links, in the order they were added.
func (v *Vision) Links() []*link.Link { return v.links }

// Periodic runs every system's tick, exchanges transforms with the links and
// updates the pose.
func (v *Vision) Periodic() {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, s := range v.systems {
		s.Periodic()
	}

	if v.odometry != nil {
		v.odomToRobot = geom.NewTransform(geom.IdentityPose, v.odometry.Pose())
		for _, l := range v.links {
			if err := l.SendOdomToRobot(v.odomToRobot); err != nil {
				monitoring.Warnf("%s: send odometry to %s: %v", v.name, l.Name(), err)
			}
		}
	}

	placed := false
	for _, l := range v.links {
		if p, ok := l.FieldToOdom(); ok {
			v.fieldToOdom = p.Value
			placed = true
		}
	}
	v.pose = v.fieldToOdom.TransformBy(v.odomToRobot)

	for i, l := range v.links {
		// Estimates are authoritative: they move the odometry frame so that
		// odometry agrees with them.
		if e, ok := l.FieldToRobot(); ok {
			v.pose = e.Pose
			v.fieldToOdom = e.Pose.TransformBy(v.odomToRobot.Inverse())
			v.estimateAt = v.fromServer[i].AtoB(e.Timestamp)
			v.estimated = true
			placed = true
		}
	}
	if placed {
		v.relative = false
	}
	if v.poseLog != nil {
		// Stamped in robot time.
		if err := v.poseLog.Append(v.pose, clock.Now(v.robot).Micros()); err != nil {
			monitoring.Warnf("%s: log pose: %v", v.name, err)
		}
	}
}

// Time returns the robot clock domain.
func (v *Vision) Time() RobotTime { return v.robot }

// EstimateTime returns when the last accepted estimate was captured, in
// robot time.
func (v *Vision) EstimateTime() (clock.Timestamp[RobotTime], bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.estimateAt, v.estimated
}

// Pose3D returns the robot's pose as of the last Periodic.
func (v *Vision) Pose3D() geom.Pose3D {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pose
}

// Pose2D returns the planar projection of Pose3D.
func (v *Vision) Pose2D() geom.Pose2D { return v.Pose3D().ToPose2D() }

// IsRelative reports whether the pose is only relative to where the robot
// started, because nothing has placed it on the field yet.
func (v *Vision) IsRelative() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.relative
}

// OdometryCorrection returns the transform from the field origin to the
// odometry origin.
func (v *Vision) OdometryCorrection() geom.Transform3D {
	v.mu.Lock()
	defer v.mu.Unlock()
	return geom.NewTransform(geom.IdentityPose, v.fieldToOdom)
}

// SetPose tells the system where the robot is. The odometry correction is
// recomputed and sent to every link, along with a pose override.
func (v *Vision) SetPose(p geom.Pose3D) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.pose = p
	v.fieldToOdom = p.TransformBy(v.odomToRobot.Inverse())
	v.relative = false

	var errs []error
	for _, l := range v.links {
		if err := l.SendFieldToOdom(v.fieldToOdom); err != nil {
			errs = append(errs, err)
		}
		if err := l.SetPoseOverride(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// severity orders states from healthy to broken.
var severity = map[link.State]int{
	link.StateReady:        0,
	link.StateSleeping:     1,
	link.StateInitializing: 2,
	link.StateNotReady:     3,
	link.StateError:        4,
	link.StateFatal:        5,
}

// Status returns the worst state among the systems. A disconnected system
// counts as not ready, and so does having no systems at all.
func (v *Vision) Status() link.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.systems) == 0 {
		return link.StateNotReady
	}
	worst := link.StateReady
	for _, s := range v.systems {
		st := link.StateNotReady
		if s.IsConnected() {
			st = s.State()
		}
		if severity[st] > severity[worst] {
			worst = st
		}
	}
	return worst
}

// SetSleeping asks every system that supports it to sleep or wake.
func (v *Vision) SetSleeping(sleeping bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var errs []error
	for _, s := range v.systems {
		if !s.CanSleep() {
			continue
		}
		if err := s.SetSleeping(sleeping); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Detections returns the current detections of every link.
func (v *Vision) Detections() link.Detections {
	var out link.Detections
	for _, l := range v.links {
		out = append(out, l.Detections()...)
	}
	return out
}

// Close closes every link.
func (v *Vision) Close() error {
	var errs []error
	for _, l := range v.links {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
