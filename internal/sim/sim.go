// Package sim provides a synthetic co-processor for demos and testing
// without camera hardware.
package sim

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/coproc"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/link"
	"github.com/mailmindlin/MOEnet-2024/internal/monitoring"
	"github.com/mailmindlin/MOEnet-2024/internal/msg"
	"github.com/mailmindlin/MOEnet-2024/internal/nt"
	"github.com/mailmindlin/MOEnet-2024/internal/timeutil"
)

// deviceTime is the camera's clock, which counts from when the camera booted.
type deviceTime struct{ *clock.Source }

// deviceUptime is how long the simulated camera has been running when the
// simulator starts.
const deviceUptime = 90 * time.Second

// Simulator drives a coproc.Client as if cameras were tracking a robot
// driving in a circle.
type Simulator struct {
	client *coproc.Client
	clock  timeutil.Clock
	start  time.Time

	// device stamps captured frames; toServer carries those stamps through
	// the co-processor's local clock into server time.
	device   deviceTime
	toServer clock.Mapper[deviceTime, nt.ServerTime]

	started  bool
	sleeping bool

	// override is the last pose override applied, and at is where the
	// circular path was when it arrived.
	override *geom.Pose3D
	at       geom.Pose3D

	// Configuration
	TrackRadius    float64       // metres, radius of the circular path
	TrackSpeedMPS  float64       // metres per second along the path
	Labels         []string      // one detection per label each step
	CaptureLatency time.Duration // age of a frame when it is processed

	rng *rand.Rand
}

// New returns a simulator publishing through client.
func New(client *coproc.Client, c timeutil.Clock, seed int64) (*Simulator, error) {
	local := coproc.NewLocalTime(c)
	device := deviceTime{clock.NewSource("sim-camera", c, c.Now().Add(-deviceUptime))}
	toServer, err := clock.Chain[deviceTime, coproc.LocalTime, nt.ServerTime](
		clock.Measure(device, local), client.TimeMapper(local))
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	return &Simulator{
		client:         client,
		clock:          c,
		start:          c.Now(),
		device:         device,
		toServer:       toServer,
		TrackRadius:    2.0,
		TrackSpeedMPS:  1.0,
		Labels:         []string{"note", "robot"},
		CaptureLatency: 20 * time.Millisecond,
		rng:            rand.New(rand.NewSource(seed)),
	}, nil
}

// Sleeping reports whether the controller put the simulator to sleep.
func (s *Simulator) Sleeping() bool { return s.sleeping }

// PathPose returns where the robot is on the circle after elapsed time,
// facing along the path.
func (s *Simulator) PathPose(elapsed time.Duration) geom.Pose3D {
	a := s.TrackSpeedMPS / s.TrackRadius * elapsed.Seconds()
	return geom.Pose3D{
		Translation: geom.Translation3D{X: s.TrackRadius * math.Cos(a), Y: s.TrackRadius * math.Sin(a)},
		Rotation:    geom.RotationFromRPY(0, 0, a+math.Pi/2),
	}
}

// Captured returns the server time of the frame being processed now.
func (s *Simulator) Captured() clock.Timestamp[nt.ServerTime] {
	return s.toServer.AtoB(clock.Now(s.device).Add(-s.CaptureLatency))
}

// Pose returns the simulated field pose, shifted by the last override.
func (s *Simulator) Pose() geom.Pose3D {
	p := s.PathPose(s.clock.Since(s.start))
	if s.override == nil {
		return p
	}
	return s.override.TransformBy(geom.NewTransform(s.at, p))
}

// Step runs one co-processor cycle: ping, apply controller requests, then
// publish state, an estimate and detections.
func (s *Simulator) Step() error {
	if err := s.client.Ping(); err != nil {
		return err
	}
	if !s.started {
		if err := s.client.SetState(link.StateInitializing); err != nil {
			return err
		}
		if err := s.client.PublishConfig(s.client.Config()); err != nil {
			return err
		}
		s.started = true
	}

	if err := s.applyRequests(); err != nil {
		return err
	}

	state := link.StateReady
	if s.sleeping {
		state = link.StateSleeping
	}
	if err := s.client.SetState(state); err != nil {
		return err
	}
	if s.sleeping {
		return nil
	}

	cfg := s.client.Config()
	if cfg.NT.TfFieldToRobot == link.CamToRio {
		est := link.Estimate{
			Timestamp:       s.Captured(),
			Pose:            s.Pose(),
			PoseCovariance:  geom.DiagonalMat66([6]float64{0.01, 0.01, 0.01, 0.001, 0.001, 0.001}),
			Twist:           geom.Twist3D{Dx: s.TrackSpeedMPS, Rz: s.TrackSpeedMPS / s.TrackRadius},
			TwistCovariance: geom.IdentityMat66(),
		}
		if err := s.client.PublishFieldToRobot(est); err != nil {
			return err
		}
	}
	return s.client.PublishDetections(s.detections())
}

func (s *Simulator) applyRequests() error {
	rc, ok, err := s.client.RequestedConfig()
	if err != nil {
		return fmt.Errorf("sim: requested config: %w", err)
	}
	if ok {
		cfg := s.client.Config()
		if rc.NT != nil {
			cfg.NT = *rc.NT
		}
		if rc.SLAM != nil {
			cfg.SLAM = *rc.SLAM
		}
		if rc.Cameras != nil {
			cfg.Cameras = rc.Cameras
		}
		if err := s.client.PublishConfig(cfg); err != nil {
			return err
		}
		monitoring.Logf("sim %s: applied config with %d cameras", s.client.ID(), len(cfg.Cameras))
	}

	if s.client.Config().NT.SubscribeSleep {
		if sleeping, ok := s.client.SleepRequested(); ok && sleeping != s.sleeping {
			s.sleeping = sleeping
			monitoring.Logf("sim %s: sleeping=%v", s.client.ID(), sleeping)
		}
	}

	if p, ok := s.client.PoseOverride(); ok && (s.override == nil || *s.override != p) {
		s.at = s.PathPose(s.clock.Since(s.start))
		s.override = &p
	}
	return nil
}

// detections places one object per label within 5 m of the robot.
func (s *Simulator) detections() link.Detections {
	now := s.Captured()
	pose := s.Pose()
	out := make(link.Detections, 0, len(s.Labels))
	for _, label := range s.Labels {
		robot := geom.Translation3D{X: s.rng.Float64()*10 - 5, Y: s.rng.Float64()*10 - 5}
		field := pose.Translation.Plus(robot.RotateBy(pose.Rotation))
		out = append(out, msg.ObjectDetection[nt.ServerTime]{
			Label:         label,
			Confidence:    0.5 + 0.5*s.rng.Float64(),
			Timestamp:     now,
			PositionRobot: &robot,
			PositionField: &field,
		})
	}
	return out
}
