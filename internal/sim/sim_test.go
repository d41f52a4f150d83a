package sim

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmindlin/MOEnet-2024/internal/coproc"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/link"
	"github.com/mailmindlin/MOEnet-2024/internal/nt"
	"github.com/mailmindlin/MOEnet-2024/internal/testutil"
	"github.com/mailmindlin/MOEnet-2024/internal/timeutil"
)

type fixture struct {
	clock *timeutil.MockClock
	link  *link.Link
	sim   *Simulator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := testutil.NewClock()
	store := nt.NewMemoryStore(c)
	l, err := link.New(store, link.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	s, err := New(coproc.New(store, ""), c, 1)
	require.NoError(t, err)
	f := &fixture{clock: c, link: l, sim: s}
	c.Advance(time.Millisecond)
	return f
}

// step runs the simulator then the controller tick, and advances time.
func (f *fixture) step(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sim.Step())
	f.link.Periodic()
	f.clock.Advance(time.Millisecond)
}

func TestStep_Ready(t *testing.T) {
	f := newFixture(t)
	want := f.sim.Pose()
	captured := f.link.Now().Add(-f.sim.CaptureLatency)
	f.step(t)

	assert.True(t, f.link.IsConnected())
	assert.Equal(t, link.StateReady, f.link.State())
	cfg, ok, err := f.link.Config()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, link.DefaultNetworkTableConfig(), cfg.NT)

	est, ok := f.link.FieldToRobot()
	require.True(t, ok)
	assert.InDelta(t, want.Translation.X, est.Pose.Translation.X, 1e-9)
	assert.InDelta(t, want.Translation.Y, est.Pose.Translation.Y, 1e-9)
	assert.True(t, est.PoseCovariance.IsSymmetric(0))
	assert.Equal(t, captured.Micros(), est.Timestamp.Micros(), "stamped at capture, in server time")

	ds := f.link.Detections()
	require.Len(t, ds, 2)
	for i, label := range []string{"note", "robot"} {
		assert.Equal(t, label, ds[i].Label)
		assert.Equal(t, captured.Micros(), ds[i].Timestamp.Micros())
		require.NoError(t, ds[i].Validate())
		require.NotNil(t, ds[i].PositionRobot)
		assert.LessOrEqual(t, math.Abs(ds[i].PositionRobot.X), 5.0)
		assert.LessOrEqual(t, math.Abs(ds[i].PositionRobot.Y), 5.0)
	}
}

func TestCaptured_FollowsServerClock(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, int64(1000-20_000), f.sim.Captured().Micros())
	assert.Equal(t, f.link.Time(), f.sim.Captured().Domain())

	f.clock.Advance(time.Second)
	assert.Equal(t, int64(1_001_000-20_000), f.sim.Captured().Micros())

	f.sim.CaptureLatency = 0
	assert.Equal(t, f.link.Now().Micros(), f.sim.Captured().Micros())
}

func TestPathPose(t *testing.T) {
	f := newFixture(t)
	p := f.sim.PathPose(0)
	assert.InDelta(t, 2, p.Translation.X, 1e-9)
	assert.InDelta(t, math.Pi/2, p.Rotation.Yaw(), 1e-9)

	// A quarter lap of a 2 m circle at 1 m/s.
	quarter := math.Pi
	p = f.sim.PathPose(time.Duration(quarter * float64(time.Second)))
	assert.InDelta(t, 0, p.Translation.X, 1e-6)
	assert.InDelta(t, 2, p.Translation.Y, 1e-6)
}

func TestStep_Sleep(t *testing.T) {
	f := newFixture(t)
	f.step(t)
	_, ok := f.link.FieldToRobot()
	require.True(t, ok)

	require.True(t, f.link.CanSleep())
	require.NoError(t, f.link.SetSleeping(true))
	f.step(t)
	assert.True(t, f.sim.Sleeping())
	assert.Equal(t, link.StateSleeping, f.link.State())

	f.step(t)
	_, ok = f.link.FieldToRobot()
	assert.False(t, ok, "no estimates while sleeping")

	require.NoError(t, f.link.SetSleeping(false))
	f.step(t)
	assert.False(t, f.sim.Sleeping())
	assert.Equal(t, link.StateReady, f.link.State())
	_, ok = f.link.FieldToRobot()
	assert.True(t, ok)
}

func TestStep_AppliesRequestedConfig(t *testing.T) {
	f := newFixture(t)
	f.step(t)

	cfg, _, err := f.link.Config()
	require.NoError(t, err)
	rc := link.NewRemoteConfig(cfg).AddSLAMCamera("front", "usb:1", geom.IdentityTransform)
	rc.NT.TfFieldToRobot = link.Disabled
	require.NoError(t, f.link.SetConfig(rc))
	f.step(t)

	cfg, ok, err := f.link.Config()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, link.Disabled, cfg.NT.TfFieldToRobot)
	require.Len(t, cfg.Cameras, 1)
	assert.Equal(t, "front", cfg.Cameras[0].ID)

	f.step(t)
	_, ok = f.link.FieldToRobot()
	assert.False(t, ok, "estimates stop once the channel is disabled")
}

func TestStep_PoseOverride(t *testing.T) {
	f := newFixture(t)
	f.step(t)

	target := geom.Pose3D{Translation: geom.Translation3D{X: 8, Y: 4}, Rotation: geom.IdentityRotation}
	require.NoError(t, f.link.SetPoseOverride(target))
	require.NoError(t, f.sim.Step())
	got := f.sim.Pose()
	assert.InDelta(t, 8, got.Translation.X, 1e-9)
	assert.InDelta(t, 4, got.Translation.Y, 1e-9)

	// One metre along a 2 m circle moves the robot by the chord.
	f.clock.Advance(time.Second)
	moved := f.sim.Pose().Translation.Minus(target.Translation).Norm()
	assert.InDelta(t, 2*2*math.Sin(0.25), moved, 1e-6)
}
