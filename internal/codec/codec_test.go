package codec

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/msg"
	"github.com/mailmindlin/MOEnet-2024/internal/timeutil"
)

type wireTime struct{ *clock.Source }

func newWireTime() wireTime {
	c := timeutil.NewMockClock(time.Unix(100, 0))
	return wireTime{clock.NewSource("wire", c, time.Unix(0, 0))}
}

func TestStructSizes(t *testing.T) {
	d := newWireTime()
	tests := []struct {
		desc     Descriptor
		typ      string
		size     int
		fieldCnt int
	}{
		{TimestampStruct[wireTime]{Domain: d}, "struct:Instant", 12, 2},
		{Translation3DStruct{}, "struct:Translation3d", 24, 3},
		{QuaternionStruct{}, "struct:Quaternion", 32, 4},
		{Rotation3DStruct{}, "struct:Rotation3d", 32, 1},
		{Pose3DStruct{}, "struct:Pose3d", 56, 2},
		{Transform3DStruct{}, "struct:Transform3d", 56, 2},
		{Twist3DStruct{}, "struct:Twist3d", 48, 6},
		{Mat66Struct{}, "struct:Mat66", 288, 36},
		{PositionEstimateStruct[wireTime]{Domain: d}, "struct:PositionEstimate", 692, 5},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.typ, StructTypeString(tt.desc))
			assert.Equal(t, tt.size, tt.desc.Size())
			assert.Len(t, strings.Split(tt.desc.Schema(), ";"), tt.fieldCnt)
		})
	}
}

func TestMat66Schema(t *testing.T) {
	fields := strings.Split(Mat66Struct{}.Schema(), ";")
	assert.Equal(t, "double m0", fields[0])
	assert.Equal(t, "double m35", fields[35])
}

func TestMat66_BitExact(t *testing.T) {
	var m geom.Mat66
	for i := range m {
		m[i] = float64(i)*1.1 - 7
	}
	m[3] = math.Copysign(0, -1)
	m[4] = math.Inf(1)
	m[5] = math.Float64frombits(0x7ff8_0000_dead_beef)
	m[6] = math.SmallestNonzeroFloat64

	b, err := Marshal[geom.Mat66](Mat66Struct{}, m)
	require.NoError(t, err)
	require.Len(t, b, 288)

	got, err := Unmarshal[geom.Mat66](Mat66Struct{}, b)
	require.NoError(t, err)
	for i := range m {
		assert.Equal(t, math.Float64bits(m[i]), math.Float64bits(got[i]), "element %d", i)
	}
}

func TestMat66_RowMajor(t *testing.T) {
	var m geom.Mat66
	m[1] = 2 // row 0, column 1
	b, err := Marshal[geom.Mat66](Mat66Struct{}, m)
	require.NoError(t, err)
	r := NewReader(b[8:16])
	assert.Equal(t, 2.0, r.Float64())
}

func TestPositionEstimate_RoundTrip(t *testing.T) {
	d := newWireTime()
	want := msg.PositionEstimate[wireTime]{
		Timestamp: clock.FromParts(d, 1234, 567_890_123),
		Pose: geom.Pose3D{
			Translation: geom.Translation3D{X: 1, Y: -2, Z: 0.5},
			Rotation:    geom.RotationFromRPY(0.1, 0.2, 0.3),
		},
		PoseCovariance:  geom.DiagonalMat66([6]float64{1, 2, 3, 4, 5, 6}),
		Twist:           geom.Twist3D{Dx: 1, Dy: 2, Dz: 3, Rx: 4, Ry: 5, Rz: 6},
		TwistCovariance: geom.IdentityMat66(),
	}
	s := PositionEstimateStruct[wireTime]{Domain: d}

	b, err := Marshal[msg.PositionEstimate[wireTime]](s, want)
	require.NoError(t, err)
	assert.Len(t, b, SizePositionEstimate)

	// Timestamp leads the record.
	r := NewReader(b)
	assert.Equal(t, int64(1234), r.Int64())
	assert.Equal(t, uint32(567_890_123), r.Uint32())

	got, err := Unmarshal[msg.PositionEstimate[wireTime]](s, b)
	require.NoError(t, err)
	assert.True(t, want.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, want.Pose, got.Pose)
	assert.Equal(t, want.PoseCovariance, got.PoseCovariance)
	assert.Equal(t, want.Twist, got.Twist)
	assert.Equal(t, want.TwistCovariance, got.TwistCovariance)
}

func TestPack_AdvancesBySize(t *testing.T) {
	d := newWireTime()
	structs := []struct {
		name string
		pack func(w *Writer)
		size int
	}{
		{"Instant", func(w *Writer) { TimestampStruct[wireTime]{Domain: d}.Pack(w, clock.FromMicros(d, 5)) }, SizeTimestamp},
		{"Pose3d", func(w *Writer) { Pose3DStruct{}.Pack(w, geom.IdentityPose) }, SizePose3D},
		{"Transform3d", func(w *Writer) { Transform3DStruct{}.Pack(w, geom.IdentityTransform) }, SizeTransform3D},
		{"Twist3d", func(w *Writer) { Twist3DStruct{}.Pack(w, geom.Twist3D{}) }, SizeTwist3D},
		{"Mat66", func(w *Writer) { Mat66Struct{}.Pack(w, geom.Mat66{}) }, SizeMat66},
	}
	for _, tt := range structs {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(make([]byte, 1024))
			w.PutUint32(0xfeedface)
			tt.pack(w)
			require.NoError(t, w.Err())
			assert.Equal(t, 4+tt.size, w.Offset())
		})
	}
}

func TestWriter_NeverGrows(t *testing.T) {
	buf := make([]byte, 10)
	w := NewWriter(buf)
	w.PutFloat64(1)
	w.PutFloat64(2)
	assert.ErrorIs(t, w.Err(), ErrSize)
	assert.Equal(t, 8, w.Offset())
	assert.Len(t, buf, 10)
}

func TestUnmarshal_WrongSize(t *testing.T) {
	_, err := Unmarshal[geom.Pose3D](Pose3DStruct{}, make([]byte, 55))
	assert.ErrorIs(t, err, ErrSize)

	r := NewReader([]byte{1, 2, 3})
	assert.Equal(t, uint32(0), r.Uint32())
	assert.ErrorIs(t, r.Err(), ErrSize)
}

func TestForStruct(t *testing.T) {
	c := ForStruct[geom.Transform3D](Transform3DStruct{})
	assert.Equal(t, "struct:Transform3d", c.TypeString())

	tf := geom.Transform3D{Translation: geom.Translation3D{X: 3}, Rotation: geom.RotationFromRPY(0, 0, 1)}
	b, err := c.Encode(tf)
	require.NoError(t, err)
	got, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, tf, got)
}

func TestRegistry_NestedFirst(t *testing.T) {
	r := NewRegistry()
	d := newWireTime()
	ForStruct[msg.PositionEstimate[wireTime]](PositionEstimateStruct[wireTime]{Domain: d}).AddSchemas(r)
	assert.False(t, r.AddStruct(Pose3DStruct{}), "Pose3d already registered as a dependency")

	var names []string
	for _, e := range r.Entries() {
		assert.Equal(t, SchemaTypeStruct, e.Type)
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{
		"struct:Instant",
		"struct:Translation3d",
		"struct:Quaternion",
		"struct:Rotation3d",
		"struct:Pose3d",
		"struct:Mat66",
		"struct:Twist3d",
		"struct:PositionEstimate",
	}, names)

	DetectionsProto[wireTime]{Domain: d}.AddSchemas(r)
	entries := r.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, "proto:"+DetectionsProtoFile, last.Name)
	assert.Equal(t, SchemaTypeProto, last.Type)
	assert.NotEmpty(t, last.Data)
}
