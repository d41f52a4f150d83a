package codec

import (
	"strconv"
	"strings"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/msg"
)

// Packed sizes in bytes.
const (
	SizeTimestamp        = 8 + 4
	SizeTranslation3D    = 3 * 8
	SizeQuaternion       = 4 * 8
	SizeRotation3D       = SizeQuaternion
	SizePose3D           = SizeTranslation3D + SizeRotation3D
	SizeTransform3D      = SizePose3D
	SizeTwist3D          = 6 * 8
	SizeMat66            = 36 * 8
	SizePositionEstimate = SizeTimestamp + SizePose3D + SizeMat66 + SizeTwist3D + SizeMat66
)

// TimestampStruct packs a timestamp as whole seconds and nanoseconds. Decoded
// values are tagged with Domain, which must be the domain the sender stamped
// them in.
type TimestampStruct[D clock.Domain] struct {
	Domain D
}

func (TimestampStruct[D]) TypeName() string     { return "Instant" }
func (TimestampStruct[D]) Schema() string       { return "int64 s;uint32 ns" }
func (TimestampStruct[D]) Size() int            { return SizeTimestamp }
func (TimestampStruct[D]) Nested() []Descriptor { return nil }

func (TimestampStruct[D]) Pack(w *Writer, v clock.Timestamp[D]) {
	w.PutInt64(v.Seconds())
	w.PutUint32(v.Nanos())
}

func (s TimestampStruct[D]) Unpack(r *Reader) clock.Timestamp[D] {
	sec := r.Int64()
	nanos := r.Uint32()
	return clock.FromParts(s.Domain, sec, int64(nanos))
}

type Translation3DStruct struct{}

func (Translation3DStruct) TypeName() string     { return "Translation3d" }
func (Translation3DStruct) Schema() string       { return "double x;double y;double z" }
func (Translation3DStruct) Size() int            { return SizeTranslation3D }
func (Translation3DStruct) Nested() []Descriptor { return nil }

func (Translation3DStruct) Pack(w *Writer, v geom.Translation3D) {
	w.PutFloat64(v.X)
	w.PutFloat64(v.Y)
	w.PutFloat64(v.Z)
}

func (Translation3DStruct) Unpack(r *Reader) geom.Translation3D {
	return geom.Translation3D{X: r.Float64(), Y: r.Float64(), Z: r.Float64()}
}

type QuaternionStruct struct{}

func (QuaternionStruct) TypeName() string     { return "Quaternion" }
func (QuaternionStruct) Schema() string       { return "double w;double x;double y;double z" }
func (QuaternionStruct) Size() int            { return SizeQuaternion }
func (QuaternionStruct) Nested() []Descriptor { return nil }

func (QuaternionStruct) Pack(w *Writer, v geom.Quaternion) {
	w.PutFloat64(v.W)
	w.PutFloat64(v.X)
	w.PutFloat64(v.Y)
	w.PutFloat64(v.Z)
}

func (QuaternionStruct) Unpack(r *Reader) geom.Quaternion {
	return geom.Quaternion{W: r.Float64(), X: r.Float64(), Y: r.Float64(), Z: r.Float64()}
}

type Rotation3DStruct struct{}

func (Rotation3DStruct) TypeName() string     { return "Rotation3d" }
func (Rotation3DStruct) Schema() string       { return "Quaternion q" }
func (Rotation3DStruct) Size() int            { return SizeRotation3D }
func (Rotation3DStruct) Nested() []Descriptor { return []Descriptor{QuaternionStruct{}} }

func (Rotation3DStruct) Pack(w *Writer, v geom.Rotation3D) { QuaternionStruct{}.Pack(w, v.Q) }

func (Rotation3DStruct) Unpack(r *Reader) geom.Rotation3D {
	return geom.Rotation3D{Q: QuaternionStruct{}.Unpack(r)}
}

type Pose3DStruct struct{}

func (Pose3DStruct) TypeName() string { return "Pose3d" }
func (Pose3DStruct) Schema() string   { return "Translation3d translation;Rotation3d rotation" }
func (Pose3DStruct) Size() int        { return SizePose3D }
func (Pose3DStruct) Nested() []Descriptor {
	return []Descriptor{Translation3DStruct{}, Rotation3DStruct{}}
}

func (Pose3DStruct) Pack(w *Writer, v geom.Pose3D) {
	Translation3DStruct{}.Pack(w, v.Translation)
	Rotation3DStruct{}.Pack(w, v.Rotation)
}

func (Pose3DStruct) Unpack(r *Reader) geom.Pose3D {
	t := Translation3DStruct{}.Unpack(r)
	return geom.Pose3D{Translation: t, Rotation: Rotation3DStruct{}.Unpack(r)}
}

type Transform3DStruct struct{}

func (Transform3DStruct) TypeName() string { return "Transform3d" }
func (Transform3DStruct) Schema() string   { return "Translation3d translation;Rotation3d rotation" }
func (Transform3DStruct) Size() int        { return SizeTransform3D }
func (Transform3DStruct) Nested() []Descriptor {
	return []Descriptor{Translation3DStruct{}, Rotation3DStruct{}}
}

func (Transform3DStruct) Pack(w *Writer, v geom.Transform3D) {
	Pose3DStruct{}.Pack(w, geom.Pose3D(v))
}

func (Transform3DStruct) Unpack(r *Reader) geom.Transform3D {
	return geom.Transform3D(Pose3DStruct{}.Unpack(r))
}

type Twist3DStruct struct{}

func (Twist3DStruct) TypeName() string { return "Twist3d" }
func (Twist3DStruct) Schema() string {
	return "double dx;double dy;double dz;double rx;double ry;double rz"
}
func (Twist3DStruct) Size() int            { return SizeTwist3D }
func (Twist3DStruct) Nested() []Descriptor { return nil }

func (Twist3DStruct) Pack(w *Writer, v geom.Twist3D) {
	for _, f := range [...]float64{v.Dx, v.Dy, v.Dz, v.Rx, v.Ry, v.Rz} {
		w.PutFloat64(f)
	}
}

func (Twist3DStruct) Unpack(r *Reader) geom.Twist3D {
	return geom.Twist3D{
		Dx: r.Float64(), Dy: r.Float64(), Dz: r.Float64(),
		Rx: r.Float64(), Ry: r.Float64(), Rz: r.Float64(),
	}
}

var mat66Schema = func() string {
	fields := make([]string, 36)
	for i := range fields {
		fields[i] = "double m" + strconv.Itoa(i)
	}
	return strings.Join(fields, ";")
}()

// Mat66Struct packs a 6x6 matrix as 36 doubles in row-major order.
type Mat66Struct struct{}

func (Mat66Struct) TypeName() string     { return "Mat66" }
func (Mat66Struct) Schema() string       { return mat66Schema }
func (Mat66Struct) Size() int            { return SizeMat66 }
func (Mat66Struct) Nested() []Descriptor { return nil }

func (Mat66Struct) Pack(w *Writer, v geom.Mat66) {
	for _, f := range v {
		w.PutFloat64(f)
	}
}

func (Mat66Struct) Unpack(r *Reader) geom.Mat66 {
	var m geom.Mat66
	for i := range m {
		m[i] = r.Float64()
	}
	return m
}

// PositionEstimateStruct packs timestamp, pose, pose covariance, twist and
// twist covariance in that order.
type PositionEstimateStruct[D clock.Domain] struct {
	Domain D
}

func (PositionEstimateStruct[D]) TypeName() string { return "PositionEstimate" }
func (PositionEstimateStruct[D]) Schema() string {
	return "Instant ts;Pose3d pose;Mat66 poseCov;Twist3d twist;Mat66 twistCov"
}
func (PositionEstimateStruct[D]) Size() int { return SizePositionEstimate }
func (s PositionEstimateStruct[D]) Nested() []Descriptor {
	return []Descriptor{TimestampStruct[D]{Domain: s.Domain}, Pose3DStruct{}, Mat66Struct{}, Twist3DStruct{}}
}

func (s PositionEstimateStruct[D]) Pack(w *Writer, v msg.PositionEstimate[D]) {
	TimestampStruct[D]{Domain: s.Domain}.Pack(w, v.Timestamp)
	Pose3DStruct{}.Pack(w, v.Pose)
	Mat66Struct{}.Pack(w, v.PoseCovariance)
	Twist3DStruct{}.Pack(w, v.Twist)
	Mat66Struct{}.Pack(w, v.TwistCovariance)
}

func (s PositionEstimateStruct[D]) Unpack(r *Reader) msg.PositionEstimate[D] {
	var v msg.PositionEstimate[D]
	v.Timestamp = TimestampStruct[D]{Domain: s.Domain}.Unpack(r)
	v.Pose = Pose3DStruct{}.Unpack(r)
	v.PoseCovariance = Mat66Struct{}.Unpack(r)
	v.Twist = Twist3DStruct{}.Unpack(r)
	v.TwistCovariance = Mat66Struct{}.Unpack(r)
	return v
}
