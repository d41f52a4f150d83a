// Package geom provides the 3-D geometry value types exchanged with the
// co-processor. Field names, JSON shape and composition rules follow WPILib so
// that values round-trip through robot-side code unchanged.
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Translation3D is a position or displacement in metres.
type Translation3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (t Translation3D) vec() r3.Vec { return r3.Vec{X: t.X, Y: t.Y, Z: t.Z} }

func translationOf(v r3.Vec) Translation3D { return Translation3D{X: v.X, Y: v.Y, Z: v.Z} }

// Plus returns t+o.
func (t Translation3D) Plus(o Translation3D) Translation3D {
	return translationOf(r3.Add(t.vec(), o.vec()))
}

// Minus returns t-o.
func (t Translation3D) Minus(o Translation3D) Translation3D {
	return translationOf(r3.Sub(t.vec(), o.vec()))
}

// Norm returns the distance from the origin.
func (t Translation3D) Norm() float64 { return r3.Norm(t.vec()) }

// RotateBy rotates t about the origin.
func (t Translation3D) RotateBy(r Rotation3D) Translation3D {
	return translationOf(r3.Rotation(r.Q.number()).Rotate(t.vec()))
}

// Quaternion is a rotation quaternion. WPILib serializes the components with
// capitalized keys.
type Quaternion struct {
	W float64 `json:"W"`
	X float64 `json:"X"`
	Y float64 `json:"Y"`
	Z float64 `json:"Z"`
}

// IdentityQuaternion is the zero rotation.
var IdentityQuaternion = Quaternion{W: 1}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func quaternionOf(n quat.Number) Quaternion {
	return Quaternion{W: n.Real, X: n.Imag, Y: n.Jmag, Z: n.Kmag}
}

// Times returns the Hamilton product q*o.
func (q Quaternion) Times(o Quaternion) Quaternion {
	return quaternionOf(quat.Mul(q.number(), o.number()))
}

// Conjugate returns the conjugate of q, which is its inverse when q is unit.
func (q Quaternion) Conjugate() Quaternion { return quaternionOf(quat.Conj(q.number())) }

// Norm returns |q|.
func (q Quaternion) Norm() float64 { return quat.Abs(q.number()) }

// Normalize returns q scaled to unit length. The zero quaternion normalizes
// to the identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return IdentityQuaternion
	}
	return quaternionOf(quat.Scale(1/n, q.number()))
}

// Rotation3D is an orientation in 3-D space.
type Rotation3D struct {
	Q Quaternion `json:"quaternion"`
}

// IdentityRotation is the zero rotation.
var IdentityRotation = Rotation3D{Q: IdentityQuaternion}

// RotationFromQuaternion builds a rotation from q, normalizing it.
func RotationFromQuaternion(q Quaternion) Rotation3D {
	return Rotation3D{Q: q.Normalize()}
}

// RotationFromRPY builds an extrinsic roll (X), pitch (Y), yaw (Z) rotation,
// angles in radians.
func RotationFromRPY(roll, pitch, yaw float64) Rotation3D {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	return Rotation3D{Q: Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}}
}

// Plus applies o after r.
func (r Rotation3D) Plus(o Rotation3D) Rotation3D {
	return Rotation3D{Q: o.Q.Times(r.Q)}
}

// Minus returns the rotation that takes o to r.
func (r Rotation3D) Minus(o Rotation3D) Rotation3D {
	return r.Plus(o.Inverse())
}

// Inverse returns the opposite rotation.
func (r Rotation3D) Inverse() Rotation3D { return Rotation3D{Q: r.Q.Conjugate()} }

// Roll returns the counterclockwise rotation about the X axis in radians.
func (r Rotation3D) Roll() float64 {
	q := r.Q
	return math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
}

// Pitch returns the counterclockwise rotation about the Y axis in radians.
func (r Rotation3D) Pitch() float64 {
	q := r.Q
	ratio := 2 * (q.W*q.Y - q.Z*q.X)
	if math.Abs(ratio) >= 1 {
		return math.Copysign(math.Pi/2, ratio)
	}
	return math.Asin(ratio)
}

// Yaw returns the counterclockwise rotation about the Z axis in radians.
func (r Rotation3D) Yaw() float64 {
	q := r.Q
	return math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
}

// Pose3D is a position and orientation in some frame.
type Pose3D struct {
	Translation Translation3D `json:"translation"`
	Rotation    Rotation3D    `json:"rotation"`
}

// IdentityPose is the origin with no rotation.
var IdentityPose = Pose3D{Rotation: IdentityRotation}

// TransformBy applies tf in the pose's own frame.
func (p Pose3D) TransformBy(tf Transform3D) Pose3D {
	return Pose3D{
		Translation: p.Translation.Plus(tf.Translation.RotateBy(p.Rotation)),
		Rotation:    Rotation3D{Q: p.Rotation.Q.Times(tf.Rotation.Q)},
	}
}

// RelativeTo expresses p in the frame of origin.
func (p Pose3D) RelativeTo(origin Pose3D) Pose3D {
	tf := NewTransform(origin, p)
	return Pose3D(tf)
}

// Pose2D is the planar projection of a pose.
type Pose2D struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// ToPose2D drops Z, roll and pitch.
func (p Pose3D) ToPose2D() Pose2D {
	return Pose2D{X: p.Translation.X, Y: p.Translation.Y, Yaw: p.Rotation.Yaw()}
}

// Transform3D is a rigid transformation between two frames.
type Transform3D struct {
	Translation Translation3D `json:"translation"`
	Rotation    Rotation3D    `json:"rotation"`
}

// IdentityTransform leaves poses unchanged.
var IdentityTransform = Transform3D{Rotation: IdentityRotation}

// NewTransform returns the transform that takes initial to final.
func NewTransform(initial, final Pose3D) Transform3D {
	inv := initial.Rotation.Inverse()
	return Transform3D{
		Translation: final.Translation.Minus(initial.Translation).RotateBy(inv),
		Rotation:    Rotation3D{Q: inv.Q.Times(final.Rotation.Q)},
	}
}

// Inverse returns the transform that undoes t.
func (t Transform3D) Inverse() Transform3D {
	inv := t.Rotation.Inverse()
	return Transform3D{
		Translation: Translation3D{X: -t.Translation.X, Y: -t.Translation.Y, Z: -t.Translation.Z}.RotateBy(inv),
		Rotation:    inv,
	}
}

// Twist3D is a velocity in the robot frame: linear dx, dy, dz in m/s and
// angular rx, ry, rz in rad/s.
type Twist3D struct {
	Dx float64 `json:"dx"`
	Dy float64 `json:"dy"`
	Dz float64 `json:"dz"`
	Rx float64 `json:"rx"`
	Ry float64 `json:"ry"`
	Rz float64 `json:"rz"`
}
