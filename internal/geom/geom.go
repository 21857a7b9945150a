// Package geom holds the small vector and quaternion types shared by the
// estimator, the startup controller and the planner. Quaternion products are
// delegated to gonum's num/quat.
package geom

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// ErrDegenerateQuaternion is returned when a quaternion cannot be normalised.
var ErrDegenerateQuaternion = errors.New("degenerate quaternion")

// quatNormTolerance is the smallest norm accepted before a quaternion is
// considered degenerate.
const quatNormTolerance = 1e-9

// Vec3 is a point or direction in ℝ³.
type Vec3 struct {
	X, Y, Z float64
}

// V3 builds a Vec3.
func V3(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{v.X * f, v.Y * f, v.Z * f}
}
func (v Vec3) Neg() Vec3 { return Vec3{-v.X, -v.Y, -v.Z} }

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// IsFinite reports whether no component is NaN or ±Inf.
func (v Vec3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// Array returns the components in x, y, z order.
func (v Vec3) Array() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// Quat is an orientation quaternion stored in x, y, z, w order, matching the
// wire format of the pose and command messages.
type Quat struct {
	X, Y, Z, W float64
}

// Identity returns the identity rotation.
func Identity() Quat { return Quat{W: 1} }

// Norm returns the quaternion magnitude.
func (q Quat) Norm() float64 { return quat.Abs(q.number()) }

// IsFinite reports whether no component is NaN or ±Inf.
func (q Quat) IsFinite() bool {
	return isFinite(q.X) && isFinite(q.Y) && isFinite(q.Z) && isFinite(q.W)
}

// Normalize returns q scaled to unit norm. Zero, near-zero and non-finite
// quaternions return ErrDegenerateQuaternion.
func (q Quat) Normalize() (Quat, error) {
	if !q.IsFinite() {
		return Quat{}, ErrDegenerateQuaternion
	}
	n := q.Norm()
	if n < quatNormTolerance {
		return Quat{}, ErrDegenerateQuaternion
	}
	return fromNumber(quat.Scale(1/n, q.number())), nil
}

// Conj returns the conjugate, which is the inverse for unit quaternions.
func (q Quat) Conj() Quat { return fromNumber(quat.Conj(q.number())) }

// Mul returns the Hamilton product q ⊗ p.
func (q Quat) Mul(p Quat) Quat { return fromNumber(quat.Mul(q.number(), p.number())) }

// Array returns the components in x, y, z, w order.
func (q Quat) Array() [4]float64 { return [4]float64{q.X, q.Y, q.Z, q.W} }

// Yaw returns the heading angle about +z in radians.
func (q Quat) Yaw() float64 {
	return math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
}

// FromYaw returns the rotation of yaw radians about +z.
func FromYaw(yaw float64) Quat {
	s, c := math.Sincos(yaw / 2)
	return Quat{Z: s, W: c}
}

// Rotate returns q ⊗ (v,0) ⊗ q⁻¹, the image of v under the rotation q.
// q must be a unit quaternion.
func Rotate(q Quat, v Vec3) Vec3 {
	n := q.number()
	return vector(quat.Mul(quat.Mul(n, pure(v)), quat.Conj(n)))
}

// RotateInverse returns q⁻¹ ⊗ (v,0) ⊗ q, undoing Rotate. q must be a unit
// quaternion.
func RotateInverse(q Quat, v Vec3) Vec3 {
	n := q.number()
	return vector(quat.Mul(quat.Mul(quat.Conj(n), pure(v)), n))
}

func (q Quat) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func fromNumber(n quat.Number) Quat {
	return Quat{X: n.Imag, Y: n.Jmag, Z: n.Kmag, W: n.Real}
}

func pure(v Vec3) quat.Number {
	return quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
}

func vector(n quat.Number) Vec3 {
	return Vec3{X: n.Imag, Y: n.Jmag, Z: n.Kmag}
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
