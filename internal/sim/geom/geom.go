package geom

import (
	"fmt"
	"math"
)

// Vec3 is a world position. Equality is exact; cached path segments are keyed
// by it, so positions that should join must be bit-identical.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) Scale(f float64) Vec3 { return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f} }

func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

func (v Vec3) String() string { return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z) }

func Dist(a, b Vec3) float64 { return a.Sub(b).Len() }

// PathLength sums the distances between consecutive corners.
func PathLength(corners []Vec3) float64 {
	var l float64
	for i := 1; i < len(corners); i++ {
		l += Dist(corners[i-1], corners[i])
	}
	return l
}

// MoveTowards steps from toward target by at most maxStep, never overshooting.
func MoveTowards(from, target Vec3, maxStep float64) Vec3 {
	d := target.Sub(from)
	l := d.Len()
	if l <= maxStep || l == 0 {
		return target
	}
	return from.Add(d.Scale(maxStep / l))
}
