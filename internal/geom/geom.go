package geom

import (
	"fmt"
	"math"
)

// Vec3 is a world position in blocks.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3     { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3     { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }
func (v Vec3) Scale(f float64) Vec3 { return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f} }
func (v Vec3) Dot(o Vec3) float64  { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) LengthSqr() float64  { return v.Dot(v) }
func (v Vec3) Length() float64     { return math.Sqrt(v.LengthSqr()) }

func (v Vec3) Normalize() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

func (v Vec3) DistanceSqr(o Vec3) float64 { return v.Sub(o).LengthSqr() }

// HorizontalDistanceSqr ignores the Y axis.
func (v Vec3) HorizontalDistanceSqr(o Vec3) float64 {
	dx := v.X - o.X
	dz := v.Z - o.Z
	return dx*dx + dz*dz
}

func (v Vec3) Block() BlockPos {
	return BlockPos{X: int(math.Floor(v.X)), Y: int(math.Floor(v.Y)), Z: int(math.Floor(v.Z))}
}

func (v Vec3) String() string { return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z) }

// BlockPos is an integer block coordinate.
type BlockPos struct {
	X, Y, Z int
}

func (p BlockPos) Add(dx, dy, dz int) BlockPos {
	return BlockPos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

func (p BlockPos) Down() BlockPos { return p.Add(0, -1, 0) }
func (p BlockPos) Up() BlockPos   { return p.Add(0, 1, 0) }

func (p BlockPos) Vec() Vec3 { return Vec3{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)} }

// Center is the middle of the block volume.
func (p BlockPos) Center() Vec3 {
	return Vec3{X: float64(p.X) + 0.5, Y: float64(p.Y) + 0.5, Z: float64(p.Z) + 0.5}
}

// BottomCenter is the point an entity stands on when centered on top of p.Down().
func (p BlockPos) BottomCenter() Vec3 {
	return Vec3{X: float64(p.X) + 0.5, Y: float64(p.Y), Z: float64(p.Z) + 0.5}
}

func (p BlockPos) AABB() AABB {
	min := p.Vec()
	return AABB{Min: min, Max: min.Add(Vec3{X: 1, Y: 1, Z: 1})}
}

func (p BlockPos) Array() [3]int { return [3]int{p.X, p.Y, p.Z} }

func BlockPosFromArray(a [3]int) BlockPos { return BlockPos{X: a[0], Y: a[1], Z: a[2]} }

func (p BlockPos) String() string { return fmt.Sprintf("%d %d %d", p.X, p.Y, p.Z) }

// AABB is an axis aligned box. Contains treats Max as exclusive.
type AABB struct {
	Min, Max Vec3
}

func (b AABB) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y &&
		p.Z >= b.Min.Z && p.Z < b.Max.Z
}

// DistanceSqr is the squared distance from p to the closest point of the box.
func (b AABB) DistanceSqr(p Vec3) float64 {
	dx := math.Max(math.Max(b.Min.X-p.X, 0), p.X-b.Max.X)
	dy := math.Max(math.Max(b.Min.Y-p.Y, 0), p.Y-b.Max.Y)
	dz := math.Max(math.Max(b.Min.Z-p.Z, 0), p.Z-b.Max.Z)
	return dx*dx + dy*dy + dz*dz
}
