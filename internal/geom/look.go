package geom

import (
	"errors"
	"fmt"
	"math"
)

// DefaultEyeHeight of a standing player.
const DefaultEyeHeight = 1.62

type Direction int

const (
	Down Direction = iota
	Up
	North
	South
	West
	East
)

var directionNames = [...]string{"down", "up", "north", "south", "west", "east"}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return "unknown"
	}
	return directionNames[d]
}

func (d Direction) Normal() Vec3 {
	switch d {
	case Down:
		return Vec3{Y: -1}
	case Up:
		return Vec3{Y: 1}
	case North:
		return Vec3{Z: -1}
	case South:
		return Vec3{Z: 1}
	case West:
		return Vec3{X: -1}
	default:
		return Vec3{X: 1}
	}
}

func (d Direction) Opposite() Direction {
	switch d {
	case Down:
		return Up
	case Up:
		return Down
	case North:
		return South
	case South:
		return North
	case West:
		return East
	default:
		return West
	}
}

// ParseDirection accepts the lowercase names returned by String.
func ParseDirection(s string) (Direction, bool) {
	for i, n := range directionNames {
		if n == s {
			return Direction(i), true
		}
	}
	return Down, false
}

// NearestDirection picks the axis direction with the largest dot product against v.
func NearestDirection(v Vec3) Direction {
	best := North
	bestDot := math.Inf(-1)
	for d := Down; d <= East; d++ {
		dot := d.Normal().Dot(v)
		if dot > bestDot {
			bestDot = dot
			best = d
		}
	}
	return best
}

// LookDirection is a yaw/pitch pair in degrees. Yaw 0 faces +Z, pitch 90 faces down.
type LookDirection struct {
	Yaw   float64
	Pitch float64
}

func (l LookDirection) String() string { return fmt.Sprintf("yaw=%.2f pitch=%.2f", l.Yaw, l.Pitch) }

// LookAt returns the direction from eye towards target.
func LookAt(eye, target Vec3) LookDirection {
	d := target.Sub(eye)
	ground := math.Sqrt(d.X*d.X + d.Z*d.Z)
	yaw := math.Atan2(-d.X, d.Z) * 180 / math.Pi
	pitch := -math.Atan2(d.Y, ground) * 180 / math.Pi
	return FixLook(LookDirection{Yaw: yaw, Pitch: pitch})
}

// FixLook wraps yaw into [-180, 180) and clamps pitch to [-90, 90].
func FixLook(l LookDirection) LookDirection {
	yaw := math.Mod(l.Yaw+180, 360)
	if yaw < 0 {
		yaw += 360
	}
	l.Yaw = yaw - 180
	l.Pitch = math.Max(-90, math.Min(90, l.Pitch))
	return l
}

// Vector is the unit view vector for l.
func (l LookDirection) Vector() Vec3 {
	yaw := l.Yaw * math.Pi / 180
	pitch := l.Pitch * math.Pi / 180
	return Vec3{
		X: -math.Sin(yaw) * math.Cos(pitch),
		Y: -math.Sin(pitch),
		Z: math.Cos(yaw) * math.Cos(pitch),
	}
}

// BlockHit describes a click on a block face.
type BlockHit struct {
	Pos  BlockPos
	Face Direction
	At   Vec3
}

var ErrNoBlockHit = errors.New("no valid block hit found")

// NiceBlockHit walks from eye along the view ray towards the block center
// until the ray enters the block, so the reported hit point and face agree
// with what a client looking there would send.
func NiceBlockHit(eye Vec3, pos BlockPos) (LookDirection, BlockHit, error) {
	look := LookAt(eye, pos.Center())
	rot := look.Vector().Normalize()
	box := pos.AABB()
	for i := 0; i < 100; i++ {
		p := eye.Add(rot.Scale(float64(i) * 0.1))
		if box.Contains(p) {
			return look, BlockHit{Pos: pos, Face: NearestDirection(rot).Opposite(), At: p}, nil
		}
	}
	return look, BlockHit{}, fmt.Errorf("%w: %v from eye %v", ErrNoBlockHit, pos, eye)
}
