package geometry

import (
	"fmt"
	"math"

	"seehuhn.de/go/geom/matrix"
)

// Epsilon is the smallest extent treated as measurable
const Epsilon = 1e-9

// Point is a 2D point on the sheet plane
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Sub returns p - q
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

func (p Point) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// Box is an axis-aligned bounding box
type Box struct {
	Min Point `json:"min" yaml:"min"`
	Max Point `json:"max" yaml:"max"`
}

// NewBox builds a box from two corners in any order
func NewBox(a, b Point) Box {
	return Box{
		Min: Point{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y)},
		Max: Point{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y)},
	}
}

// Width returns the X extent
func (b Box) Width() float64 { return b.Max.X - b.Min.X }

// Height returns the Y extent
func (b Box) Height() float64 { return b.Max.Y - b.Min.Y }

// Measurable reports whether both extents exceed Epsilon
func (b Box) Measurable() bool {
	return b.Width() > Epsilon && b.Height() > Epsilon
}

// Corners returns the four corners counter-clockwise from Min
func (b Box) Corners() [4]Point {
	return [4]Point{
		b.Min,
		{X: b.Max.X, Y: b.Min.Y},
		b.Max,
		{X: b.Min.X, Y: b.Max.Y},
	}
}

func (b Box) String() string {
	return fmt.Sprintf("%s-%s", b.Min, b.Max)
}

// Affine is a 2D affine transform in PDF component order [a b c d e f],
// mapping (x, y) to (a*x + c*y + e, b*x + d*y + f).
type Affine = matrix.Matrix

// Identity leaves points unchanged
var Identity = matrix.Identity

// Translate returns a pure translation by d
func Translate(d Point) Affine {
	return matrix.Translate(d.X, d.Y)
}

// ScaleAbout returns a uniform scaling by k that keeps origin fixed
func ScaleAbout(origin Point, k float64) Affine {
	return matrix.Translate(-origin.X, -origin.Y).
		Mul(Affine{k, 0, 0, k, 0, 0}).
		Mul(matrix.Translate(origin.X, origin.Y))
}

// Apply maps p through m
func Apply(m Affine, p Point) Point {
	return Point{
		X: m[0]*p.X + m[2]*p.Y + m[4],
		Y: m[1]*p.X + m[3]*p.Y + m[5],
	}
}

// TransformBox maps the four corners of b through m and returns their
// axis-aligned bounding box.
func TransformBox(m Affine, b Box) Box {
	corners := b.Corners()
	out := Box{
		Min: Point{X: math.Inf(1), Y: math.Inf(1)},
		Max: Point{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for _, c := range corners {
		p := Apply(m, c)
		out.Min.X = math.Min(out.Min.X, p.X)
		out.Min.Y = math.Min(out.Min.Y, p.Y)
		out.Max.X = math.Max(out.Max.X, p.X)
		out.Max.Y = math.Max(out.Max.Y, p.Y)
	}
	return out
}
