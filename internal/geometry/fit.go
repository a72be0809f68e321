package geometry

import "math"

// Fitting maps a measured box onto a target box: translate so the min
// corners coincide, then scale uniformly about the target min corner.
type Fitting struct {
	Translation Point
	Origin      Point
	Scale       float64
	// Scaled is false when either box has an unmeasurable extent; Scale is
	// then 1.
	Scaled bool
	ScaleX float64
	ScaleY float64
}

// Fit computes the translation and uniform scale taking current onto target.
// The scale is the geometric mean of the per-axis ratios, which keeps the
// content's aspect ratio.
func Fit(current, target Box) Fitting {
	f := Fitting{
		Translation: target.Min.Sub(current.Min),
		Origin:      target.Min,
		Scale:       1,
		ScaleX:      1,
		ScaleY:      1,
	}

	if !current.Measurable() || !target.Measurable() {
		return f
	}

	f.ScaleX = target.Width() / current.Width()
	f.ScaleY = target.Height() / current.Height()
	f.Scale = math.Sqrt(f.ScaleX * f.ScaleY)
	f.Scaled = true
	return f
}

// Identity reports whether applying f leaves every box unchanged
func (f Fitting) Identity() bool {
	return f.Translation == (Point{}) && f.Scale == 1
}

// Matrix returns the combined transform, translation first
func (f Fitting) Matrix() Affine {
	return Translate(f.Translation).Mul(ScaleAbout(f.Origin, f.Scale))
}

// Apply returns the box obtained by transforming b with f
func (f Fitting) Apply(b Box) Box {
	moved := Box{
		Min: Point{X: b.Min.X + f.Translation.X, Y: b.Min.Y + f.Translation.Y},
		Max: Point{X: b.Max.X + f.Translation.X, Y: b.Max.Y + f.Translation.Y},
	}
	if f.Scale == 1 {
		return moved
	}
	return Box{
		Min: scalePoint(moved.Min, f.Origin, f.Scale),
		Max: scalePoint(moved.Max, f.Origin, f.Scale),
	}
}

func scalePoint(p, origin Point, k float64) Point {
	return Point{
		X: origin.X + (p.X-origin.X)*k,
		Y: origin.Y + (p.Y-origin.Y)*k,
	}
}
