// Package overlay turns report tables into drawable shapes and places them on
// a letterboxed frame. Shapes are produced in frame-native pixel space; the
// Transform maps them into the viewport.
package overlay

import "image/color"

// CrosshairHalfSize is the crosshair arm length in display units. It does not
// scale with the frame.
const CrosshairHalfSize = 8

// Primitive is one drawable shape: Line, Crosshair, Circle, or Rect.
type Primitive interface {
	Stroke() color.RGBA
	// Place maps the shape through t into viewport coordinates.
	Place(t Transform) Primitive
}

// Line is a segment from (X1,Y1) to (X2,Y2).
type Line struct {
	X1, Y1, X2, Y2 float64
	Color          color.RGBA
}

// Crosshair marks (X,Y). HalfSize is in display units.
type Crosshair struct {
	X, Y, HalfSize float64
	Color          color.RGBA
}

// Circle is centered at (X,Y).
type Circle struct {
	X, Y, Radius float64
	Color        color.RGBA
}

// Rect has its top-left corner at (X,Y).
type Rect struct {
	X, Y, W, H float64
	Color      color.RGBA
}

func (l Line) Stroke() color.RGBA      { return l.Color }
func (c Crosshair) Stroke() color.RGBA { return c.Color }
func (c Circle) Stroke() color.RGBA    { return c.Color }
func (r Rect) Stroke() color.RGBA      { return r.Color }

func (l Line) Place(t Transform) Primitive {
	x1, y1 := t.Apply(l.X1, l.Y1)
	x2, y2 := t.Apply(l.X2, l.Y2)
	return Line{X1: x1, Y1: y1, X2: x2, Y2: y2, Color: l.Color}
}

func (c Crosshair) Place(t Transform) Primitive {
	x, y := t.Apply(c.X, c.Y)
	return Crosshair{X: x, Y: y, HalfSize: c.HalfSize, Color: c.Color}
}

func (c Circle) Place(t Transform) Primitive {
	x, y := t.Apply(c.X, c.Y)
	return Circle{X: x, Y: y, Radius: c.Radius * t.Scale, Color: c.Color}
}

func (r Rect) Place(t Transform) Primitive {
	x, y := t.Apply(r.X, r.Y)
	return Rect{X: x, Y: y, W: r.W * t.Scale, H: r.H * t.Scale, Color: r.Color}
}
