package overlay

import (
	"image/color"

	"gripview/report"
)

// Schema recognizes one table layout by the presence of its field names and
// builds shapes from it.
type Schema struct {
	Name   string
	Fields []string
	Build  func(t report.Table, c color.RGBA) []Primitive
}

// Matches reports whether every schema field is present in keys.
func (s Schema) Matches(keys map[string]struct{}) bool {
	for _, f := range s.Fields {
		if _, ok := keys[f]; !ok {
			return false
		}
	}
	return true
}

// Schemas is checked in order; the first match wins. Line, then point, then
// rectangle: a table satisfying several layouts is drawn with the earliest.
var Schemas = []Schema{
	{Name: "lines", Fields: []string{"x1", "x2", "y1", "y2"}, Build: buildLines},
	{Name: "points", Fields: []string{"x", "y", "size"}, Build: buildPoints},
	{Name: "rects", Fields: []string{"centerX", "centerY", "width", "height"}, Build: buildRects},
}

// Classify returns the first schema whose fields are all present.
func Classify(schemas []Schema, keys []string) (Schema, bool) {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	for _, s := range schemas {
		if s.Matches(set) {
			return s, true
		}
	}
	return Schema{}, false
}

func arrays(t report.Table, fields ...string) ([][]float64, bool) {
	out := make([][]float64, len(fields))
	for i, f := range fields {
		v, ok := t.NumberArray(f)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func sameLength(cols [][]float64) bool {
	for _, c := range cols[1:] {
		if len(c) != len(cols[0]) {
			return false
		}
	}
	return true
}

func buildLines(t report.Table, c color.RGBA) []Primitive {
	cols, ok := arrays(t, "x1", "y1", "x2", "y2")
	if !ok || !sameLength(cols) {
		return nil
	}
	x1, y1, x2, y2 := cols[0], cols[1], cols[2], cols[3]
	out := make([]Primitive, 0, len(x1))
	for i := range x1 {
		out = append(out, Line{X1: x1[i], Y1: y1[i], X2: x2[i], Y2: y2[i], Color: c})
	}
	return out
}

func buildPoints(t report.Table, c color.RGBA) []Primitive {
	cols, ok := arrays(t, "x", "y")
	if !ok || !sameLength(cols) {
		return nil
	}
	size, _ := t.NumberArray("size")
	x, y := cols[0], cols[1]
	out := make([]Primitive, 0, 2*len(x))
	for i := range x {
		var s float64
		if i < len(size) {
			s = size[i]
		}
		out = append(out,
			Circle{X: x[i], Y: y[i], Radius: s / 2, Color: c},
			Crosshair{X: x[i], Y: y[i], HalfSize: CrosshairHalfSize, Color: c},
		)
	}
	return out
}

func buildRects(t report.Table, c color.RGBA) []Primitive {
	cols, ok := arrays(t, "centerX", "centerY", "width", "height")
	if !ok || !sameLength(cols) {
		return nil
	}
	cx, cy, w, h := cols[0], cols[1], cols[2], cols[3]
	out := make([]Primitive, 0, 2*len(cx))
	for i := range cx {
		out = append(out,
			Rect{X: cx[i] - w[i]/2, Y: cy[i] - h[i]/2, W: w[i], H: h[i], Color: c},
			Crosshair{X: cx[i], Y: cy[i], HalfSize: CrosshairHalfSize, Color: c},
		)
	}
	return out
}
