package overlay

import "math"

// BaseStrokeWidth is the on-screen line width for overlay shapes.
const BaseStrokeWidth = 2.0

// Transform maps frame-native coordinates into the viewport.
type Transform struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

// Purpose: Letterbox a frame into a viewport.
// Key aspects: Uniform scale that fits both axes; the unused axis is centered.
// A degenerate frame or viewport yields a zero transform.
// Upstream: Compose, dashboard frame view.
// Downstream: None.
func Fit(frameW, frameH, viewW, viewH int) Transform {
	if frameW <= 0 || frameH <= 0 || viewW <= 0 || viewH <= 0 {
		return Transform{}
	}
	scale := math.Min(float64(viewW)/float64(frameW), float64(viewH)/float64(frameH))
	w := float64(frameW) * scale
	h := float64(frameH) * scale
	return Transform{
		Scale:   scale,
		OffsetX: (float64(viewW) - w) / 2,
		OffsetY: (float64(viewH) - h) / 2,
	}
}

// Apply maps a frame-native point into the viewport.
func (t Transform) Apply(x, y float64) (float64, float64) {
	return x*t.Scale + t.OffsetX, y*t.Scale + t.OffsetY
}

// Stroke returns the frame-native width that renders as base on screen.
func (t Transform) Stroke(base float64) float64 {
	if t.Scale == 0 {
		return base
	}
	return base / t.Scale
}
