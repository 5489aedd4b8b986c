package ui

import (
	"math"
	"testing"
	"time"

	"gripview/overlay"
)

// drawWithin fails the test when rasterizing p takes longer than a second.
func drawWithin(t *testing.T, c *Canvas, p overlay.Primitive) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.DrawShape(p, 2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("drawing %+v did not finish", p)
	}
}

func TestCanvasClipsFarAwayLines(t *testing.T) {
	c := NewCanvas(80, 24)
	drawWithin(t, c, overlay.Line{X1: 0, Y1: 10, X2: 1e9, Y2: 10, Color: red})
	if c.At(0, 10) != red || c.At(79, 10) != red {
		t.Fatalf("clipped line should still cross the canvas")
	}

	c.Clear()
	drawWithin(t, c, overlay.Line{X1: 0, Y1: 0, X2: 1e300, Y2: 0, Color: red})
	if c.At(40, 0) != red {
		t.Fatalf("overflowing end point should clip, not vanish")
	}

	c.Clear()
	drawWithin(t, c, overlay.Line{X1: -1e12, Y1: -1e12, X2: -1e9, Y2: -5, Color: red})
	drawWithin(t, c, overlay.Rect{X: -1e9, Y: -1e9, W: 2e9, H: 2e9, Color: red})
	for y := 0; y < c.H; y++ {
		for x := 0; x < c.W; x++ {
			if c.At(x, y) == red {
				t.Fatalf("off-canvas shapes painted pixel (%d,%d)", x, y)
			}
		}
	}
}

func TestCanvasIgnoresNonFiniteShapes(t *testing.T) {
	c := NewCanvas(20, 10)
	drawWithin(t, c, overlay.Line{X1: math.NaN(), Y1: 0, X2: 5, Y2: 5, Color: red})
	drawWithin(t, c, overlay.Line{X1: 0, Y1: 0, X2: math.Inf(1), Y2: 5, Color: red})
	drawWithin(t, c, overlay.Circle{X: 5, Y: 5, Radius: math.Inf(1), Color: red})
	drawWithin(t, c, overlay.Crosshair{X: math.NaN(), Y: 3, HalfSize: 8, Color: red})
	for y := 0; y < c.H; y++ {
		for x := 0; x < c.W; x++ {
			if c.At(x, y) == red {
				t.Fatalf("non-finite shape painted pixel (%d,%d)", x, y)
			}
		}
	}
}

func TestCanvasHugeCircles(t *testing.T) {
	c := NewCanvas(80, 24)
	// The whole canvas sits inside the ring.
	drawWithin(t, c, overlay.Circle{X: 40, Y: 24, Radius: 1e9, Color: red})
	drawWithin(t, c, overlay.Circle{X: 40, Y: 24, Radius: 2e300, Color: red})
	// Far away and small.
	drawWithin(t, c, overlay.Circle{X: -1e9, Y: 5, Radius: 3, Color: red})
	for y := 0; y < c.H; y++ {
		for x := 0; x < c.W; x++ {
			if c.At(x, y) == red {
				t.Fatalf("invisible ring painted pixel (%d,%d)", x, y)
			}
		}
	}

	// A ring centred far off to the left whose edge crosses the canvas.
	drawWithin(t, c, overlay.Circle{X: -1e6, Y: 10, Radius: 1e6 + 40, Color: red})
	if c.At(40, 10) != red {
		t.Fatalf("expected the crossing arc at (40,10)")
	}
	if c.At(20, 10) == red || c.At(60, 10) == red {
		t.Fatalf("arc painted away from the crossing")
	}
}

func TestCanvasSmallCircleUnchanged(t *testing.T) {
	c := NewCanvas(20, 10)
	c.DrawShape(overlay.Circle{X: 10, Y: 10, Radius: 4, Color: red}, 1)
	for _, p := range [][2]int{{14, 10}, {6, 10}, {10, 14}, {10, 6}} {
		if c.At(p[0], p[1]) != red {
			t.Fatalf("ring pixel %v missing", p)
		}
	}
	if c.At(10, 10) == red {
		t.Fatalf("ring should be hollow")
	}
}
