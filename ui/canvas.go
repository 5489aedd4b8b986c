package ui

import (
	"image"
	"image/color"
	"math"

	"gripview/overlay"

	"github.com/gdamore/tcell/v2"
)

// upperHalfBlock paints the top pixel in the foreground colour and the bottom
// pixel in the background colour, giving two square-ish pixels per cell.
const upperHalfBlock = '▀'

var canvasBackground = color.RGBA{A: 255}

// Canvas is an RGBA raster sized in half-block pixels: W columns by H rows,
// where H is twice the number of terminal rows.
type Canvas struct {
	W, H int
	pix  []color.RGBA
}

// NewCanvas allocates a canvas for a cols x rows cell area.
func NewCanvas(cols, rows int) *Canvas {
	c := &Canvas{}
	c.Resize(cols, rows)
	return c
}

// Resize reallocates only when the pixel count grows.
func (c *Canvas) Resize(cols, rows int) {
	if cols < 0 {
		cols = 0
	}
	if rows < 0 {
		rows = 0
	}
	c.W, c.H = cols, rows*2
	n := c.W * c.H
	if cap(c.pix) < n {
		c.pix = make([]color.RGBA, n)
	}
	c.pix = c.pix[:n]
	c.Clear()
}

// Clear fills the canvas with the background colour.
func (c *Canvas) Clear() {
	for i := range c.pix {
		c.pix[i] = canvasBackground
	}
}

// At returns the pixel at (x,y); out-of-range reads return the background.
func (c *Canvas) At(x, y int) color.RGBA {
	if x < 0 || y < 0 || x >= c.W || y >= c.H {
		return canvasBackground
	}
	return c.pix[y*c.W+x]
}

// Set writes one pixel, ignoring out-of-range coordinates.
func (c *Canvas) Set(x, y int, col color.RGBA) {
	if x < 0 || y < 0 || x >= c.W || y >= c.H {
		return
	}
	c.pix[y*c.W+x] = col
}

// Purpose: Paint a frame image through the letterbox transform.
// Key aspects: Nearest-neighbour sampling of the source at each canvas pixel
// centre; pixels outside the letterboxed area stay background.
// Upstream: FrameView.Draw, tests.
// Downstream: image.Image.At.
func (c *Canvas) DrawImage(img image.Image, t overlay.Transform) {
	if img == nil || t.Scale <= 0 {
		return
	}
	b := img.Bounds()
	x0 := int(math.Floor(t.OffsetX))
	y0 := int(math.Floor(t.OffsetY))
	x1 := int(math.Ceil(t.OffsetX + float64(b.Dx())*t.Scale))
	y1 := int(math.Ceil(t.OffsetY + float64(b.Dy())*t.Scale))
	for py := max(y0, 0); py < min(y1, c.H); py++ {
		sy := int((float64(py) + 0.5 - t.OffsetY) / t.Scale)
		if sy < 0 || sy >= b.Dy() {
			continue
		}
		for px := max(x0, 0); px < min(x1, c.W); px++ {
			sx := int((float64(px) + 0.5 - t.OffsetX) / t.Scale)
			if sx < 0 || sx >= b.Dx() {
				continue
			}
			rgba := color.RGBAModel.Convert(img.At(b.Min.X+sx, b.Min.Y+sy)).(color.RGBA)
			rgba.A = 255
			c.pix[py*c.W+px] = rgba
		}
	}
}

// DrawShape rasterizes one placed primitive with the given stroke width in
// canvas pixels.
func (c *Canvas) DrawShape(p overlay.Primitive, width int) {
	width = min(max(width, 1), max(c.W, c.H, 1))
	switch s := p.(type) {
	case overlay.Line:
		c.line(s.X1, s.Y1, s.X2, s.Y2, width, s.Color)
	case overlay.Crosshair:
		c.line(s.X-s.HalfSize, s.Y, s.X+s.HalfSize, s.Y, width, s.Color)
		c.line(s.X, s.Y-s.HalfSize, s.X, s.Y+s.HalfSize, width, s.Color)
	case overlay.Circle:
		c.circle(s.X, s.Y, s.Radius, width, s.Color)
	case overlay.Rect:
		c.line(s.X, s.Y, s.X+s.W, s.Y, width, s.Color)
		c.line(s.X+s.W, s.Y, s.X+s.W, s.Y+s.H, width, s.Color)
		c.line(s.X+s.W, s.Y+s.H, s.X, s.Y+s.H, width, s.Color)
		c.line(s.X, s.Y+s.H, s.X, s.Y, width, s.Color)
	}
}

// DrawScene paints the frame and every shape of a composed scene.
func (c *Canvas) DrawScene(scene overlay.Scene) {
	c.Clear()
	if scene.Frame == nil {
		return
	}
	c.DrawImage(scene.Frame, scene.Transform)
	width := int(math.Round(scene.Stroke * scene.Transform.Scale))
	for _, shape := range scene.Shapes {
		c.DrawShape(shape, width)
	}
}

// Blit copies the canvas into the screen at cell (x,y).
func (c *Canvas) Blit(screen tcell.Screen, x, y int) {
	rows := c.H / 2
	for row := 0; row < rows; row++ {
		for col := 0; col < c.W; col++ {
			top := c.pix[(2*row)*c.W+col]
			bottom := c.pix[(2*row+1)*c.W+col]
			style := tcell.StyleDefault.
				Foreground(tcell.NewRGBColor(int32(top.R), int32(top.G), int32(top.B))).
				Background(tcell.NewRGBColor(int32(bottom.R), int32(bottom.G), int32(bottom.B)))
			screen.SetContent(x+col, y+row, upperHalfBlock, nil, style)
		}
	}
}

// dot stamps a width x width square centred on (x,y).
func (c *Canvas) dot(x, y, width int, col color.RGBA) {
	start := -(width - 1) / 2
	for dy := 0; dy < width; dy++ {
		for dx := 0; dx < width; dx++ {
			c.Set(x+start+dx, y+start+dy, col)
		}
	}
}

// line is Bresenham over rounded endpoints after clipping the segment to the
// canvas grown by the stroke width, so far-off endpoints cost nothing.
func (c *Canvas) line(fx1, fy1, fx2, fy2 float64, width int, col color.RGBA) {
	m := float64(width)
	fx1, fy1, fx2, fy2, ok := clipSegment(fx1, fy1, fx2, fy2, -m, -m, float64(c.W)+m, float64(c.H)+m)
	if !ok {
		return
	}
	x1, y1 := int(math.Round(fx1)), int(math.Round(fy1))
	x2, y2 := int(math.Round(fx2)), int(math.Round(fy2))
	dx := abs(x2 - x1)
	dy := -abs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx + dy
	for {
		c.dot(x1, y1, width, col)
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x1 += sx
		}
		if e2 <= dx {
			err += dx
			y1 += sy
		}
	}
}

// clipSegment is Liang-Barsky against [xmin,xmax] x [ymin,ymax]. It reports
// false when the segment misses the box or any coordinate is not finite.
func clipSegment(x1, y1, x2, y2, xmin, ymin, xmax, ymax float64) (float64, float64, float64, float64, bool) {
	if !finite(x1, y1, x2, y2) {
		return 0, 0, 0, 0, false
	}
	dx, dy := x2-x1, y2-y1
	t0, t1 := 0.0, 1.0
	for _, e := range [4][2]float64{{-dx, x1 - xmin}, {dx, xmax - x1}, {-dy, y1 - ymin}, {dy, ymax - y1}} {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return 0, 0, 0, 0, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return 0, 0, 0, 0, false
			}
			t0 = max(t0, t)
		} else {
			if t < t0 {
				return 0, 0, 0, 0, false
			}
			t1 = min(t1, t)
		}
	}
	cx1, cy1 := x1+t0*dx, y1+t0*dy
	cx2, cy2 := x1+t1*dx, y1+t1*dy
	if !finite(cx1, cy1, cx2, cy2) {
		return 0, 0, 0, 0, false
	}
	// Rounding error can leave a clipped end a hair outside the box.
	clampX := func(v float64) float64 { return min(max(v, xmin), xmax) }
	clampY := func(v float64) float64 { return min(max(v, ymin), ymax) }
	return clampX(cx1), clampY(cy1), clampX(cx2), clampY(cy2), true
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// circle is the midpoint algorithm; a zero radius paints a single dot.
// Rings that cannot touch the canvas are skipped, and rings larger than
// the canvas are traced per row and column so the cost stays bounded.
func (c *Canvas) circle(fcx, fcy, fr float64, width int, col color.RGBA) {
	if !finite(fcx, fcy, fr) || c.W == 0 || c.H == 0 {
		return
	}
	m := float64(width)
	fr = max(fr, 0)
	w, h := float64(c.W), float64(c.H)
	if fcx+fr < -m || fcx-fr > w+m || fcy+fr < -m || fcy-fr > h+m {
		return
	}
	// Every corner inside the ring means the outline is entirely off screen.
	far := 0.0
	for _, corner := range [4][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		far = max(far, math.Hypot(corner[0]-fcx, corner[1]-fcy))
	}
	if fr-m > far {
		return
	}
	if fr > w+h {
		c.traceCircle(fcx, fcy, fr, width, col)
		return
	}

	cx, cy := int(math.Round(fcx)), int(math.Round(fcy))
	r := int(math.Round(fr))
	if r <= 0 {
		c.dot(cx, cy, width, col)
		return
	}
	x, y := r, 0
	d := 1 - r
	for x >= y {
		for _, p := range [8][2]int{{x, y}, {y, x}, {-y, x}, {-x, y}, {-x, -y}, {-y, -x}, {y, -x}, {x, -y}} {
			c.dot(cx+p[0], cy+p[1], width, col)
		}
		y++
		if d < 0 {
			d += 2*y + 1
		} else {
			x--
			d += 2*(y-x) + 1
		}
	}
}

// traceCircle paints where the ring crosses each canvas column and row.
func (c *Canvas) traceCircle(cx, cy, r float64, width int, col color.RGBA) {
	m := float64(width)
	plot := func(x, y float64) {
		if x < -m || y < -m || x > float64(c.W)+m || y > float64(c.H)+m {
			return
		}
		c.dot(int(math.Round(x)), int(math.Round(y)), width, col)
	}
	for px := 0; px < c.W; px++ {
		dx := float64(px) - cx
		if h2 := r*r - dx*dx; h2 >= 0 {
			off := math.Sqrt(h2)
			plot(float64(px), cy-off)
			plot(float64(px), cy+off)
		}
	}
	for py := 0; py < c.H; py++ {
		dy := float64(py) - cy
		if h2 := r*r - dy*dy; h2 >= 0 {
			off := math.Sqrt(h2)
			plot(cx-off, float64(py))
			plot(cx+off, float64(py))
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
