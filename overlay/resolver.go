package overlay

import (
	"image"

	"gripview/report"
)

// NoImageMessage is shown before the first frame or error arrives.
const NoImageMessage = "No image available"

// Resolver produces shapes for reports using an ordered schema list.
type Resolver struct {
	schemas []Schema
}

// NewResolver uses the given schemas, or Schemas when none are passed.
func NewResolver(schemas ...Schema) *Resolver {
	if len(schemas) == 0 {
		schemas = Schemas
	}
	return &Resolver{schemas: schemas}
}

// Purpose: Build the shapes for one report from its live table.
// Key aspects: Hidden reports are skipped without reading the table;
// unrecognized layouts yield nothing.
// Upstream: Compose, headless summaries.
// Downstream: Classify, Schema.Build.
func (r *Resolver) Resolve(rep report.Report) []Primitive {
	if !rep.Visible || rep.Table == nil {
		return nil
	}
	s, ok := Classify(r.schemas, rep.Table.Keys())
	if !ok {
		return nil
	}
	return s.Build(rep.Table, rep.Color.Color)
}

// ResolveAll concatenates shapes for reports in order.
func (r *Resolver) ResolveAll(reps []report.Report) []Primitive {
	var out []Primitive
	for _, rep := range reps {
		out = append(out, r.Resolve(rep)...)
	}
	return out
}

// Scene is everything a render sink needs for one paint.
type Scene struct {
	Frame     image.Image
	Err       string
	Transform Transform
	// Stroke is the frame-native line width that paints as BaseStrokeWidth.
	Stroke float64
	// Shapes are already placed in viewport coordinates.
	Shapes []Primitive
}

// Message is the text to show when there is no frame.
func (s Scene) Message() string {
	if s.Err != "" {
		return s.Err
	}
	return NoImageMessage
}

// Purpose: Assemble a paintable scene from the latest frame and report snapshot.
// Key aspects: Shapes are only produced when a frame exists; an error-only
// scene carries just the message.
// Upstream: dashboard frame view, headless sink.
// Downstream: Fit, ResolveAll, Primitive.Place.
func (r *Resolver) Compose(frame image.Image, errMsg string, reps []report.Report, viewW, viewH int) Scene {
	if frame == nil {
		return Scene{Err: errMsg}
	}
	b := frame.Bounds()
	t := Fit(b.Dx(), b.Dy(), viewW, viewH)
	scene := Scene{Frame: frame, Transform: t, Stroke: t.Stroke(BaseStrokeWidth)}
	for _, p := range r.ResolveAll(reps) {
		scene.Shapes = append(scene.Shapes, p.Place(t))
	}
	return scene
}
