// Package window computes the multi-scale sliding-window plan: the ordered
// set of (size, step) pairs the sliding-window stage scans the image with.
//
// Users may supply zero, one, or many window widths and step widths. Heights
// are always derived from widths through the model's fixed aspect ratio, so
// the plan is expressed in widths and the vertical components follow.
package window

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrCountMismatch is returned when both the width list and the step list
// have more than one entry but their lengths differ, making element-wise
// pairing ambiguous.
var ErrCountMismatch = errors.New("number of window sizes and window steps must match")

// Spec is one sliding pass: a window size and the step between consecutive
// windows, both in pixels.
type Spec struct {
	Size image.Point
	Step image.Point
}

// Plan is the ordered sequence of sliding passes. Multi-scale detection runs
// one pass per spec, in order.
type Plan []Spec

// Planner derives the window plan from the user's requested widths and the
// model's defaults.
type Planner struct {
	// Sizes and Steps are the user-requested window widths and step widths,
	// in input order. Either may be empty.
	Sizes []int
	Steps []int

	// ResampleSize is the requested resample width, or 0 when windows are fed
	// to the model at their native size.
	ResampleSize int

	// ModelSize is the model's fixed input size.
	ModelSize image.Point

	// AspectRatio is height/width of the model input, used to derive vertical
	// extents from requested widths.
	AspectRatio float64

	// DefaultStep returns the model's recommended step for a window size.
	// When nil, the window size itself is used (no overlap).
	DefaultStep func(size image.Point) image.Point
}

// scale derives a (width, height) pair from a width using the aspect ratio.
func (p *Planner) scale(width int) image.Point {
	return image.Pt(width, int(math.Round(p.AspectRatio*float64(width))))
}

// PrimarySize is the fallback window size: the first user width when any was
// given, else the resample size when one was requested, else the model's
// native size. It also anchors border padding and region-filter resolution.
func (p *Planner) PrimarySize() image.Point {
	switch {
	case len(p.Sizes) > 0:
		return p.scale(p.Sizes[0])
	case p.ResampleSize > 0:
		return p.scale(p.ResampleSize)
	default:
		return p.ModelSize
	}
}

// PrimaryStep is the fallback step: the first user step when any was given,
// else the model's recommended step for the primary size.
func (p *Planner) PrimaryStep() image.Point {
	if len(p.Steps) > 0 {
		return p.scale(p.Steps[0])
	}
	return p.defaultStep(p.PrimarySize())
}

func (p *Planner) defaultStep(size image.Point) image.Point {
	if p.DefaultStep != nil {
		return p.DefaultStep(size)
	}
	return size
}

// Plan computes the ordered window plan.
//
// Equal-length non-empty lists pair element-wise in input order. A
// multi-valued size list against zero or one steps broadcasts the primary
// step; a multi-valued step list against zero or one sizes broadcasts the
// primary size. With neither list multi-valued, the plan is the single
// primary pair. Both lists multi-valued with different lengths is
// ErrCountMismatch.
func (p *Planner) Plan() (Plan, error) {
	if len(p.Sizes) > 1 && len(p.Steps) > 1 && len(p.Sizes) != len(p.Steps) {
		return nil, fmt.Errorf("%w: %d sizes, %d steps", ErrCountMismatch, len(p.Sizes), len(p.Steps))
	}

	switch {
	case len(p.Sizes) == len(p.Steps) && len(p.Steps) > 0:
		plan := make(Plan, len(p.Sizes))
		for i := range p.Sizes {
			plan[i] = Spec{Size: p.scale(p.Sizes[i]), Step: p.scale(p.Steps[i])}
		}
		return plan, nil

	case len(p.Sizes) > 1:
		step := p.PrimaryStep()
		plan := make(Plan, len(p.Sizes))
		for i, w := range p.Sizes {
			plan[i] = Spec{Size: p.scale(w), Step: step}
		}
		return plan, nil

	case len(p.Steps) > 1:
		size := p.PrimarySize()
		plan := make(Plan, len(p.Steps))
		for i, s := range p.Steps {
			plan[i] = Spec{Size: size, Step: p.scale(s)}
		}
		return plan, nil

	default:
		return Plan{{Size: p.PrimarySize(), Step: p.PrimaryStep()}}, nil
	}
}

// Count returns the number of windows the plan generates over an area of
// interest. Window origins step across the area; a window may extend past
// the right and bottom edges (the border stage pads those).
func (pl Plan) Count(aoi image.Rectangle) int {
	n := 0
	for _, spec := range pl {
		n += countAxis(aoi.Dx(), spec.Step.X) * countAxis(aoi.Dy(), spec.Step.Y)
	}
	return n
}

func countAxis(extent, step int) int {
	if extent <= 0 || step <= 0 {
		return 0
	}
	return (extent + step - 1) / step
}
