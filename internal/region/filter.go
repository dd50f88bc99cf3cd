// Package region builds the composite spatial filter that restricts which
// sliding windows are processed. The filter is assembled from an ordered list
// of include/exclude actions, each naming GeoJSON files whose polygons are
// reprojected into pixel space and rasterized into a coverage mask.
package region

import (
	"image"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Filter is a rasterized signed composition of polygons over a pixel-space
// extent. Polygons are sampled onto a grid at window-step resolution; a
// candidate window passes when any covered cell overlaps it.
//
// Build the filter once with Builder.Build; afterwards it is read-only and
// safe for concurrent Covers calls.
type Filter struct {
	extent image.Rectangle
	step   image.Point
	cols   int
	rows   int
	mask   []bool
}

// NewFilter creates an empty filter over extent, sampled at step resolution.
// An empty filter covers nothing.
func NewFilter(extent image.Rectangle, step image.Point) *Filter {
	if step.X < 1 {
		step.X = 1
	}
	if step.Y < 1 {
		step.Y = 1
	}
	cols := (extent.Dx() + step.X - 1) / step.X
	rows := (extent.Dy() + step.Y - 1) / step.Y
	return &Filter{
		extent: extent,
		step:   step,
		cols:   cols,
		rows:   rows,
		mask:   make([]bool, cols*rows),
	}
}

// cellCenter returns the pixel-space center of grid cell (cx, cy), clamped
// into the extent so partial edge cells sample inside the area of interest.
func (f *Filter) cellCenter(cx, cy int) orb.Point {
	x := float64(f.extent.Min.X) + (float64(cx)+0.5)*float64(f.step.X)
	y := float64(f.extent.Min.Y) + (float64(cy)+0.5)*float64(f.step.Y)
	if max := float64(f.extent.Max.X) - 0.5; x > max {
		x = max
	}
	if max := float64(f.extent.Max.Y) - 0.5; y > max {
		y = max
	}
	return orb.Point{x, y}
}

// add marks every cell whose center falls inside any of the polygons.
func (f *Filter) add(polys []orb.Polygon) {
	f.apply(polys, true)
}

// subtract clears every cell whose center falls inside any of the polygons.
func (f *Filter) subtract(polys []orb.Polygon) {
	f.apply(polys, false)
}

func (f *Filter) apply(polys []orb.Polygon, value bool) {
	for cy := 0; cy < f.rows; cy++ {
		for cx := 0; cx < f.cols; cx++ {
			if f.mask[cy*f.cols+cx] == value {
				continue
			}
			center := f.cellCenter(cx, cy)
			for _, poly := range polys {
				if planar.PolygonContains(poly, center) {
					f.mask[cy*f.cols+cx] = value
					break
				}
			}
		}
	}
}

// AddRect marks every cell whose center falls inside the rectangle. Used for
// the automatic full-extent inclusion when an exclude action comes first.
func (f *Filter) AddRect(r image.Rectangle) {
	for cy := 0; cy < f.rows; cy++ {
		for cx := 0; cx < f.cols; cx++ {
			c := f.cellCenter(cx, cy)
			if int(c[0]) >= r.Min.X && int(c[0]) < r.Max.X &&
				int(c[1]) >= r.Min.Y && int(c[1]) < r.Max.Y {
				f.mask[cy*f.cols+cx] = true
			}
		}
	}
}

// Covers reports whether any covered cell overlaps the pixel rectangle.
// This is the "any" filter method: a window is processed when any part of it
// touches an included region.
func (f *Filter) Covers(r image.Rectangle) bool {
	r = r.Intersect(f.extent)
	if r.Empty() {
		return false
	}
	cx1 := (r.Min.X - f.extent.Min.X) / f.step.X
	cy1 := (r.Min.Y - f.extent.Min.Y) / f.step.Y
	cx2 := (r.Max.X - 1 - f.extent.Min.X) / f.step.X
	cy2 := (r.Max.Y - 1 - f.extent.Min.Y) / f.step.Y
	for cy := cy1; cy <= cy2 && cy < f.rows; cy++ {
		for cx := cx1; cx <= cx2 && cx < f.cols; cx++ {
			if f.mask[cy*f.cols+cx] {
				return true
			}
		}
	}
	return false
}

// Empty reports whether the filter covers no cells at all.
func (f *Filter) Empty() bool {
	for _, set := range f.mask {
		if set {
			return false
		}
	}
	return true
}
