package geometry

import (
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"gonum.org/v1/gonum/mat"
)

// Transform maps points from one coordinate space to another. Implementations
// must be invertible; Inverse returns a transform that undoes Forward.
type Transform interface {
	Forward(p orb.Point) orb.Point
	Inverse() Transform
}

// Chain is an ordered, composable sequence of transforms. Forward applies the
// members first to last; Inverse reverses the order and inverts each member.
type Chain []Transform

// Forward applies every transform in the chain in order.
func (c Chain) Forward(p orb.Point) orb.Point {
	for _, t := range c {
		p = t.Forward(p)
	}
	return p
}

// Inverse returns a chain that applies each member's inverse in reverse order.
func (c Chain) Inverse() Transform {
	inv := make(Chain, 0, len(c))
	for i := len(c) - 1; i >= 0; i-- {
		inv = append(inv, c[i].Inverse())
	}
	return inv
}

// Append returns a new chain with t applied after the existing members.
// The receiver is not modified.
func (c Chain) Append(t Transform) Chain {
	out := make(Chain, len(c), len(c)+1)
	copy(out, c)
	return append(out, t)
}

// Identity is the no-op transform.
type Identity struct{}

func (Identity) Forward(p orb.Point) orb.Point { return p }
func (Identity) Inverse() Transform            { return Identity{} }

// Affine is a 2D affine transform backed by a 3x3 homogeneous matrix:
//
//	| a  b  c |   | x |
//	| d  e  f | × | y |
//	| 0  0  1 |   | 1 |
//
// World files and raster geotransforms map onto this directly.
type Affine struct {
	m   *mat.Dense
	inv *mat.Dense
}

// NewAffine builds an affine transform from its six coefficients:
// x' = a·x + b·y + c and y' = d·x + e·y + f. Returns an error if the
// transform is singular (not invertible).
func NewAffine(a, b, c, d, e, f float64) (*Affine, error) {
	m := mat.NewDense(3, 3, []float64{
		a, b, c,
		d, e, f,
		0, 0, 1,
	})
	inv := mat.NewDense(3, 3, nil)
	if err := inv.Inverse(m); err != nil {
		return nil, fmt.Errorf("affine transform is not invertible: %w", err)
	}
	return &Affine{m: m, inv: inv}, nil
}

// Forward applies the affine transform to a point.
func (a *Affine) Forward(p orb.Point) orb.Point {
	return orb.Point{
		a.m.At(0, 0)*p[0] + a.m.At(0, 1)*p[1] + a.m.At(0, 2),
		a.m.At(1, 0)*p[0] + a.m.At(1, 1)*p[1] + a.m.At(1, 2),
	}
}

// Inverse returns the inverse affine transform.
func (a *Affine) Inverse() Transform {
	return &Affine{m: a.inv, inv: a.m}
}

// ToMercator projects WGS84 lon/lat to Web Mercator meters.
type ToMercator struct{}

func (ToMercator) Forward(p orb.Point) orb.Point { return project.WGS84.ToMercator(p) }
func (ToMercator) Inverse() Transform            { return FromMercator{} }

// FromMercator projects Web Mercator meters to WGS84 lon/lat.
type FromMercator struct{}

func (FromMercator) Forward(p orb.Point) orb.Point { return project.Mercator.ToWGS84(p) }
func (FromMercator) Inverse() Transform            { return ToMercator{} }

// TransformBound maps a bound through t by transforming its four corners and
// taking the envelope. Exact for axis-preserving transforms; a conservative
// envelope otherwise.
func TransformBound(t Transform, b orb.Bound) orb.Bound {
	corners := [4]orb.Point{
		t.Forward(b.Min),
		t.Forward(orb.Point{b.Min[0], b.Max[1]}),
		t.Forward(orb.Point{b.Max[0], b.Min[1]}),
		t.Forward(b.Max),
	}
	out := orb.Bound{Min: corners[0], Max: corners[0]}
	for _, c := range corners[1:] {
		out = out.Extend(c)
	}
	return out
}

// TransformRing maps every point of a ring through t, returning a new ring.
func TransformRing(t Transform, r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[i] = t.Forward(p)
	}
	return out
}

// TransformPolygon maps every ring of a polygon through t.
func TransformPolygon(t Transform, poly orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, r := range poly {
		out[i] = TransformRing(t, r)
	}
	return out
}

// BoundToRect converts a bound in continuous pixel coordinates to an integer
// pixel rectangle, rounding to the nearest pixel.
func BoundToRect(b orb.Bound) image.Rectangle {
	return image.Rect(
		int(math.Round(b.Min[0])),
		int(math.Round(b.Min[1])),
		int(math.Round(b.Max[0])),
		int(math.Round(b.Max[1])),
	)
}

// RectToBound converts an integer pixel rectangle to a float bound.
func RectToBound(r image.Rectangle) orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(r.Min.X), float64(r.Min.Y)},
		Max: orb.Point{float64(r.Max.X), float64(r.Max.Y)},
	}
}
