package geometry

import (
	"errors"
	"fmt"
	"image"
	"log"

	"github.com/paulmach/orb"
)

// ErrNoIntersection is returned when a user-supplied bounding box does not
// overlap the image extent at all. The run cannot proceed.
var ErrNoIntersection = errors.New("bounding box does not intersect the image")

// Extent is the product of reconciling an image's pixel extent, its spatial
// anchoring, and an optional user bounding box. It is computed once per run
// and read-only afterwards.
type Extent struct {
	// Pixels is the final pixel-space area of interest: the image rectangle,
	// intersected with the user bounding box when one was supplied and
	// convertible. Always non-empty.
	Pixels image.Rectangle

	// PixelToGeo transforms pixel coordinates to the output space: WGS84
	// lon/lat for anchored imagery, native projected units for local imagery.
	PixelToGeo Chain

	// SR is the output spatial reference: WGS84 when the image is anchored,
	// local otherwise.
	SR SpatialReference

	// Adjusted holds the effective bounding box in geographic space when the
	// requested box was clipped against the image; nil when the request was
	// honored exactly or no box was supplied.
	Adjusted *orb.Bound

	// BBoxIgnored reports that a user bounding box was supplied but the image
	// has no geographic anchoring, so the box was discarded with a warning.
	BBoxIgnored bool
}

// ResolveExtent establishes the pixel/projected/geographic relationship for a
// raster of the given size and reconciles the optional user bounding box
// (WGS84 lon/lat) against it.
//
// For anchored imagery the geographic chain is built as
// (fromWGS84 ∘ pixelToProj⁻¹)⁻¹, so PixelToGeo maps pixels to lon/lat. For
// local imagery the output stays in native space; a supplied bounding box
// cannot be converted and is ignored after a warning rather than failing,
// since unanchored imagery is a known degraded mode.
func ResolveExtent(size image.Point, pixelToProj Transform, imageSR SpatialReference, userBBox *orb.Bound) (*Extent, error) {
	ext := &Extent{
		Pixels: image.Rect(0, 0, size.X, size.Y),
	}

	var geoToPixel Chain
	if !imageSR.IsLocal() {
		fromLL, err := imageSR.FromWGS84()
		if err != nil {
			return nil, fmt.Errorf("image spatial reference: %w", err)
		}
		geoToPixel = Chain{fromLL, pixelToProj.Inverse()}
		ext.SR = WGS84
	} else {
		log.Printf("warning: image has no spatial reference; output will be in native space and some output formats will fail")
		if userBBox != nil {
			log.Printf("warning: a bounding box implies a conversion from WGS84 to pixel space, but the image provides none; ignoring the bounding box")
			ext.BBoxIgnored = true
		}
		geoToPixel = Chain{pixelToProj.Inverse()}
		ext.SR = Local
	}

	ext.PixelToGeo = geoToPixel.Inverse().(Chain)

	if userBBox != nil && !ext.BBoxIgnored {
		requested := BoundToRect(TransformBound(geoToPixel, *userBBox))
		intersect := ext.Pixels.Intersect(requested)
		if intersect.Dx() == 0 || intersect.Dy() == 0 {
			return nil, fmt.Errorf("%w: image %v, requested %v", ErrNoIntersection, ext.Pixels, requested)
		}
		if intersect != requested {
			adjusted := TransformBound(ext.PixelToGeo, RectToBound(intersect))
			ext.Adjusted = &adjusted
			log.Printf("bounding box adjusted to %v : %v", adjusted.Min, adjusted.Max)
		}
		ext.Pixels = intersect
	}

	return ext, nil
}
