package model

import (
	"fmt"
	"image"

	"github.com/paulmach/orb"
)

// Score is one entry of a detection's per-label confidence ranking.
type Score struct {
	Label string
	Value float64
}

// Detection is one detected object in window-local pixel coordinates. Box is
// always set; Polygon is set by segmentation-capable detectors and holds the
// pixel-accurate outline.
type Detection struct {
	Box        image.Rectangle
	Polygon    orb.Polygon
	Label      string
	Confidence float64
	TopN       []Score
}

// Detector runs inference on a single window image. Implementations must be
// safe for sequential reuse across windows; the pipeline calls Detect from
// one goroutine.
type Detector interface {
	Detect(img image.Image) ([]Detection, error)
	Metadata() *Metadata
}

// SegmentationParams configures the raster→polygon conversion of
// segmentation outputs.
type SegmentationParams struct {
	// Method selects the simplification method. Only "douglas-peucker" is
	// supported.
	Method string

	// Epsilon is the simplification tolerance in pixels.
	Epsilon float64

	// MinArea discards outlines below this area in square pixels.
	MinArea float64
}

// NewDetector builds the package's detector. Confidence is the minimum
// detection confidence in [0,1]. seg must be non-nil exactly when the model
// category is segmentation; requesting segmentation post-processing from a
// detection model is ErrUnsupportedModelType.
func (p *Package) NewDetector(confidence float64, seg *SegmentationParams) (Detector, error) {
	if seg != nil && p.Metadata.Category != CategorySegmentation {
		return nil, fmt.Errorf("%w: segmentation post-processing requested for a %s model",
			ErrUnsupportedModelType, p.Metadata.Category)
	}
	if p.Metadata.Category == CategorySegmentation && seg == nil {
		seg = &SegmentationParams{Method: "douglas-peucker", Epsilon: 2}
	}
	if seg != nil && seg.Method != "" && seg.Method != "douglas-peucker" {
		return nil, fmt.Errorf("%w: unknown raster-to-polygon method %q", ErrUnsupportedModelType, seg.Method)
	}
	return newContourDetector(&p.Metadata, confidence, seg), nil
}
