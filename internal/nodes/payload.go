package nodes

import (
	"image"

	"github.com/openterrain/geodetect/internal/graph"
	"github.com/openterrain/geodetect/internal/model"
	"github.com/openterrain/geodetect/internal/window"
)

// Port names shared across the pipeline.
const (
	PortBlocks      = "blocks"
	PortSubsets     = "subsets"
	PortPredictions = "predictions"
	PortFeatures    = "features"
)

// Block is a rectangle of raster data read from a source.
type Block struct {
	Rect  image.Rectangle
	Image image.Image
}

// Subset is a candidate window region: the intended window rectangle (which
// may overhang the area of interest near edges) and the pixels available for
// it. Image bounds may be smaller than Rect until the border stage pads them.
type Subset struct {
	Rect  image.Rectangle
	Spec  window.Spec
	Image image.Image
}

// Prediction is one detection in absolute pixel coordinates.
type Prediction struct {
	model.Detection
}

// attrFloat reads a float64 attribute with a fallback.
func attrFloat(n *graph.Node, key string, fallback float64) float64 {
	if v, ok := n.Attr(key).(float64); ok {
		return v
	}
	return fallback
}

// attrRect reads an image.Rectangle attribute.
func attrRect(n *graph.Node, key string) image.Rectangle {
	v, _ := n.Attr(key).(image.Rectangle)
	return v
}

// attrPoint reads an image.Point attribute.
func attrPoint(n *graph.Node, key string) image.Point {
	v, _ := n.Attr(key).(image.Point)
	return v
}
