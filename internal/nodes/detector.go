package nodes

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"

	"github.com/openterrain/geodetect/internal/graph"
	"github.com/openterrain/geodetect/internal/model"
)

// Detector runs inference on each incoming window and rescales the results
// from window-local coordinates back into absolute pixel space. When windows
// were resampled before detection the model sees a smaller image, so every
// coordinate is scaled by the window/image size ratio before offsetting.
//
// Metrics: "processed".
func Detector(name string, det model.Detector) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		processed := n.Metric("processed")
		for {
			v, ok := n.Recv(ctx, PortSubsets)
			if !ok {
				return ctx.Err()
			}
			s := v.(Subset)

			detections, err := det.Detect(s.Image)
			if err != nil {
				return fmt.Errorf("detector: window at %v: %w", s.Rect.Min, err)
			}
			processed.Add(1)

			sx := float64(s.Rect.Dx()) / float64(s.Image.Bounds().Dx())
			sy := float64(s.Rect.Dy()) / float64(s.Image.Bounds().Dy())
			for _, d := range detections {
				if !n.Send(ctx, PortPredictions, Prediction{rescale(d, sx, sy, s.Rect.Min)}) {
					return ctx.Err()
				}
			}
		}
	})
	n.DeclareInput(PortSubsets)
	n.DeclareOutput(PortPredictions)
	return n
}

// rescale maps a window-local detection into absolute pixel coordinates.
func rescale(d model.Detection, sx, sy float64, offset image.Point) model.Detection {
	d.Box = image.Rect(
		offset.X+int(math.Round(float64(d.Box.Min.X)*sx)),
		offset.Y+int(math.Round(float64(d.Box.Min.Y)*sy)),
		offset.X+int(math.Round(float64(d.Box.Max.X)*sx)),
		offset.Y+int(math.Round(float64(d.Box.Max.Y)*sy)),
	)
	if d.Polygon != nil {
		poly := make(orb.Polygon, len(d.Polygon))
		for i, ring := range d.Polygon {
			out := make(orb.Ring, len(ring))
			for j, pt := range ring {
				out[j] = orb.Point{
					pt[0]*sx + float64(offset.X),
					pt[1]*sy + float64(offset.Y),
				}
			}
			poly[i] = out
		}
		d.Polygon = poly
	}
	return d
}
