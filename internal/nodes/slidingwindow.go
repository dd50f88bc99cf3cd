package nodes

import (
	"context"
	"image"

	"github.com/disintegration/imaging"

	"github.com/openterrain/geodetect/internal/graph"
	"github.com/openterrain/geodetect/internal/window"
)

// SlidingWindow feeds candidate subsets to the detector. It publishes the
// total window count for the run up front, counts every subset it forwards,
// and optionally resamples each window down to the model's input size.
//
// buffer is the window read-ahead capacity, the assembler's share of the
// cache budget for this stage.
//
// Attributes: "aoi" (image.Rectangle), "plan" (window.Plan),
// "resampledSize" (image.Point, zero when windows already match the model).
//
// Metrics: "total", "forwarded".
func SlidingWindow(name string, buffer int) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		aoi := attrRect(n, "aoi")
		plan, _ := n.Attr("plan").(window.Plan)
		resampled := attrPoint(n, "resampledSize")

		n.Metric("total").Set(int64(plan.Count(aoi)))
		forwarded := n.Metric("forwarded")

		for {
			v, ok := n.Recv(ctx, PortSubsets)
			if !ok {
				return ctx.Err()
			}
			s := v.(Subset)
			if resampled != (image.Point{}) && s.Rect.Size() != resampled {
				s.Image = imaging.Resize(s.Image, resampled.X, resampled.Y, imaging.Lanczos)
			}
			forwarded.Add(1)
			if !n.Send(ctx, PortSubsets, s) {
				return ctx.Err()
			}
		}
	})
	n.DeclareInputBuffered(PortSubsets, buffer)
	n.DeclareOutput(PortSubsets)
	return n
}
