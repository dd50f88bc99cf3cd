package nodes

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/openterrain/geodetect/internal/graph"
)

// BoxToPolygon rewrites box-only predictions as closed rectangular polygons
// so the feature stage can emit polygon geometry. Predictions that already
// carry an outline pass through unchanged.
func BoxToPolygon(name string) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		for {
			v, ok := n.Recv(ctx, PortPredictions)
			if !ok {
				return ctx.Err()
			}
			p := v.(Prediction)
			if p.Polygon == nil {
				minX, minY := float64(p.Box.Min.X), float64(p.Box.Min.Y)
				maxX, maxY := float64(p.Box.Max.X), float64(p.Box.Max.Y)
				p.Polygon = orb.Polygon{{
					{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
				}}
			}
			if !n.Send(ctx, PortPredictions, p) {
				return ctx.Err()
			}
		}
	})
	n.DeclareInput(PortPredictions)
	n.DeclareOutput(PortPredictions)
	return n
}
