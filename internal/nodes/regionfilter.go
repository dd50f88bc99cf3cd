package nodes

import (
	"context"

	"github.com/openterrain/geodetect/internal/graph"
	"github.com/openterrain/geodetect/internal/region"
)

// SubsetRegionFilter drops subsets whose window rectangle falls entirely
// outside the run's region filter.
//
// Attributes: "filter" (*region.Filter).
func SubsetRegionFilter(name string) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		filter, _ := n.Attr("filter").(*region.Filter)
		for {
			v, ok := n.Recv(ctx, PortSubsets)
			if !ok {
				return ctx.Err()
			}
			s := v.(Subset)
			if filter != nil && !filter.Covers(s.Rect) {
				continue
			}
			if !n.Send(ctx, PortSubsets, s) {
				return ctx.Err()
			}
		}
	})
	n.DeclareInput(PortSubsets)
	n.DeclareOutput(PortSubsets)
	return n
}
