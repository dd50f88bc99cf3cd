package nodes

import (
	"context"

	"github.com/openterrain/geodetect/internal/graph"
)

// Label filter modes.
const (
	LabelInclude = "include"
	LabelExclude = "exclude"
)

// LabelFilter passes or drops predictions by their top label.
//
// Attributes: "labels" (map[string]bool), "mode" (LabelInclude or
// LabelExclude).
func LabelFilter(name string) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		labels, _ := n.Attr("labels").(map[string]bool)
		mode, _ := n.Attr("mode").(string)
		for {
			v, ok := n.Recv(ctx, PortPredictions)
			if !ok {
				return ctx.Err()
			}
			p := v.(Prediction)
			listed := labels[p.Label]
			if (mode == LabelInclude && !listed) || (mode == LabelExclude && listed) {
				continue
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
