package nodes

import (
	"context"
	"image"
	"sort"

	"github.com/openterrain/geodetect/internal/graph"
)

// defaultOverlap is the suppression threshold used when none is configured.
const defaultOverlap = 0.3

// NonMaxSuppression collects every prediction, then greedily suppresses
// lower-confidence predictions of the same label whose overlap with an
// already kept one exceeds the threshold. Overlap is intersection over
// union of the pixel boxes; for segmentation output the polygon's bounding
// rectangle stands in for the box.
//
// Attributes: "overlapThreshold" (float64 in (0,1]).
func NonMaxSuppression(name string) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		threshold := attrFloat(n, "overlapThreshold", defaultOverlap)

		var all []Prediction
		for {
			v, ok := n.Recv(ctx, PortPredictions)
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				break
			}
			all = append(all, v.(Prediction))
		}

		sort.SliceStable(all, func(i, j int) bool {
			return all[i].Confidence > all[j].Confidence
		})

		var kept []Prediction
		for _, cand := range all {
			suppressed := false
			for _, k := range kept {
				if k.Label == cand.Label && iou(predBounds(k), predBounds(cand)) > threshold {
					suppressed = true
					break
				}
			}
			if !suppressed {
				kept = append(kept, cand)
			}
		}

		for _, p := range kept {
			if !n.Send(ctx, PortPredictions, p) {
				return ctx.Err()
			}
		}
		return nil
	})
	n.DeclareInput(PortPredictions)
	n.DeclareOutput(PortPredictions)
	return n
}

// predBounds is the suppression rectangle of a prediction. Segmentation
// outlines can extend past the detection box, so prefer the polygon bounds
// when present.
func predBounds(p Prediction) image.Rectangle {
	if p.Polygon != nil {
		var r image.Rectangle
		for i, pt := range p.Polygon[0] {
			px := image.Pt(int(pt[0]), int(pt[1]))
			if i == 0 {
				r = image.Rectangle{Min: px, Max: px.Add(image.Pt(1, 1))}
				continue
			}
			r = r.Union(image.Rectangle{Min: px, Max: px.Add(image.Pt(1, 1))})
		}
		return r
	}
	return p.Box
}

// iou is intersection over union of two rectangles.
func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}
