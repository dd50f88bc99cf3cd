package nodes

import (
	"context"
	"image"
	"image/draw"

	"github.com/openterrain/geodetect/internal/graph"
)

// SubsetWithBorder pads subsets whose available pixels stop short of the
// target rectangle. Edge windows come out of the cache clipped to the area
// of interest; detectors expect every window at its full size, so missing
// rows and columns are filled with black.
//
// When windows will be resampled before detection, the "paddedSize"
// attribute raises the target to the model's native input size: windows
// smaller than it grow (keeping their origin) so the detector always sees
// the size it was trained on.
//
// Attributes: "paddedSize" (image.Point, optional).
func SubsetWithBorder(name string) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		padded := attrPoint(n, "paddedSize")
		for {
			v, ok := n.Recv(ctx, PortSubsets)
			if !ok {
				return ctx.Err()
			}
			s := v.(Subset)
			target := s.Rect
			if padded != (image.Point{}) {
				if d := padded.X - target.Dx(); d > 0 {
					target.Max.X += d
				}
				if d := padded.Y - target.Dy(); d > 0 {
					target.Max.Y += d
				}
			}
			if s.Image.Bounds() != target {
				out := image.NewNRGBA(target)
				draw.Draw(out, s.Image.Bounds(), s.Image, s.Image.Bounds().Min, draw.Src)
				s.Image = out
				s.Rect = target
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
