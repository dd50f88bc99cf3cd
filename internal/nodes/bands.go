package nodes

import (
	"context"
	"image"
	"image/color"
	"image/draw"

	"github.com/openterrain/geodetect/internal/graph"
)

// RemoveAlpha flattens blocks from sources that carry an alpha band onto an
// opaque background, so the detector always sees three-band pixels.
func RemoveAlpha(name string) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		for {
			v, ok := n.Recv(ctx, PortBlocks)
			if !ok {
				return ctx.Err()
			}
			b := v.(Block)
			flat := image.NewNRGBA(b.Rect)
			draw.Draw(flat, b.Rect, image.NewUniform(color.White), image.Point{}, draw.Src)
			draw.Draw(flat, b.Rect, b.Image, b.Rect.Min, draw.Over)
			if !n.Send(ctx, PortBlocks, Block{Rect: b.Rect, Image: flat}) {
				return ctx.Err()
			}
		}
	})
	n.DeclareInput(PortBlocks)
	n.DeclareOutput(PortBlocks)
	return n
}
