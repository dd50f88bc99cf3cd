package nodes

import (
	"context"
	"image"
	"image/draw"

	"github.com/openterrain/geodetect/internal/graph"
	"github.com/openterrain/geodetect/internal/window"
)

// BlockCache accumulates incoming blocks into a mosaic of the area of
// interest, then walks the window plan and emits one candidate subset per
// window. Window rectangles near the right and bottom edges may overhang the
// area; the border stage pads those before detection.
//
// buffer is the block read-ahead capacity, the assembler's share of the
// cache budget for this stage: the source can run at most that many blocks
// ahead before backpressure stalls it.
//
// Attributes: "aoi" (image.Rectangle), "plan" (window.Plan).
func BlockCache(name string, buffer int) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		aoi := attrRect(n, "aoi")
		plan, _ := n.Attr("plan").(window.Plan)

		mosaic := image.NewNRGBA(aoi)
		for {
			v, ok := n.Recv(ctx, PortBlocks)
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				break
			}
			b := v.(Block)
			draw.Draw(mosaic, b.Rect, b.Image, b.Rect.Min, draw.Src)
		}

		for _, spec := range plan {
			for y := aoi.Min.Y; y < aoi.Max.Y; y += spec.Step.Y {
				for x := aoi.Min.X; x < aoi.Max.X; x += spec.Step.X {
					if n.Stopped() {
						return nil
					}
					rect := image.Rectangle{
						Min: image.Pt(x, y),
						Max: image.Pt(x+spec.Size.X, y+spec.Size.Y),
					}
					avail := rect.Intersect(aoi)
					sub := Subset{
						Rect:  rect,
						Spec:  spec,
						Image: mosaic.SubImage(avail),
					}
					if !n.Send(ctx, PortSubsets, sub) {
						return ctx.Err()
					}
				}
			}
		}
		return nil
	})
	n.DeclareInputBuffered(PortBlocks, buffer)
	n.DeclareOutput(PortSubsets)
	return n
}
