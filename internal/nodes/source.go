package nodes

import (
	"context"
	"fmt"
	"image"

	"github.com/openterrain/geodetect/internal/graph"
	"github.com/openterrain/geodetect/internal/raster"
)

// BlockSize is the tile edge local sources read the raster in.
const BlockSize = 512

// LocalSource creates the block source for a local raster file. It reads the
// dataset through the shared cache (the assembler already opened it for
// extent resolution) and emits blocks tiling the area of interest.
//
// Attributes: "path" (string), "aoi" (image.Rectangle).
func LocalSource(name string, cache *raster.Cache) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		path, _ := n.Attr("path").(string)
		aoi := attrRect(n, "aoi")

		ds, err := cache.Open(path)
		if err != nil {
			return fmt.Errorf("block source: %w", err)
		}

		sub, ok := ds.Image.(interface {
			SubImage(image.Rectangle) image.Image
		})
		for y := aoi.Min.Y; y < aoi.Max.Y; y += BlockSize {
			for x := aoi.Min.X; x < aoi.Max.X; x += BlockSize {
				if n.Stopped() {
					return nil
				}
				rect := image.Rect(x, y, x+BlockSize, y+BlockSize).Intersect(aoi)
				var blockImg image.Image
				if ok {
					blockImg = sub.SubImage(rect)
				} else {
					blockImg = copyRegion(ds.Image, rect)
				}
				if !n.Send(ctx, PortBlocks, Block{Rect: rect, Image: blockImg}) {
					return ctx.Err()
				}
			}
		}
		return nil
	})
	n.DeclareOutput(PortBlocks)
	return n
}

// copyRegion extracts a rectangle from an image that cannot share backing
// storage through SubImage.
func copyRegion(src image.Image, rect image.Rectangle) image.Image {
	out := image.NewNRGBA(rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			out.Set(x, y, src.At(x, y))
		}
	}
	return out
}
