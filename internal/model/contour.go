package model

import (
	"image"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// contourDetector is the built-in detector used when no external inference
// engine backs the model package. It finds high-contrast blobs through edge
// detection and contour analysis and classifies them against the label set
// by fill color, which makes runs deterministic and self-contained — useful
// for pipeline validation and for imagery QA without GPU inference.
//
// # Algorithm
//
//  1. Noise reduction: Gaussian blur
//  2. Edge response: convolution edge detection, thresholded to a binary map
//  3. Contour finding: 8-connected flood fill groups edge pixels
//  4. Scoring: contour length against the bounding-box perimeter
//  5. Classification: the fill color at the blob center is matched to a
//     deterministic per-label palette in Lab space
//
// Segmentation-capable variants additionally produce the blob outline as a
// polygon: convex hull of the contour, simplified with Douglas-Peucker.
type contourDetector struct {
	meta       *Metadata
	confidence float64
	seg        *SegmentationParams
	palette    []colorful.Color
}

func newContourDetector(meta *Metadata, confidence float64, seg *SegmentationParams) *contourDetector {
	return &contourDetector{
		meta:       meta,
		confidence: confidence,
		seg:        seg,
		palette:    colorful.FastHappyPalette(len(meta.Labels)),
	}
}

func (d *contourDetector) Metadata() *Metadata { return d.meta }

// edgeThreshold is the binary cutoff applied to the edge response.
const edgeThreshold = 48

// minContourSize discards tiny contours as noise.
const minContourSize = 10

func (d *contourDetector) Detect(img image.Image) ([]Detection, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, nil
	}

	response := effect.Grayscale(effect.EdgeDetection(blur.Gaussian(img, 1.4), 1.0))
	edges := make([][]bool, height)
	for y := 0; y < height; y++ {
		edges[y] = make([]bool, width)
		for x := 0; x < width; x++ {
			// Grayscale output has equal channels; the red one stands in
			// for intensity.
			edges[y][x] = response.RGBAAt(x, y).R > edgeThreshold
		}
	}

	var detections []Detection
	for _, contour := range mergeContours(findContours(edges, width, height)) {
		det, ok := d.analyze(img, contour)
		if ok {
			detections = append(detections, det)
		}
	}

	// Largest detections first, matching the usual review order.
	sort.Slice(detections, func(i, j int) bool {
		a, b := detections[i].Box, detections[j].Box
		return a.Dx()*a.Dy() > b.Dx()*b.Dy()
	})
	return detections, nil
}

// analyze turns one contour into a detection, or reports false when it fails
// the confidence threshold or segmentation area cutoff.
func (d *contourDetector) analyze(img image.Image, contour []image.Point) (Detection, bool) {
	box := boundingBox(contour)
	if box.Dx() < 2 || box.Dy() < 2 {
		return Detection{}, false
	}

	// Contour length against the box perimeter: a clean outline stays near
	// the perimeter (edge responses a few pixels thick still score well),
	// while ragged scribbles and sparse noise fall off in either direction.
	perimeter := float64(2 * (box.Dx() + box.Dy()))
	length := float64(len(contour))
	confidence := math.Min(length, perimeter) / math.Max(length, perimeter)
	if confidence < d.confidence {
		return Detection{}, false
	}

	label, topN := d.classify(img, box)
	det := Detection{
		Box:        box,
		Label:      label,
		Confidence: confidence,
		TopN:       topN,
	}

	if d.seg != nil {
		poly, ok := d.outline(contour)
		if !ok {
			return Detection{}, false
		}
		det.Polygon = poly
	}
	return det, true
}

// classify matches the fill color at the box center against the per-label
// palette, ranking every label by Lab-space proximity.
func (d *contourDetector) classify(img image.Image, box image.Rectangle) (string, []Score) {
	center := image.Pt((box.Min.X+box.Max.X)/2, (box.Min.Y+box.Max.Y)/2)
	fill, ok := colorful.MakeColor(img.At(center.X+img.Bounds().Min.X, center.Y+img.Bounds().Min.Y))
	if !ok {
		fill = colorful.Color{}
	}

	scores := make([]Score, len(d.meta.Labels))
	total := 0.0
	for i, label := range d.meta.Labels {
		proximity := 1.0 / (1.0 + fill.DistanceLab(d.palette[i]))
		scores[i] = Score{Label: label, Value: proximity}
		total += proximity
	}
	for i := range scores {
		scores[i].Value /= total
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Value > scores[j].Value })
	return scores[0].Label, scores
}

// outline converts a contour to a simplified polygon ring.
func (d *contourDetector) outline(contour []image.Point) (orb.Polygon, bool) {
	hull := convexHull(contour)
	if len(hull) < 3 {
		return nil, false
	}
	ring := make(orb.Ring, 0, len(hull)+1)
	for _, p := range hull {
		ring = append(ring, orb.Point{float64(p.X), float64(p.Y)})
	}
	ring = append(ring, ring[0])

	if d.seg.Epsilon > 0 {
		ring = simplify.DouglasPeucker(d.seg.Epsilon).Ring(ring)
		if len(ring) < 4 {
			return nil, false
		}
	}
	poly := orb.Polygon{ring}
	if d.seg.MinArea > 0 && math.Abs(planar.Area(poly)) < d.seg.MinArea {
		return nil, false
	}
	return poly, true
}

// boundingBox is the pixel-inclusive bounding rectangle of a contour.
func boundingBox(contour []image.Point) image.Rectangle {
	minX, minY := math.MaxInt, math.MaxInt
	maxX, maxY := 0, 0
	for _, p := range contour {
		minX = min(minX, p.X)
		maxX = max(maxX, p.X)
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// mergeGap is the maximum bounding-box separation at which two contours are
// considered sides of the same object.
const mergeGap = 4

// mergeContours joins contours whose bounding boxes touch or nearly touch.
// The thresholded edge response around a single object often breaks at the
// corners, leaving one strip per side; joining adjacent strips restores the
// full outline before analysis.
func mergeContours(contours [][]image.Point) [][]image.Point {
	boxes := make([]image.Rectangle, len(contours))
	for i, c := range contours {
		boxes[i] = boundingBox(c)
	}
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(contours); i++ {
			for j := i + 1; j < len(contours); j++ {
				if !boxes[i].Inset(-mergeGap).Overlaps(boxes[j]) {
					continue
				}
				contours[i] = append(contours[i], contours[j]...)
				boxes[i] = boxes[i].Union(boxes[j])
				contours = append(contours[:j], contours[j+1:]...)
				boxes = append(boxes[:j], boxes[j+1:]...)
				merged = true
				j--
			}
		}
	}
	return contours
}

// findContours groups connected edge pixels into contours with an iterative
// 8-connected flood fill.
func findContours(edges [][]bool, width, height int) [][]image.Point {
	visited := make([][]bool, height)
	for y := range visited {
		visited[y] = make([]bool, width)
	}

	var contours [][]image.Point
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !edges[y][x] || visited[y][x] {
				continue
			}
			var contour []image.Point
			stack := []image.Point{{X: x, Y: y}}
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
					continue
				}
				if visited[p.Y][p.X] || !edges[p.Y][p.X] {
					continue
				}
				visited[p.Y][p.X] = true
				contour = append(contour, p)
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						stack = append(stack, image.Pt(p.X+dx, p.Y+dy))
					}
				}
			}
			if len(contour) >= minContourSize {
				contours = append(contours, contour)
			}
		}
	}
	return contours
}

// convexHull computes the convex hull of a point set with the monotone chain
// algorithm, returned in counter-clockwise order without the closing point.
func convexHull(points []image.Point) []image.Point {
	if len(points) < 3 {
		return nil
	}
	pts := make([]image.Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})

	cross := func(o, a, b image.Point) int {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	var lower []image.Point
	for _, p := range pts {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	var upper []image.Point
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}
	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}
