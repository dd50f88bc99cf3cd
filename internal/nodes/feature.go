package nodes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/openterrain/geodetect/internal/geometry"
	"github.com/openterrain/geodetect/internal/graph"
	"github.com/openterrain/geodetect/internal/model"
)

// Geometry types the feature stage can emit.
const (
	GeometryPolygon = "polygon"
	GeometryPoint   = "point"
)

// ProducerInfo identifies who and what produced a run's features.
type ProducerInfo struct {
	Username    string
	Application string
	Version     string
}

// PredictionToFeature turns predictions into GeoJSON features. Pixel
// geometry is pushed through the run's pixel-to-geographic chain; point
// output uses the prediction's centroid. Each feature gets a unique id, the
// detection's label, confidence and ranked scores, a detection timestamp,
// producer fields, any configured extra fields, and a per-label fill color.
//
// Attributes: "pixelToGeo" (geometry.Chain), "geometryType" (string),
// "labels" ([]string), "producer" (ProducerInfo), "extraFields"
// (map[string]string), "runID" (string).
func PredictionToFeature(name string) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		chain, _ := n.Attr("pixelToGeo").(geometry.Chain)
		geomType, _ := n.Attr("geometryType").(string)
		labels, _ := n.Attr("labels").([]string)
		producer, _ := n.Attr("producer").(ProducerInfo)
		extra, _ := n.Attr("extraFields").(map[string]string)
		runID, _ := n.Attr("runID").(string)
		if geomType == "" {
			geomType = GeometryPolygon
		}

		colors := labelColors(labels)

		for {
			v, ok := n.Recv(ctx, PortPredictions)
			if !ok {
				return ctx.Err()
			}
			p := v.(Prediction)

			f := geojson.NewFeature(featureGeometry(p, geomType, chain))
			f.ID = uuid.NewString()
			f.Properties["top_cat"] = p.Label
			f.Properties["top_score"] = p.Confidence
			f.Properties["top_five"] = formatScores(p.TopN)
			f.Properties["date"] = time.Now().UTC().Format(time.RFC3339)
			f.Properties["fill_color"] = colors[p.Label]
			if runID != "" {
				f.Properties["run_id"] = runID
			}
			if producer.Username != "" {
				f.Properties["username"] = producer.Username
			}
			if producer.Application != "" {
				f.Properties["app"] = producer.Application
				f.Properties["app_ver"] = producer.Version
			}
			for k, val := range extra {
				f.Properties[k] = val
			}

			if !n.Send(ctx, PortFeatures, f) {
				return ctx.Err()
			}
		}
	})
	n.DeclareInput(PortPredictions)
	n.DeclareOutput(PortFeatures)
	return n
}

// featureGeometry converts a prediction's pixel geometry to geographic
// coordinates in the requested shape.
func featureGeometry(p Prediction, geomType string, chain geometry.Chain) orb.Geometry {
	if geomType == GeometryPoint {
		center := p.Box.Min.Add(p.Box.Max).Div(2)
		return chain.Forward(orb.Point{float64(center.X), float64(center.Y)})
	}
	poly := p.Polygon
	if poly == nil {
		minX, minY := float64(p.Box.Min.X), float64(p.Box.Min.Y)
		maxX, maxY := float64(p.Box.Max.X), float64(p.Box.Max.Y)
		poly = orb.Polygon{{
			{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
		}}
	}
	return geometry.TransformPolygon(chain, poly)
}

// labelColors assigns each label a stable fill color from a generated
// palette. Labels are sorted so the same model always maps the same label to
// the same palette slot within a run.
func labelColors(labels []string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)
	palette := colorful.FastHappyPalette(len(sorted))
	colors := make(map[string]string, len(sorted))
	for i, label := range sorted {
		colors[label] = palette[i].Hex()
	}
	return colors
}

// formatScores renders the ranked score list as "label:score" pairs.
func formatScores(scores []model.Score) string {
	parts := make([]string, 0, len(scores))
	for _, s := range scores {
		parts = append(parts, fmt.Sprintf("%s:%.3f", s.Label, s.Value))
	}
	return strings.Join(parts, ";")
}
