package nodes

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openterrain/geodetect/internal/geometry"
	"github.com/openterrain/geodetect/internal/graph"
	"github.com/openterrain/geodetect/internal/model"
	"github.com/openterrain/geodetect/internal/raster"
	"github.com/openterrain/geodetect/internal/region"
	"github.com/openterrain/geodetect/internal/window"
)

// emitter produces a fixed payload sequence on one output port.
func emitter(port string, values []any) *graph.Node {
	n := graph.NewNode("emit", func(ctx context.Context, n *graph.Node) error {
		for _, v := range values {
			if !n.Send(ctx, port, v) {
				return ctx.Err()
			}
		}
		return nil
	})
	n.DeclareOutput(port)
	return n
}

// collector drains one input port into a slice.
func collector(port string, out *[]any) *graph.Node {
	n := graph.NewNode("collect", func(ctx context.Context, n *graph.Node) error {
		for {
			v, ok := n.Recv(ctx, port)
			if !ok {
				return ctx.Err()
			}
			*out = append(*out, v)
		}
	})
	n.DeclareInput(port)
	return n
}

// runThrough wires emitter -> node -> collector and runs the graph to
// completion.
func runThrough(t *testing.T, node *graph.Node, inPort, outPort string, inputs []any) []any {
	t.Helper()
	var out []any
	g := graph.New()
	e := emitter(inPort, inputs)
	c := collector(outPort, &out)
	require.NoError(t, g.Add(e))
	require.NoError(t, g.Add(node))
	require.NoError(t, g.Add(c))
	require.NoError(t, g.Connect(e, inPort, node, inPort))
	require.NoError(t, g.Connect(node, outPort, c, outPort))
	require.NoError(t, g.Run(context.Background()))
	require.NoError(t, g.Wait())
	return out
}

func solidBlock(rect image.Rectangle, c color.Color) Block {
	img := image.NewNRGBA(rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
	return Block{Rect: rect, Image: img}
}

func TestBlockCacheEmitsWindows(t *testing.T) {
	t.Parallel()

	aoi := image.Rect(0, 0, 25, 25)
	node := BlockCache("cache", 4)
	assert.Equal(t, 4, node.InputBuffer(PortBlocks), "read-ahead capacity comes from the constructor")
	node.SetAttr("aoi", aoi)
	node.SetAttr("plan", window.Plan{{Size: image.Pt(10, 10), Step: image.Pt(10, 10)}})

	blocks := []any{
		solidBlock(image.Rect(0, 0, 25, 13), color.NRGBA{R: 200, A: 255}),
		solidBlock(image.Rect(0, 13, 25, 25), color.NRGBA{B: 200, A: 255}),
	}
	out := runThrough(t, node, PortBlocks, PortSubsets, blocks)
	require.Len(t, out, 9)

	first := out[0].(Subset)
	assert.Equal(t, image.Rect(0, 0, 10, 10), first.Rect)
	assert.Equal(t, image.Pt(10, 10), first.Image.Bounds().Size())

	// The last window overhangs the area on both axes; only the available
	// pixels ship, padding is a later stage's job.
	last := out[8].(Subset)
	assert.Equal(t, image.Rect(20, 20, 30, 30), last.Rect)
	assert.Equal(t, image.Pt(5, 5), last.Image.Bounds().Size())
}

func TestSubsetWithBorderPadsEdges(t *testing.T) {
	t.Parallel()

	clipped := image.NewNRGBA(image.Rect(20, 20, 25, 25))
	in := []any{
		Subset{Rect: image.Rect(20, 20, 30, 30), Image: clipped},
		Subset{Rect: image.Rect(0, 0, 10, 10), Image: image.NewNRGBA(image.Rect(0, 0, 10, 10))},
	}
	out := runThrough(t, SubsetWithBorder("border"), PortSubsets, PortSubsets, in)
	require.Len(t, out, 2)
	assert.Equal(t, image.Pt(10, 10), out[0].(Subset).Image.Bounds().Size())
	assert.Equal(t, image.Pt(10, 10), out[1].(Subset).Image.Bounds().Size())
}

func TestSubsetWithBorderPadsToModelSize(t *testing.T) {
	t.Parallel()

	node := SubsetWithBorder("border")
	node.SetAttr("paddedSize", image.Pt(64, 64))

	in := []any{
		// A window smaller than the model input grows to it.
		Subset{Rect: image.Rect(10, 10, 42, 42), Image: image.NewNRGBA(image.Rect(10, 10, 42, 42))},
		// A window already larger is left alone.
		Subset{Rect: image.Rect(0, 0, 100, 100), Image: image.NewNRGBA(image.Rect(0, 0, 100, 100))},
	}
	out := runThrough(t, node, PortSubsets, PortSubsets, in)
	require.Len(t, out, 2)

	grown := out[0].(Subset)
	assert.Equal(t, image.Rect(10, 10, 74, 74), grown.Rect)
	assert.Equal(t, image.Pt(64, 64), grown.Image.Bounds().Size())

	kept := out[1].(Subset)
	assert.Equal(t, image.Rect(0, 0, 100, 100), kept.Rect)
	assert.Equal(t, image.Pt(100, 100), kept.Image.Bounds().Size())
}

func TestSlidingWindowResamplesAndCounts(t *testing.T) {
	t.Parallel()

	node := SlidingWindow("window", 8)
	assert.Equal(t, 8, node.InputBuffer(PortSubsets))
	node.SetAttr("aoi", image.Rect(0, 0, 20, 20))
	node.SetAttr("plan", window.Plan{{Size: image.Pt(10, 10), Step: image.Pt(10, 10)}})
	node.SetAttr("resampledSize", image.Pt(5, 5))

	in := []any{
		Subset{Rect: image.Rect(0, 0, 10, 10), Image: image.NewNRGBA(image.Rect(0, 0, 10, 10))},
	}
	out := runThrough(t, node, PortSubsets, PortSubsets, in)
	require.Len(t, out, 1)
	assert.Equal(t, image.Pt(5, 5), out[0].(Subset).Image.Bounds().Size())

	assert.Equal(t, int64(4), node.Metric("total").Value())
	assert.Equal(t, int64(1), node.Metric("forwarded").Value())
}

// fixedDetector reports one detection at a fixed window-local box.
type fixedDetector struct {
	meta model.Metadata
}

func (d *fixedDetector) Detect(img image.Image) ([]model.Detection, error) {
	return []model.Detection{{
		Box:        image.Rect(1, 1, 3, 3),
		Label:      "thing",
		Confidence: 0.9,
	}}, nil
}

func (d *fixedDetector) Metadata() *model.Metadata { return &d.meta }

func TestDetectorRescalesToAbsoluteCoordinates(t *testing.T) {
	t.Parallel()

	node := Detector("detector", &fixedDetector{})
	// A 10x10 window resampled to 5x5 doubles every model coordinate.
	in := []any{Subset{
		Rect:  image.Rect(100, 200, 110, 210),
		Image: image.NewNRGBA(image.Rect(0, 0, 5, 5)),
	}}
	out := runThrough(t, node, PortSubsets, PortPredictions, in)
	require.Len(t, out, 1)
	p := out[0].(Prediction)
	assert.Equal(t, image.Rect(102, 202, 106, 206), p.Box)
	assert.Equal(t, int64(1), node.Metric("processed").Value())
}

func TestLabelFilterModes(t *testing.T) {
	t.Parallel()

	preds := []any{
		Prediction{model.Detection{Label: "car", Confidence: 0.9}},
		Prediction{model.Detection{Label: "boat", Confidence: 0.8}},
	}

	include := LabelFilter("include")
	include.SetAttr("labels", map[string]bool{"car": true})
	include.SetAttr("mode", LabelInclude)
	out := runThrough(t, include, PortPredictions, PortPredictions, preds)
	require.Len(t, out, 1)
	assert.Equal(t, "car", out[0].(Prediction).Label)

	exclude := LabelFilter("exclude")
	exclude.SetAttr("labels", map[string]bool{"car": true})
	exclude.SetAttr("mode", LabelExclude)
	out = runThrough(t, exclude, PortPredictions, PortPredictions, preds)
	require.Len(t, out, 1)
	assert.Equal(t, "boat", out[0].(Prediction).Label)
}

func TestNonMaxSuppression(t *testing.T) {
	t.Parallel()

	node := NonMaxSuppression("nms")
	node.SetAttr("overlapThreshold", 0.3)

	preds := []any{
		Prediction{model.Detection{Box: image.Rect(0, 0, 10, 10), Label: "car", Confidence: 0.6}},
		Prediction{model.Detection{Box: image.Rect(1, 1, 11, 11), Label: "car", Confidence: 0.9}},
		// Same box, different label: never suppressed.
		Prediction{model.Detection{Box: image.Rect(1, 1, 11, 11), Label: "boat", Confidence: 0.5}},
		// Far away, kept.
		Prediction{model.Detection{Box: image.Rect(50, 50, 60, 60), Label: "car", Confidence: 0.4}},
	}
	out := runThrough(t, node, PortPredictions, PortPredictions, preds)
	require.Len(t, out, 3)

	// Highest confidence first after suppression sorting.
	assert.Equal(t, 0.9, out[0].(Prediction).Confidence)
	labels := []string{}
	for _, v := range out {
		labels = append(labels, v.(Prediction).Label)
	}
	assert.ElementsMatch(t, []string{"car", "car", "boat"}, labels)
}

func TestBoxToPolygon(t *testing.T) {
	t.Parallel()

	in := []any{Prediction{model.Detection{Box: image.Rect(2, 3, 5, 7)}}}
	out := runThrough(t, BoxToPolygon("topoly"), PortPredictions, PortPredictions, in)
	require.Len(t, out, 1)
	poly := out[0].(Prediction).Polygon
	require.Len(t, poly, 1)
	assert.Len(t, poly[0], 5)
	assert.Equal(t, orb.Point{2, 3}, poly[0][0])
	assert.Equal(t, poly[0][0], poly[0][4])
}

func TestPredictionToFeature(t *testing.T) {
	t.Parallel()

	node := PredictionToFeature("features")
	node.SetAttr("pixelToGeo", geometry.Chain{geometry.Identity{}})
	node.SetAttr("geometryType", GeometryPolygon)
	node.SetAttr("labels", []string{"car", "boat"})
	node.SetAttr("producer", ProducerInfo{Username: "alice", Application: "geodetect", Version: "1.0"})
	node.SetAttr("extraFields", map[string]string{"mission": "demo"})
	node.SetAttr("runID", "run-1")

	in := []any{Prediction{model.Detection{
		Box:        image.Rect(0, 0, 4, 4),
		Label:      "car",
		Confidence: 0.87,
		TopN:       []model.Score{{Label: "car", Value: 0.87}, {Label: "boat", Value: 0.1}},
	}}}
	out := runThrough(t, node, PortPredictions, PortFeatures, in)
	require.Len(t, out, 1)

	f := out[0].(*geojson.Feature)
	assert.Equal(t, "car", f.Properties["top_cat"])
	assert.Equal(t, 0.87, f.Properties["top_score"])
	assert.Equal(t, "car:0.870;boat:0.100", f.Properties["top_five"])
	assert.Equal(t, "alice", f.Properties["username"])
	assert.Equal(t, "demo", f.Properties["mission"])
	assert.Equal(t, "run-1", f.Properties["run_id"])
	assert.NotEmpty(t, f.Properties["fill_color"])
	assert.NotEmpty(t, f.ID)
	assert.IsType(t, orb.Polygon{}, f.Geometry)
}

func TestPredictionToFeaturePointGeometry(t *testing.T) {
	t.Parallel()

	node := PredictionToFeature("features")
	node.SetAttr("pixelToGeo", geometry.Chain{geometry.Identity{}})
	node.SetAttr("geometryType", GeometryPoint)

	in := []any{Prediction{model.Detection{Box: image.Rect(0, 0, 4, 6), Label: "car"}}}
	out := runThrough(t, node, PortPredictions, PortFeatures, in)
	require.Len(t, out, 1)
	assert.Equal(t, orb.Point{2, 3}, out[0].(*geojson.Feature).Geometry)
}

func runSink(t *testing.T, node *graph.Node, features []any) {
	t.Helper()
	g := graph.New()
	e := emitter(PortFeatures, features)
	require.NoError(t, g.Add(e))
	require.NoError(t, g.Add(node))
	require.NoError(t, g.Connect(e, PortFeatures, node, PortFeatures))
	require.NoError(t, g.Run(context.Background()))
	require.NoError(t, g.Wait())
}

func TestFeatureSinkWritesAndAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.geojson")

	first := FeatureSink("sink")
	first.SetAttr("path", path)
	first.SetAttr("layerName", "detections")
	runSink(t, first, []any{geojson.NewFeature(orb.Point{1, 2})})
	assert.Equal(t, int64(1), first.Metric("written").Value())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	second := FeatureSink("sink")
	second.SetAttr("path", path)
	second.SetAttr("append", true)
	runSink(t, second, []any{geojson.NewFeature(orb.Point{3, 4})})

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	fc, err = geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 2)
}

func TestFeatureSinkOverwrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.geojson")
	require.NoError(t, os.WriteFile(path, []byte("not geojson"), 0o644))

	sink := FeatureSink("sink")
	sink.SetAttr("path", path)
	runSink(t, sink, []any{geojson.NewFeature(orb.Point{1, 2})})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)
}

func TestRemoveAlphaFlattens(t *testing.T) {
	t.Parallel()

	rect := image.Rect(0, 0, 2, 2)
	img := image.NewNRGBA(rect)
	img.Set(0, 0, color.NRGBA{R: 255, A: 0})

	out := runThrough(t, RemoveAlpha("bands"), PortBlocks, PortBlocks, []any{Block{Rect: rect, Image: img}})
	require.Len(t, out, 1)
	r, g, b, a := out[0].(Block).Image.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestLocalSourceTilesArea(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "scene.png")
	img := image.NewNRGBA(image.Rect(0, 0, 700, 40))
	for x := 0; x < 700; x++ {
		img.Set(x, 0, color.NRGBA{R: uint8(x % 256), A: 255})
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	node := LocalSource("source", raster.NewCache())
	node.SetAttr("path", path)
	node.SetAttr("aoi", image.Rect(0, 0, 700, 40))

	var out []any
	g := graph.New()
	c := collector(PortBlocks, &out)
	require.NoError(t, g.Add(node))
	require.NoError(t, g.Add(c))
	require.NoError(t, g.Connect(node, PortBlocks, c, PortBlocks))
	require.NoError(t, g.Run(context.Background()))
	require.NoError(t, g.Wait())

	// 700px splits into a full 512px block and a 188px remainder.
	require.Len(t, out, 2)
	assert.Equal(t, image.Rect(0, 0, 512, 40), out[0].(Block).Rect)
	assert.Equal(t, image.Rect(512, 0, 700, 40), out[1].(Block).Rect)
}

func TestSubsetRegionFilterDropsOutside(t *testing.T) {
	t.Parallel()

	filter := region.NewFilter(image.Rect(0, 0, 100, 100), image.Pt(10, 10))
	filter.AddRect(image.Rect(0, 0, 50, 50))

	node := SubsetRegionFilter("filter")
	node.SetAttr("filter", filter)

	in := []any{
		Subset{Rect: image.Rect(0, 0, 10, 10)},
		Subset{Rect: image.Rect(80, 80, 90, 90)},
	}
	out := runThrough(t, node, PortSubsets, PortSubsets, in)
	require.Len(t, out, 1)
	assert.Equal(t, image.Rect(0, 0, 10, 10), out[0].(Subset).Rect)
}

func TestCatalogClientLookup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("request") != "GetFeature" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"type":"FeatureCollection","features":[
			{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},
			 "properties":{"legacyId":"104001003A"}}]}`))
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, "", "", "", "secret")
	f := geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
	id, err := client.Lookup(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "104001003A", id)
}

func TestCatalogClientLookupUncataloged(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, "", "user", "pass", "")
	id, err := client.Lookup(context.Background(), geojson.NewFeature(orb.Point{5, 5}))
	require.NoError(t, err)
	assert.Equal(t, uncataloged, id)
}

func TestMapClientPixelGrid(t *testing.T) {
	t.Parallel()

	client := NewMapClient("https://tiles.example.com/{z}/{x}/{y}.png", "", 0, 4)

	// At zoom zero the whole world is a single 256px tile.
	rect, err := client.PixelRect(orb.Bound{Min: orb.Point{-180, -85.05}, Max: orb.Point{180, 85.05}})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 256, 256), rect)
}

func TestMapClientTileURL(t *testing.T) {
	t.Parallel()

	client := NewMapClient("https://tiles.example.com/{z}/{x}/{y}.png", "secret", 12, 4)
	u, err := client.tileURL(maptile.New(3, 5, 12))
	require.NoError(t, err)
	assert.Equal(t, "https://tiles.example.com/12/3/5.png?token=secret", u)
}

func TestMapSourceFetchesTiles(t *testing.T) {
	t.Parallel()

	tile := image.NewNRGBA(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			tile.Set(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		png.Encode(w, tile)
	}))
	defer srv.Close()

	client := NewMapClient(srv.URL+"/{z}/{x}/{y}.png", "", 2, 2)
	node := MapSource("source", client)
	node.SetAttr("aoi", image.Rect(100, 100, 400, 300))

	var out []any
	g := graph.New()
	c := collector(PortBlocks, &out)
	require.NoError(t, g.Add(node))
	require.NoError(t, g.Add(c))
	require.NoError(t, g.Connect(node, PortBlocks, c, PortBlocks))
	require.NoError(t, g.Run(context.Background()))
	require.NoError(t, g.Wait())

	// The area spans a 2x2 tile neighborhood at zoom 2.
	require.Len(t, out, 4)
	var covered image.Rectangle
	for i, v := range out {
		b := v.(Block)
		if i == 0 {
			covered = b.Rect
		} else {
			covered = covered.Union(b.Rect)
		}
		r, _, _, _ := b.Image.At(b.Rect.Min.X, b.Rect.Min.Y).RGBA()
		assert.Equal(t, uint32(10*257), r)
	}
	assert.Equal(t, image.Rect(100, 100, 400, 300), covered)
}
