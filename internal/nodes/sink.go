package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/paulmach/orb/geojson"

	"github.com/openterrain/geodetect/internal/graph"
)

// FeatureSink collects features and writes them out as a GeoJSON feature
// collection when its input drains. In append mode an existing output file's
// features are loaded first and the new features are added behind them;
// otherwise the file is overwritten. A cancelled run still flushes whatever
// was collected before the stop.
//
// Attributes: "path" (string), "layerName" (string), "append" (bool).
//
// Metrics: "written".
func FeatureSink(name string) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		path, _ := n.Attr("path").(string)
		layerName, _ := n.Attr("layerName").(string)
		appendMode, _ := n.Attr("append").(bool)

		fc := geojson.NewFeatureCollection()
		if appendMode {
			existing, err := readCollection(path)
			if err != nil {
				return err
			}
			if existing != nil {
				fc = existing
			}
		}
		if layerName != "" {
			if fc.ExtraMembers == nil {
				fc.ExtraMembers = geojson.Properties{}
			}
			fc.ExtraMembers["name"] = layerName
		}

		written := n.Metric("written")
		for {
			v, ok := n.Recv(ctx, PortFeatures)
			if !ok {
				break
			}
			fc.Append(v.(*geojson.Feature))
			written.Add(1)
		}

		if err := writeCollection(path, fc); err != nil {
			return err
		}
		return ctx.Err()
	})
	n.DeclareInput(PortFeatures)
	return n
}

// readCollection loads an existing output file, or returns nil when the
// file does not exist yet.
func readCollection(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feature sink: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("feature sink: existing output %s: %w", path, err)
	}
	return fc, nil
}

func writeCollection(path string, fc *geojson.FeatureCollection) error {
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("feature sink: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("feature sink: %w", err)
	}
	return nil
}
