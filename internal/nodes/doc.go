// Package nodes implements the processing units the pipeline assembler wires
// together: raster block sources (local file and remote tile service), band
// removal, block caching, border padding, region filtering, multi-scale
// sliding windows, detection, label filtering, non-max suppression, feature
// conversion, catalog field extraction, and the GeoJSON feature sink.
//
// Every constructor returns a graph.Node with its ports declared; the
// assembler decides which nodes exist, sets their attributes, and connects
// the ports. Data flows through four payload kinds, in pipeline order:
// blocks, subsets, predictions, features.
//
// # Coordinate Convention
//
// Block and subset rectangles are absolute pixel coordinates within the
// run's area of interest. Detections come back from the model in
// window-local (possibly resampled) coordinates; the detector node scales
// and offsets them into absolute pixel space before they flow downstream.
package nodes
