package nodes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/openterrain/geodetect/internal/graph"
)

// uncataloged marks features the catalog lookup could not attribute to a
// source image.
const uncataloged = "uncataloged"

// CatalogClient queries a WFS catalog endpoint for the source image
// identifier covering a feature.
type CatalogClient struct {
	BaseURL  string
	TypeName string
	Username string
	Password string
	Token    string

	http *http.Client
}

// NewCatalogClient builds a catalog client. Credentials may be basic auth,
// a token, or both depending on the service.
func NewCatalogClient(baseURL, typeName, username, password, token string) *CatalogClient {
	if typeName == "" {
		typeName = "DigitalGlobe:FinishedFeature"
	}
	return &CatalogClient{
		BaseURL:  baseURL,
		TypeName: typeName,
		Username: username,
		Password: password,
		Token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Lookup returns the catalog identifier of the most recent catalog entry
// intersecting the feature's bounding box, or uncataloged when the catalog
// has no entry there.
func (c *CatalogClient) Lookup(ctx context.Context, f *geojson.Feature) (string, error) {
	b := f.Geometry.Bound()
	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("version", "1.1.0")
	q.Set("request", "GetFeature")
	q.Set("typeName", c.TypeName)
	q.Set("outputFormat", "json")
	q.Set("bbox", fmt.Sprintf("%f,%f,%f,%f,EPSG:4326", b.Min[0], b.Min[1], b.Max[0], b.Max[1]))
	q.Set("sortBy", "acquisitionDate+D")
	q.Set("maxFeatures", "1")
	if c.Token != "" {
		q.Set("token", c.Token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("catalog: %w", err)
	}
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("catalog: status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("catalog: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return "", fmt.Errorf("catalog: %w", err)
	}
	if len(fc.Features) == 0 {
		return uncataloged, nil
	}
	if id, ok := fc.Features[0].Properties["legacyId"].(string); ok && id != "" {
		return id, nil
	}
	return uncataloged, nil
}

// CatalogIDExtractor stamps each feature with the catalog identifier of the
// source imagery under it. Lookup failures fail the run; an empty catalog
// result is not an error and yields the uncataloged marker.
func CatalogIDExtractor(name string, client *CatalogClient) *graph.Node {
	n := graph.NewNode(name, func(ctx context.Context, n *graph.Node) error {
		for {
			v, ok := n.Recv(ctx, PortFeatures)
			if !ok {
				return ctx.Err()
			}
			f := v.(*geojson.Feature)
			id, err := client.Lookup(ctx, f)
			if err != nil {
				return err
			}
			f.Properties["catalog_id"] = id
			if !n.Send(ctx, PortFeatures, f) {
				return ctx.Err()
			}
		}
	})
	n.DeclareInput(PortFeatures)
	n.DeclareOutput(PortFeatures)
	return n
}
