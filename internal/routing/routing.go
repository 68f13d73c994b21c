// Package routing turns an ordered list of checkpoints into a drivable
// round-trip polyline using an external routing service.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/relabs-tech/patrol_tracker/internal/geo"
)

// ErrNoRoute is returned when the service answered but produced no usable path.
var ErrNoRoute = errors.New("routing: no route in response")

// Provider requests a closed round trip through checkpoints, with the first
// checkpoint as source and the last as destination.
type Provider interface {
	Route(ctx context.Context, checkpoints []geo.Point) ([]geo.Point, error)
}

// Unavailable is a Provider that always fails. Generators fall back to
// straight-line segments between checkpoints.
type Unavailable struct{}

func (Unavailable) Route(context.Context, []geo.Point) ([]geo.Point, error) {
	return nil, errors.New("routing: no provider configured")
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, checkpoints []geo.Point) ([]geo.Point, error)

func (f ProviderFunc) Route(ctx context.Context, checkpoints []geo.Point) ([]geo.Point, error) {
	return f(ctx, checkpoints)
}

// tripsResponse covers both Mapbox optimized-trips and OSRM trip responses.
type tripsResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Trips   []struct {
		Geometry *geojson.Geometry `json:"geometry"`
	} `json:"trips"`
}

// formatCoordinates renders checkpoints as "lng,lat;lng,lat;...".
func formatCoordinates(points []geo.Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf("%.6f,%.6f", p.Lng, p.Lat)
	}
	return strings.Join(parts, ";")
}

// fetchTrip performs the GET and decodes the first trip's geometry.
// Errors never include the request URL, which may carry an access token.
func fetchTrip(ctx context.Context, client *http.Client, rawURL string) ([]geo.Point, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", stripURL(err))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP error: %w", stripURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var parsed tripsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("routing service returned %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("JSON decode failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routing service returned %d: %s %s", resp.StatusCode, parsed.Code, parsed.Message)
	}
	if parsed.Code != "" && parsed.Code != "Ok" {
		return nil, fmt.Errorf("routing service code %q: %s", parsed.Code, parsed.Message)
	}
	if len(parsed.Trips) == 0 || parsed.Trips[0].Geometry == nil {
		return nil, ErrNoRoute
	}

	g := parsed.Trips[0].Geometry
	if !g.IsLineString() {
		return nil, fmt.Errorf("unexpected geometry type %q", g.Type)
	}

	coords := make([]geo.Point, 0, len(g.LineString))
	for _, pair := range g.LineString {
		if len(pair) < 2 {
			return nil, fmt.Errorf("malformed coordinate %v", pair)
		}
		// GeoJSON order is [lng, lat]
		coords = append(coords, geo.Point{Lat: pair[1], Lng: pair[0]})
	}
	if len(coords) == 0 {
		return nil, ErrNoRoute
	}
	return coords, nil
}

// stripURL drops the URL from a *url.Error and keeps the underlying cause.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
