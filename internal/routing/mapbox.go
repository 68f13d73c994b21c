package routing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relabs-tech/patrol_tracker/internal/geo"
)

// Mapbox uses the Optimized Trips API, which returns a loop that follows real
// streets.
type Mapbox struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewMapbox creates a Mapbox client. baseURL is normally https://api.mapbox.com.
func NewMapbox(baseURL, token string, timeout time.Duration) *Mapbox {
	return &Mapbox{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  newHTTPClient(timeout),
	}
}

// Route returns the street path for a round trip through checkpoints.
// Fewer than two checkpoints are returned unchanged.
func (m *Mapbox) Route(ctx context.Context, checkpoints []geo.Point) ([]geo.Point, error) {
	if len(checkpoints) < 2 {
		return checkpoints, nil
	}

	u := fmt.Sprintf("%s/optimized-trips/v1/mapbox/driving/%s?roundtrip=true&source=first&destination=last&geometries=geojson&overview=full&access_token=%s",
		m.baseURL, formatCoordinates(checkpoints), url.QueryEscape(m.token))

	points, err := fetchTrip(ctx, m.client, u)
	if err != nil {
		return nil, fmt.Errorf("mapbox: %w", err)
	}
	return points, nil
}
