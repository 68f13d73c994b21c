package routing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/relabs-tech/patrol_tracker/internal/geo"
)

// OSRM uses the trip service of an OSRM server (public demo or self-hosted).
type OSRM struct {
	baseURL string
	client  *http.Client
}

func NewOSRM(baseURL string, timeout time.Duration) *OSRM {
	return &OSRM{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(timeout),
	}
}

// Route returns the street path for a round trip through checkpoints.
func (o *OSRM) Route(ctx context.Context, checkpoints []geo.Point) ([]geo.Point, error) {
	if len(checkpoints) < 2 {
		return checkpoints, nil
	}

	u := fmt.Sprintf("%s/trip/v1/driving/%s?roundtrip=true&source=first&destination=last&geometries=geojson&overview=full",
		o.baseURL, formatCoordinates(checkpoints))

	points, err := fetchTrip(ctx, o.client, u)
	if err != nil {
		return nil, fmt.Errorf("osrm: %w", err)
	}
	return points, nil
}
