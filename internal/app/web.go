package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	geojson "github.com/paulmach/go.geojson"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/patrol_tracker/internal/board"
	"github.com/relabs-tech/patrol_tracker/internal/fleet"
	"github.com/relabs-tech/patrol_tracker/internal/metrics"
	"github.com/relabs-tech/patrol_tracker/internal/patrol"
)

const (
	defaultBoardWidth  = 640
	defaultBoardHeight = 480
	maxBoardSide       = 2048
)

// NewRouter serves the simulation over HTTP. ws may be nil when live
// streaming is disabled.
func NewRouter(sim *patrol.Simulation, ws http.Handler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"units":  len(sim.Routes()),
		})
	})

	r.Route("/api", func(r chi.Router) {
		// Latest tick batch, same payload as the broadcast topic
		r.Get("/vehicles", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, sim.Latest())
		})

		r.Get("/units", func(w http.ResponseWriter, r *http.Request) {
			units, err := sim.Units(r.Context())
			if err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}
			writeJSON(w, http.StatusOK, units)
		})

		r.Get("/units/statistics", func(w http.ResponseWriter, r *http.Request) {
			units, err := sim.Units(r.Context())
			if err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}
			writeJSON(w, http.StatusOK, fleet.Stats(units))
		})

		r.Get("/routes", func(w http.ResponseWriter, r *http.Request) {
			body, err := routesGeoJSON(sim.Routes()).MarshalJSON()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			w.Header().Set("Content-Type", "application/geo+json")
			w.Write(body)
		})

		r.Get("/simulation", func(w http.ResponseWriter, r *http.Request) {
			report, ok := sim.LastRefresh()
			if !ok {
				http.Error(w, "no data yet", http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		r.Post("/simulation/refresh", func(w http.ResponseWriter, r *http.Request) {
			// The refresh outlives a client that hangs up.
			report, err := sim.Refresh(context.WithoutCancel(r.Context()))
			if err != nil {
				log.WithError(err).Error("web: refresh failed")
				writeError(w, http.StatusBadGateway, err)
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		r.Get("/board.png", func(w http.ResponseWriter, r *http.Request) {
			width := queryInt(r, "w", defaultBoardWidth)
			height := queryInt(r, "h", defaultBoardHeight)
			w.Header().Set("Content-Type", "image/png")
			if err := board.EncodePNG(w, board.Render(sim.Latest(), sim.Emergencies(), width, height)); err != nil {
				log.Printf("web: png encode error: %v", err)
			}
		})
	})

	if ws != nil {
		r.Handle("/ws", ws)
	}
	r.Handle("/metrics", m.Handler())
	return r
}

// routesGeoJSON exports every route as a LineString feature with the unit id
// in property "unit". Single-point routes become Point features.
func routesGeoJSON(routes map[string]patrol.Route) *geojson.FeatureCollection {
	ids := make([]string, 0, len(routes))
	for id := range routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fc := geojson.NewFeatureCollection()
	for _, id := range ids {
		route := routes[id]
		if len(route) == 0 {
			continue
		}
		var f *geojson.Feature
		if len(route) == 1 {
			f = geojson.NewPointFeature([]float64{route[0].Lng, route[0].Lat})
		} else {
			coords := make([][]float64, len(route))
			for i, p := range route {
				coords[i] = []float64{p.Lng, p.Lat}
			}
			f = geojson.NewLineStringFeature(coords)
		}
		f.SetProperty("unit", id)
		fc.AddFeature(f)
	}
	return fc
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	if n > maxBoardSide {
		return maxBoardSide
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
