package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qrtrail/scanhistory/pkg/history"
	"github.com/qrtrail/scanhistory/pkg/scanning"
)

// History is the store surface the API serves.
type History interface {
	Add(ctx context.Context, data, typ string, loc *scanning.Location) (scanning.Record, history.Durability)
	List(ctx context.Context) []scanning.Record
	Get(ctx context.Context, id string) (scanning.Record, error)
	Clear(ctx context.Context) history.Durability
	Located(ctx context.Context, data string) []scanning.Record
}

// NewRouter mounts the history and map endpoints. A nil gatherer leaves
// /metrics unmounted.
func NewRouter(h History, logger *slog.Logger, gatherer prometheus.Gatherer) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{history: h, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/scans", func(r chi.Router) {
		r.Get("/", s.listScans)
		r.Post("/", s.addScan)
		r.Delete("/", s.clearScans)
		r.Get("/{id}", s.getScan)
	})
	r.Get("/map", s.mapView)

	return r
}
