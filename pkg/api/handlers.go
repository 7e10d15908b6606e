package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qrtrail/scanhistory/pkg/history"
	"github.com/qrtrail/scanhistory/pkg/processing"
	"github.com/qrtrail/scanhistory/pkg/scanning"
)

const (
	durabilityHeader = "X-Scan-Durability"
	maxBodyBytes     = 1 << 20
)

type server struct {
	history History
	logger  *slog.Logger
}

type mapResponse struct {
	Scans  []scanning.Record `json:"scans"`
	Trails []history.Trail   `json:"trails"`
	Region history.Region    `json:"region"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) listScans(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.history.List(r.Context()))
}

func (s *server) addScan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body"})
		return
	}
	capture, err := processing.ParseCaptureMessage(body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	rec, durability := s.history.Add(r.Context(), *capture.Data, *capture.Type, capture.Location)
	w.Header().Set(durabilityHeader, durability.String())
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *server) getScan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.history.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "scan not found"})
	case err != nil:
		s.logger.Error("error reading scan", "err", err)
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "history unavailable"})
	default:
		s.writeJSON(w, http.StatusOK, rec)
	}
}

func (s *server) clearScans(w http.ResponseWriter, r *http.Request) {
	durability := s.history.Clear(r.Context())
	w.Header().Set(durabilityHeader, durability.String())
	w.WriteHeader(http.StatusNoContent)
}

// mapView serves the located scans, optionally narrowed to one payload via
// ?data=, with per-payload trails and a viewport that frames them.
func (s *server) mapView(w http.ResponseWriter, r *http.Request) {
	scans := s.history.Located(r.Context(), r.URL.Query().Get("data"))
	s.writeJSON(w, http.StatusOK, mapResponse{
		Scans:  scans,
		Trails: history.GroupByData(scans),
		Region: history.RegionFor(scans),
	})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("error encoding response", "err", err)
	}
}
