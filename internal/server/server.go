// Package server exposes the derived vehicle positions over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"transit-tracker/internal/anim"
	"transit-tracker/internal/feed"
	"transit-tracker/internal/line"
	"transit-tracker/internal/store"
	"transit-tracker/internal/tracker"
)

// VehicleSource yields the latest derived positions. The poller implements
// this.
type VehicleSource interface {
	Latest() ([]tracker.Vehicle, time.Time)
}

// LineSource yields the single-line snapshot. *line.Watcher implements this;
// nil disables the endpoint.
type LineSource interface {
	Snapshot() line.Snapshot
}

type Server struct {
	vehicles   VehicleSource
	lineView   LineSource
	departures feed.Source
	history    *store.Store

	smoothMu sync.Mutex
	smoother *anim.Smoother
}

func New(vehicles VehicleSource, lineView LineSource, departures feed.Source, history *store.Store) *Server {
	return &Server{
		vehicles:   vehicles,
		lineView:   lineView,
		departures: departures,
		history:    history,
		smoother:   anim.NewSmoother(),
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/api/vehicles", s.handleVehicles)
	r.Get("/api/line/vehicles", s.handleLine)
	r.Get("/api/departures/{stationID}", s.handleDepartures)
	r.Get("/api/history/{vehicleKey}", s.handleHistory)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, at := s.vehicles.Latest()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"lastCycle": at.UTC(),
		"timestamp": time.Now().UTC(),
	})
}

type vehiclesResponse struct {
	Vehicles []tracker.Vehicle `json:"vehicles"`
	Count    int               `json:"count"`
	PolledAt time.Time         `json:"polledAt"`
}

// handleVehicles returns the latest derived positions. With ?smooth=1 the
// positions pass through the animation smoother, so repeated requests see
// vehicles drift forward between polling cycles instead of jumping.
func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, at := s.vehicles.Latest()

	if r.URL.Query().Get("smooth") == "1" {
		s.smoothMu.Lock()
		vehicles = s.smoother.Step(vehicles, time.Now())
		s.smoothMu.Unlock()
	}

	if want := r.URL.Query().Get("line"); want != "" {
		filtered := vehicles[:0]
		for _, v := range vehicles {
			if v.Line == want {
				filtered = append(filtered, v)
			}
		}
		vehicles = filtered
	}

	writeJSON(w, http.StatusOK, vehiclesResponse{
		Vehicles: vehicles,
		Count:    len(vehicles),
		PolledAt: at.UTC(),
	})
}

func (s *Server) handleLine(w http.ResponseWriter, r *http.Request) {
	if s.lineView == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no line configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.lineView.Snapshot())
}

func (s *Server) handleDepartures(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")
	if stationID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "station ID required"})
		return
	}
	deps, err := s.departures.Departures(r.Context(), stationID)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"departures": deps,
		"count":      len(deps),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "history not enabled"})
		return
	}
	vehicleKey := chi.URLParam(r, "vehicleKey")
	points, err := s.history.History(r.Context(), vehicleKey, 200)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load history"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history": points,
		"count":   len(points),
	})
}
