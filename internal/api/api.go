// Package api exposes the collector's HTTP surface: telemetry ingestion,
// queries, window statistics, and the live WebSocket feed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/motionlab-io/motiond/internal/aggregate"
	"github.com/motionlab-io/motiond/internal/ingest"
	"github.com/motionlab-io/motiond/internal/logger"
	"github.com/motionlab-io/motiond/internal/models"
	"github.com/motionlab-io/motiond/internal/storage"
	"github.com/motionlab-io/motiond/internal/ws"
)

const (
	maxBodyBytes    = 1 << 20
	defaultLimit    = 100
	maxLimit        = 1000
	defaultWindowMs = 60_000
)

// Server wires the HTTP handlers to the collector's services.
type Server struct {
	ingest    *ingest.Service
	store     *storage.Store
	aggregate *aggregate.Engine
	hub       *ws.Hub
	router    chi.Router
}

// NewServer builds the router. hub may be nil to disable the live feed.
func NewServer(ing *ingest.Service, store *storage.Store, agg *aggregate.Engine, hub *ws.Hub) *Server {
	s := &Server{
		ingest:    ing,
		store:     store,
		aggregate: agg,
		hub:       hub,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/sensor-data", s.handleIngest)
	r.Get("/sensor-data", s.handleQuery)
	r.Get("/stats", s.handleStats)
	r.Delete("/data", s.handleDeleteAll)
	if hub != nil {
		r.Get("/ws", s.handleWS)
	}

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var payload models.TelemetryPayload
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, models.IngestResponse{Error: "request body is not valid JSON"})
		return
	}

	record, created, err := s.ingest.Ingest(payload)
	switch {
	case errors.Is(err, ingest.ErrInvalidShape):
		writeJSON(w, http.StatusBadRequest, models.IngestResponse{Error: err.Error()})
	case err != nil:
		logger.Error("Ingestion failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.IngestResponse{Error: "storage unavailable, retry with the same payload"})
	default:
		if !created {
			logger.Debug("Redelivery of %s acknowledged with record %s", record.Key(), record.ID)
		}
		writeJSON(w, http.StatusOK, models.IngestResponse{Success: true, RecordID: record.ID})
	}
}

type queryResponse struct {
	Success bool                     `json:"success"`
	Count   int                      `json:"count"`
	Data    []models.TelemetryRecord `json:"data"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")

	since, ok := parseMillisParam(w, r, "since", 0)
	if !ok {
		return
	}
	limit, ok := parseIntParam(w, r, "limit", defaultLimit)
	if !ok {
		return
	}
	if limit < 1 || limit > maxLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}

	records, err := s.store.Recent(deviceID, time.UnixMilli(since), limit)
	if err != nil {
		logger.Error("Telemetry query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if records == nil {
		records = []models.TelemetryRecord{}
	}
	writeJSON(w, http.StatusOK, queryResponse{Success: true, Count: len(records), Data: records})
}

type statsResponse struct {
	Success bool               `json:"success"`
	Stats   models.WindowStats `json:"stats"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")

	windowMs, ok := parseIntParam(w, r, "windowMs", defaultWindowMs)
	if !ok {
		return
	}

	stats, err := s.aggregate.Window(deviceID, time.Duration(windowMs)*time.Millisecond)
	if errors.Is(err, aggregate.ErrBadWindow) {
		writeError(w, http.StatusBadRequest, "windowMs must be a positive integer")
		return
	}
	if err != nil {
		logger.Error("Stats query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Success: true, Stats: stats})
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.DeleteAll(); err != nil {
		logger.Error("Failed to clear telemetry: %v", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	logger.Info("All telemetry records deleted")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws.ServeWS(s.hub, w, r)
}

func parseIntParam(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return v, true
}

func parseMillisParam(w http.ResponseWriter, r *http.Request, name string, fallback int64) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a millisecond epoch timestamp")
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.IngestResponse{Error: message})
}
