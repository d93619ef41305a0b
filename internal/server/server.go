// Package server exposes the assessment pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/coordinator"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

// DefaultSyncWait bounds how long a synchronous submission may block.
const DefaultSyncWait = 90 * time.Second

// Server wires the coordinator and store behind the HTTP API.
type Server struct {
	coord    *coordinator.Coordinator
	store    store.Store
	syncWait time.Duration
}

// New creates a server. A non-positive syncWait falls back to the default.
func New(coord *coordinator.Coordinator, st store.Store, syncWait time.Duration) *Server {
	if syncWait <= 0 {
		syncWait = DefaultSyncWait
	}
	return &Server{coord: coord, store: st, syncWait: syncWait}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(api chi.Router) {
		api.Post("/transactions", s.handleSubmit)
		api.Get("/transactions", s.handleList)
		api.Get("/transactions/{id}", s.handleStatus)
		api.Get("/transactions/{id}/result", s.handleResult)
		api.Get("/transactions/{id}/network", s.handleNetwork)
		api.Get("/dashboard/stats", s.handleDashboard)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	txn, err := s.coord.Submit(r.Context(), req.Text)
	if err != nil {
		zap.L().Error("server: submit transaction", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not accept transaction")
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"transaction_id": txn.ID,
			"status":         string(txn.Status),
		})
		return
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), s.syncWait)
	defer cancel()
	assessment, err := s.coord.Wait(waitCtx, txn.ID)
	if eris.Is(err, coordinator.ErrNotReady) {
		// Still running at the wait deadline: hand back the id for polling.
		view, statusErr := s.coord.Status(r.Context(), txn.ID)
		if statusErr != nil {
			writeError(w, http.StatusInternalServerError, "could not read transaction status")
			return
		}
		writeJSON(w, http.StatusAccepted, view)
		return
	}
	if err != nil {
		zap.L().Error("server: wait for assessment",
			zap.String("transaction_id", txn.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "assessment unavailable")
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.TransactionFilter{Limit: 50}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = model.TransactionStatus(status)
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}

	txns, err := s.store.ListTransactions(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list transactions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list transactions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.coord.Status(r.Context(), chi.URLParam(r, "id"))
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		zap.L().Error("server: transaction status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read transaction")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	assessment, err := s.coord.Result(r.Context(), chi.URLParam(r, "id"))
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
	case eris.Is(err, coordinator.ErrNotReady):
		writeError(w, http.StatusConflict, "assessment not ready")
	case err != nil:
		zap.L().Error("server: transaction result", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read assessment")
	default:
		writeJSON(w, http.StatusOK, assessment)
	}
}

// networkNode is one vertex of the relationship graph view.
type networkNode struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Depth    int    `json:"depth"`
	HintOnly bool   `json:"hint_only,omitempty"`
}

// networkLink is one edge of the relationship graph view.
type networkLink struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation,omitempty"`
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetTransaction(r.Context(), id); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		zap.L().Error("server: network graph", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read transaction")
		return
	}

	entities, err := s.store.ListEntities(r.Context(), id)
	if err != nil {
		zap.L().Error("server: network entities", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read entities")
		return
	}
	rels, err := s.store.ListRelationships(r.Context(), id)
	if err != nil {
		zap.L().Error("server: network relationships", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read relationships")
		return
	}

	nodes := make([]networkNode, 0, len(entities))
	for _, e := range entities {
		nodes = append(nodes, networkNode{
			Key:      e.Key,
			Name:     e.Name,
			Type:     string(e.Type),
			Depth:    e.Depth,
			HintOnly: e.HintOnly,
		})
	}
	links := make([]networkLink, 0, len(rels))
	for _, rel := range rels {
		links = append(links, networkLink{
			Source:   rel.ParentKey,
			Target:   rel.ChildKey,
			Relation: rel.Relation,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "links": links})
}

// dashboardStats summarizes recent assessments by risk band.
type dashboardStats struct {
	Total  int                    `json:"total"`
	High   int                    `json:"high_risk"`
	Medium int                    `json:"medium_risk"`
	Low    int                    `json:"low_risk"`
	Recent []model.RiskAssessment `json:"recent"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	assessments, err := s.store.ListAssessments(r.Context(), 0)
	if err != nil {
		zap.L().Error("server: dashboard stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read assessments")
		return
	}

	stats := dashboardStats{Total: len(assessments), Recent: []model.RiskAssessment{}}
	for _, a := range assessments {
		switch model.BandFor(a.Score) {
		case model.BandHigh:
			stats.High++
		case model.BandMedium:
			stats.Medium++
		default:
			stats.Low++
		}
	}
	if len(assessments) > 5 {
		assessments = assessments[:5]
	}
	stats.Recent = assessments
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
