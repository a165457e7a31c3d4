package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/kizuki/internal/collector"
	"github.com/ashita-ai/kizuki/internal/model"
	"github.com/ashita-ai/kizuki/internal/service/pipeline"
	"github.com/ashita-ai/kizuki/internal/storage"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	svc     *pipeline.Service
	logger  *slog.Logger
	version string
	started time.Time
	maxBody int64
}

// NewHandlers creates the handler set.
func NewHandlers(svc *pipeline.Service, logger *slog.Logger, version string, maxBody int64) *Handlers {
	return &Handlers{
		svc:     svc,
		logger:  logger,
		version: version,
		started: time.Now(),
		maxBody: maxBody,
	}
}

// HandleHealth reports process status.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// HandlePREvent ingests a pull-request webhook. Unknown payload fields are
// ignored: webhook producers add fields freely.
func (h *Handlers) HandlePREvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var event collector.PREvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid webhook payload: "+err.Error())
		return
	}

	sig, err := h.svc.IngestPR(r.Context(), event)
	if err != nil {
		h.logger.Error("pr ingest failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to store signal")
		return
	}
	writeJSON(w, r, http.StatusAccepted, sig)
}

// HandleCIEvent ingests a CI workflow webhook.
func (h *Handlers) HandleCIEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var event collector.CIEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid webhook payload: "+err.Error())
		return
	}

	sig, err := h.svc.IngestCI(r.Context(), event)
	if err != nil {
		h.logger.Error("ci ingest failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to store signal")
		return
	}
	writeJSON(w, r, http.StatusAccepted, sig)
}

// HandleCreateSignal ingests a pre-normalized signal directly.
func (h *Handlers) HandleCreateSignal(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var sig model.Signal
	if err := decodeJSON(r, &sig); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid signal: "+err.Error())
		return
	}

	if err := h.svc.Record(r.Context(), &sig); err != nil {
		if errors.Is(err, model.ErrInvalidSignal) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, err.Error())
			return
		}
		h.logger.Error("signal store failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to store signal")
		return
	}
	writeJSON(w, r, http.StatusCreated, sig)
}

// HandleQuerySignals returns stored signals matching query parameters.
func (h *Handlers) HandleQuerySignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := storage.QueryFilters{
		Repo:      q.Get("repo"),
		Org:       q.Get("org"),
		Type:      model.SignalType(q.Get("type")),
		Author:    q.Get("author"),
		SinceDays: queryInt(q.Get("since_days"), 0),
		Limit:     queryInt(q.Get("limit"), 0),
	}

	signals, err := h.svc.Query(r.Context(), filters)
	if err != nil {
		h.logger.Error("signal query failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "query failed")
		return
	}
	writeJSON(w, r, http.StatusOK, signals)
}

// HandlePatterns aggregates an org's window into patterns.
func (h *Handlers) HandlePatterns(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org")
	if org == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "org query parameter is required")
		return
	}
	window := queryInt(r.URL.Query().Get("window_days"), 0)

	patterns, err := h.svc.Patterns(r.Context(), org, window)
	if err != nil {
		h.logger.Error("aggregation failed", "error", err, "org", org)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "aggregation failed")
		return
	}
	writeJSON(w, r, http.StatusOK, patterns)
}

type orgKnowledgeResponse struct {
	Knowledge model.OrgKnowledge `json:"knowledge"`
	Health    float64            `json:"health"`
}

// HandleOrgKnowledge returns the org rollup plus its health score.
func (h *Handlers) HandleOrgKnowledge(w http.ResponseWriter, r *http.Request) {
	org := r.PathValue("org")
	window := queryInt(r.URL.Query().Get("window_days"), 0)

	knowledge, err := h.svc.OrgKnowledge(r.Context(), org, window)
	if err != nil {
		h.logger.Error("synthesis failed", "error", err, "org", org)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "synthesis failed")
		return
	}
	health, err := h.svc.OrgHealth(r.Context(), org, window)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "synthesis failed")
		return
	}
	writeJSON(w, r, http.StatusOK, orgKnowledgeResponse{Knowledge: knowledge, Health: health})
}

// HandlePolicies lists an org's policies. With ?infer=true the full
// pipeline runs first and the fresh policies are persisted before listing.
func (h *Handlers) HandlePolicies(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org")
	if org == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "org query parameter is required")
		return
	}

	if r.URL.Query().Get("infer") == "true" {
		window := queryInt(r.URL.Query().Get("window_days"), 0)
		if _, err := h.svc.InferPolicies(r.Context(), org, window); err != nil {
			h.logger.Error("inference failed", "error", err, "org", org)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "inference failed")
			return
		}
	}

	policies, err := h.svc.Policies(r.Context(), org)
	if err != nil {
		h.logger.Error("policy list failed", "error", err, "org", org)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "policy list failed")
		return
	}
	writeJSON(w, r, http.StatusOK, policies)
}

// HandleRefinePolicy refines one policy from outcomes recorded since its
// creation.
func (h *Handlers) HandleRefinePolicy(w http.ResponseWriter, r *http.Request) {
	policyID := r.PathValue("id")
	org := r.URL.Query().Get("org")
	if org == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "org query parameter is required")
		return
	}

	refined, err := h.svc.RefinePolicy(r.Context(), org, policyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "policy not found")
			return
		}
		h.logger.Error("refinement failed", "error", err, "policy", policyID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "refinement failed")
		return
	}
	writeJSON(w, r, http.StatusOK, refined)
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
