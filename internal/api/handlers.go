package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightreach/engagement-engine/internal/experiment"
	"github.com/brightreach/engagement-engine/internal/insights"
	"github.com/brightreach/engagement-engine/internal/segment"
	"github.com/brightreach/engagement-engine/internal/visibility"
)

// SegmentResolver resolves a visitor's segment and records explicit choices.
type SegmentResolver interface {
	ResolveVisitor(ctx context.Context, vc segment.VisitorContext) segment.Resolution
	CommitChoice(ctx context.Context, vc segment.VisitorContext, seg segment.Segment) segment.Segment
}

// ExperimentService manages experiment lifecycle, variant assignment, and
// conversion attribution.
type ExperimentService interface {
	CreateDraft(ctx context.Context, key string, targeting experiment.Targeting, variants []experiment.Variant) (*experiment.Experiment, error)
	GetOrAssign(ctx context.Context, visitorID, key string, seg segment.Segment) (*experiment.Variant, error)
	RecordConversion(ctx context.Context, visitorID, key, goal string) error
	Activate(ctx context.Context, id uuid.UUID) error
	ConversionResults(ctx context.Context, key string) (map[uuid.UUID]int, error)
}

// InsightsProvider serves cached engagement aggregates.
type InsightsProvider interface {
	GetSendTimeInsights(ctx context.Context, scope insights.Scope, scopeID string) (*insights.SendTimeInsights, error)
	ComputeTimeSeries(ctx context.Context, subjectID string, metric insights.EventType, interval insights.Interval) ([]insights.DataPoint, error)
}

// ResolutionRecorder counts resolutions by source. Nil disables counting.
type ResolutionRecorder interface {
	ResolutionRecorded(source string)
}

// Handlers holds all HTTP handlers and their collaborators.
type Handlers struct {
	resolver    SegmentResolver
	experiments ExperimentService
	insights    InsightsProvider
	recorder    ResolutionRecorder
}

// NewHandlers creates the handler set. recorder may be nil.
func NewHandlers(resolver SegmentResolver, experiments ExperimentService, ip InsightsProvider, recorder ResolutionRecorder) *Handlers {
	return &Handlers{
		resolver:    resolver,
		experiments: experiments,
		insights:    ip,
		recorder:    recorder,
	}
}

// ResolveSegment resolves the visitor's segment through the precedence chain.
//
//	POST /api/segment/resolve
func (h *Handlers) ResolveSegment(w http.ResponseWriter, r *http.Request) {
	var vc segment.VisitorContext
	if err := json.NewDecoder(r.Body).Decode(&vc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if vc.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	res := h.resolver.ResolveVisitor(r.Context(), vc)
	if h.recorder != nil {
		h.recorder.ResolutionRecorded(string(res.Source))
	}
	respondJSON(w, http.StatusOK, res)
}

type choiceRequest struct {
	segment.VisitorContext
	Segment segment.Segment `json:"segment"`
}

// CommitChoice persists an explicit persona choice to the right store for the
// visitor's auth state.
//
//	POST /api/segment/choice
func (h *Handlers) CommitChoice(w http.ResponseWriter, r *http.Request) {
	var req choiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if !req.Segment.Normalize().IsResolved() {
		respondError(w, http.StatusBadRequest, "segment requires a valid persona")
		return
	}

	committed := h.resolver.CommitChoice(r.Context(), req.VisitorContext, req.Segment)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"segment": committed,
	})
}

type createExperimentRequest struct {
	Key       string               `json:"key"`
	Targeting experiment.Targeting `json:"targeting"`
	Variants  []experiment.Variant `json:"variants"`
}

// CreateExperiment creates a draft experiment. Drafts serve no traffic until
// activated.
//
//	POST /api/experiments
func (h *Handlers) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Key == "" {
		respondError(w, http.StatusBadRequest, "key is required")
		return
	}

	exp, err := h.experiments.CreateDraft(r.Context(), req.Key, req.Targeting, req.Variants)
	if err != nil {
		respondExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, exp)
}

type assignRequest struct {
	VisitorID string          `json:"visitor_id"`
	Segment   segment.Segment `json:"segment"`
}

// AssignVariant returns the visitor's variant for an experiment, assigning one
// on first contact. A null variant means the control/default experience.
//
//	POST /api/experiments/{key}/assign
func (h *Handlers) AssignVariant(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VisitorID == "" {
		respondError(w, http.StatusBadRequest, "visitor_id is required")
		return
	}

	v, err := h.experiments.GetOrAssign(r.Context(), req.VisitorID, key, req.Segment)
	if err != nil {
		respondExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"experiment_key": key,
		"variant":        v,
	})
}

type convertRequest struct {
	VisitorID string `json:"visitor_id"`
	Goal      string `json:"goal"`
}

// RecordConversion attributes a goal event to the visitor's assignment.
// Conversions from unassigned visitors are accepted and dropped.
//
//	POST /api/experiments/{key}/convert
func (h *Handlers) RecordConversion(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VisitorID == "" || req.Goal == "" {
		respondError(w, http.StatusBadRequest, "visitor_id and goal are required")
		return
	}

	if err := h.experiments.RecordConversion(r.Context(), req.VisitorID, key, req.Goal); err != nil {
		respondExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// ActivateExperiment transitions a draft experiment to active after checking
// for targeting conflicts with experiments already live on the same key.
//
//	POST /api/experiments/{id}/activate
func (h *Handlers) ActivateExperiment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "key"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid experiment id")
		return
	}

	if err := h.experiments.Activate(r.Context(), id); err != nil {
		respondExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(experiment.StatusActive)})
}

// GetExperimentResults reports per-variant conversion counts, de-duplicated
// first-write per (visitor, goal).
//
//	GET /api/experiments/{key}/results
func (h *Handlers) GetExperimentResults(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	counts, err := h.experiments.ConversionResults(r.Context(), key)
	if err != nil {
		respondExperimentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"experiment_key": key,
		"conversions":    counts,
	})
}

type projectRequest struct {
	Segment          segment.Segment          `json:"segment"`
	Catalog          []visibility.CatalogItem `json:"catalog"`
	PreferredSection string                   `json:"preferred_section"`
}

// ProjectVisibility computes which page sections are visible for a segment
// and picks a navigation landing section with fallback.
//
//	POST /api/visibility/project
func (h *Handlers) ProjectVisibility(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	visible := visibility.Project(req.Segment.Normalize(), req.Catalog)
	landing := visibility.NavigationFallback(req.PreferredSection, visible)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sections":        visible,
		"landing_section": landing,
	})
}

// GetSendTimeInsights serves the 168-bucket send-time aggregate.
//
//	GET /api/insights/send-times?scope=all|subject&scope_id=
func (h *Handlers) GetSendTimeInsights(w http.ResponseWriter, r *http.Request) {
	scope := insights.Scope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = insights.ScopeAll
	}
	scopeID := r.URL.Query().Get("scope_id")

	out, err := h.insights.GetSendTimeInsights(r.Context(), scope, scopeID)
	if err != nil {
		if errors.Is(err, insights.ErrInvalidScope) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to compute send-time insights")
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// GetTimeSeries serves per-subject engagement counts bucketed by interval.
//
//	GET /api/insights/time-series?subject_id=&metric=&interval=
func (h *Handlers) GetTimeSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subjectID := q.Get("subject_id")
	if subjectID == "" {
		respondError(w, http.StatusBadRequest, "subject_id is required")
		return
	}
	metric := insights.EventType(q.Get("metric"))
	interval := insights.Interval(q.Get("interval"))
	if interval == "" {
		interval = insights.IntervalDay
	}

	points, err := h.insights.ComputeTimeSeries(r.Context(), subjectID, metric, interval)
	if err != nil {
		if errors.Is(err, insights.ErrInvalidMetric) || errors.Is(err, insights.ErrInvalidInterval) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to compute time series")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"subject_id": subjectID,
		"metric":     metric,
		"interval":   interval,
		"points":     points,
	})
}

// respondExperimentError maps experiment service errors to HTTP statuses.
func respondExperimentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, experiment.ErrNotFound):
		respondError(w, http.StatusNotFound, "experiment not found")
	case errors.Is(err, experiment.ErrConfigConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, experiment.ErrNotActivatable):
		respondError(w, http.StatusConflict, "experiment is not in draft status")
	case errors.Is(err, experiment.ErrNoVariants):
		respondError(w, http.StatusUnprocessableEntity, "experiment has no variants")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
