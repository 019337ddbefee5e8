package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightreach/engagement-engine/internal/experiment"
	"github.com/brightreach/engagement-engine/internal/insights"
	"github.com/brightreach/engagement-engine/internal/segment"
)

type fakeResolver struct {
	resolution segment.Resolution
	committed  segment.Segment
}

func (f *fakeResolver) ResolveVisitor(ctx context.Context, vc segment.VisitorContext) segment.Resolution {
	return f.resolution
}

func (f *fakeResolver) CommitChoice(ctx context.Context, vc segment.VisitorContext, seg segment.Segment) segment.Segment {
	f.committed = seg.Normalize()
	return f.committed
}

type fakeExperiments struct {
	variant    *experiment.Variant
	results    map[uuid.UUID]int
	assignErr  error
	convertErr error
	activerr   error

	lastVisitor string
	lastKey     string
	lastGoal    string
	activatedID uuid.UUID
}

func (f *fakeExperiments) CreateDraft(ctx context.Context, key string, targeting experiment.Targeting, variants []experiment.Variant) (*experiment.Experiment, error) {
	if len(variants) == 0 {
		return nil, experiment.ErrNoVariants
	}
	f.lastKey = key
	return &experiment.Experiment{
		ID:        uuid.New(),
		Key:       key,
		Targeting: targeting,
		Status:    experiment.StatusDraft,
		Variants:  variants,
	}, nil
}

func (f *fakeExperiments) GetOrAssign(ctx context.Context, visitorID, key string, seg segment.Segment) (*experiment.Variant, error) {
	f.lastVisitor, f.lastKey = visitorID, key
	return f.variant, f.assignErr
}

func (f *fakeExperiments) RecordConversion(ctx context.Context, visitorID, key, goal string) error {
	f.lastVisitor, f.lastKey, f.lastGoal = visitorID, key, goal
	return f.convertErr
}

func (f *fakeExperiments) Activate(ctx context.Context, id uuid.UUID) error {
	f.activatedID = id
	return f.activerr
}

func (f *fakeExperiments) ConversionResults(ctx context.Context, key string) (map[uuid.UUID]int, error) {
	f.lastKey = key
	return f.results, nil
}

type fakeInsights struct {
	sendTimes *insights.SendTimeInsights
	points    []insights.DataPoint
	err       error
}

func (f *fakeInsights) GetSendTimeInsights(ctx context.Context, scope insights.Scope, scopeID string) (*insights.SendTimeInsights, error) {
	if scope != insights.ScopeAll && scope != insights.ScopeSubject {
		return nil, fmt.Errorf("%w: %q", insights.ErrInvalidScope, scope)
	}
	return f.sendTimes, f.err
}

func (f *fakeInsights) ComputeTimeSeries(ctx context.Context, subjectID string, metric insights.EventType, interval insights.Interval) ([]insights.DataPoint, error) {
	if metric != insights.EventSent && metric != insights.EventOpened && metric != insights.EventClicked {
		return nil, fmt.Errorf("%w: %q", insights.ErrInvalidMetric, metric)
	}
	return f.points, f.err
}

type countingRecorder struct {
	sources []string
}

func (c *countingRecorder) ResolutionRecorded(source string) {
	c.sources = append(c.sources, source)
}

func newTestRouter(t *testing.T, res *fakeResolver, exp *fakeExperiments, ins *fakeInsights, rec *countingRecorder) http.Handler {
	t.Helper()
	var recorder ResolutionRecorder
	if rec != nil {
		recorder = rec
	}
	h := NewHandlers(res, exp, ins, recorder)
	hc := NewHealthChecker(nil, nil)
	return SetupRoutes(h, hc, prometheus.NewRegistry())
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestResolveSegment(t *testing.T) {
	res := &fakeResolver{resolution: segment.Resolution{
		Segment: segment.Segment{Persona: segment.PersonaDonor, FunnelStage: segment.StageDecision},
		Source:  segment.SourceAccountPreference,
	}}
	rec := &countingRecorder{}
	router := newTestRouter(t, res, &fakeExperiments{}, &fakeInsights{}, rec)

	w := postJSON(t, router, "/api/segment/resolve", segment.VisitorContext{
		VisitorID: "v1", SessionID: "s1", Authenticated: true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var got segment.Resolution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, segment.PersonaDonor, got.Segment.Persona)
	assert.Equal(t, segment.SourceAccountPreference, got.Source)
	assert.Equal(t, []string{"account_preference"}, rec.sources)
}

func TestResolveSegmentRequiresSession(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/segment/resolve", segment.VisitorContext{VisitorID: "v1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommitChoice(t *testing.T) {
	res := &fakeResolver{}
	router := newTestRouter(t, res, &fakeExperiments{}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/segment/choice", map[string]interface{}{
		"session_id": "s1",
		"segment":    map[string]string{"persona": "volunteer", "funnel_stage": "consideration"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, segment.PersonaVolunteer, res.committed.Persona)
}

func TestCommitChoiceRejectsInvalidPersona(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/segment/choice", map[string]interface{}{
		"session_id": "s1",
		"segment":    map[string]string{"persona": "wizard"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssignVariant(t *testing.T) {
	exp := &fakeExperiments{variant: &experiment.Variant{
		ID: uuid.New(), Name: "hero-b", ContentRef: "content:hero-b",
	}}
	router := newTestRouter(t, &fakeResolver{}, exp, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/experiments/homepage-hero/assign", assignRequest{
		VisitorID: "v1",
		Segment:   segment.Segment{Persona: segment.PersonaDonor},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "homepage-hero", exp.lastKey)
	assert.Equal(t, "v1", exp.lastVisitor)

	var got struct {
		ExperimentKey string              `json:"experiment_key"`
		Variant       *experiment.Variant `json:"variant"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotNil(t, got.Variant)
	assert.Equal(t, "hero-b", got.Variant.Name)
}

func TestAssignVariantControlPath(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{variant: nil}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/experiments/homepage-hero/assign", assignRequest{VisitorID: "v1"})
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Variant *experiment.Variant `json:"variant"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Nil(t, got.Variant)
}

func TestAssignVariantConflict(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{assignErr: experiment.ErrConfigConflict}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/experiments/homepage-hero/assign", assignRequest{VisitorID: "v1"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAssignVariantRequiresVisitor(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/experiments/homepage-hero/assign", assignRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordConversion(t *testing.T) {
	exp := &fakeExperiments{}
	router := newTestRouter(t, &fakeResolver{}, exp, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/experiments/homepage-hero/convert", convertRequest{
		VisitorID: "v1", Goal: "donation",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "donation", exp.lastGoal)
}

func TestRecordConversionRequiresGoal(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/experiments/homepage-hero/convert", convertRequest{VisitorID: "v1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActivateExperiment(t *testing.T) {
	exp := &fakeExperiments{}
	router := newTestRouter(t, &fakeResolver{}, exp, &fakeInsights{}, nil)

	id := uuid.New()
	w := postJSON(t, router, "/api/experiments/"+id.String()+"/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, exp.activatedID)
}

func TestActivateExperimentBadID(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/experiments/not-a-uuid/activate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActivateExperimentConflict(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{activerr: experiment.ErrConfigConflict}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/experiments/"+uuid.NewString()+"/activate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestActivateExperimentNotFound(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{activerr: experiment.ErrNotFound}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/experiments/"+uuid.NewString()+"/activate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateExperiment(t *testing.T) {
	exp := &fakeExperiments{}
	router := newTestRouter(t, &fakeResolver{}, exp, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/experiments", createExperimentRequest{
		Key:       "hero-copy",
		Targeting: experiment.Targeting{Persona: "donor"},
		Variants:  []experiment.Variant{{Name: "warm"}, {Name: "urgent"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var got experiment.Experiment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, experiment.StatusDraft, got.Status)
	assert.Equal(t, "hero-copy", got.Key)
}

func TestCreateExperimentValidation(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/experiments", createExperimentRequest{
		Targeting: experiment.Targeting{Persona: "donor"},
		Variants:  []experiment.Variant{{Name: "warm"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing key")

	w = postJSON(t, router, "/api/experiments", createExperimentRequest{Key: "hero-copy"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "no variants")
}

func TestGetExperimentResults(t *testing.T) {
	variantID := uuid.New()
	exp := &fakeExperiments{results: map[uuid.UUID]int{variantID: 7}}
	router := newTestRouter(t, &fakeResolver{}, exp, &fakeInsights{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/experiments/homepage-hero/results", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "homepage-hero", exp.lastKey)

	var got struct {
		Conversions map[uuid.UUID]int `json:"conversions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 7, got.Conversions[variantID])
}

func TestProjectVisibility(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{}, &fakeInsights{}, nil)

	w := postJSON(t, router, "/api/visibility/project", map[string]interface{}{
		"segment": map[string]string{"persona": "donor"},
		"catalog": []map[string]interface{}{
			{
				"id": "a", "section_key": "donation", "is_active": true,
				"targeting": []map[string]string{{"persona": "donor", "funnel_stage": "all"}},
			},
			{
				"id": "b", "section_key": "services", "is_active": true,
				"targeting": []map[string]string{{"persona": "student", "funnel_stage": "all"}},
			},
		},
		"preferred_section": "services",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Sections       map[string]bool `json:"sections"`
		LandingSection string          `json:"landing_section"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Sections["donation"])
	assert.False(t, got.Sections["services"])
	// Preferred section is hidden for donors, priority fallback kicks in.
	assert.Equal(t, "donation", got.LandingSection)
}

func TestGetSendTimeInsights(t *testing.T) {
	ins := &fakeInsights{sendTimes: &insights.SendTimeInsights{
		Status:            insights.StatusOK,
		BaselineSendCount: 500,
	}}
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{}, ins, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/insights/send-times?scope=all", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got insights.SendTimeInsights
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 500, got.BaselineSendCount)
}

func TestGetSendTimeInsightsInvalidScope(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{}, &fakeInsights{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/insights/send-times?scope=galaxy", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTimeSeries(t *testing.T) {
	ins := &fakeInsights{points: []insights.DataPoint{{Count: 3}}}
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{}, ins, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/insights/time-series?subject_id=camp-1&metric=opened&interval=day", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Points []insights.DataPoint `json:"points"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Points, 1)
	assert.Equal(t, 3, got.Points[0].Count)
}

func TestGetTimeSeriesValidation(t *testing.T) {
	router := newTestRouter(t, &fakeResolver{}, &fakeExperiments{}, &fakeInsights{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/insights/time-series?metric=opened", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing subject_id")

	req = httptest.NewRequest(http.MethodGet, "/api/insights/time-series?subject_id=c1&metric=teleported", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown metric")
}
