package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/smarttriage/platform/pkg/common/logger"
	"github.com/smarttriage/platform/pkg/common/models"
	"github.com/smarttriage/platform/pkg/dashboard"
	"github.com/smarttriage/platform/pkg/documents"
	"github.com/smarttriage/platform/pkg/intake"
	"github.com/smarttriage/platform/pkg/patient"
	"github.com/smarttriage/platform/pkg/results"
	"github.com/smarttriage/platform/pkg/testutil"
	"github.com/smarttriage/platform/pkg/triage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discardBlobs struct{ paths []string }

func (d *discardBlobs) UploadBlob(_ context.Context, path, _ string, _ []byte) error {
	d.paths = append(d.paths, path)
	return nil
}

type fixture struct {
	router *mux.Router
	store  *testutil.MemoryStore
	fn     *testutil.FakeClassifier
	guard  *triage.MemoryGuard
	blobs  *discardBlobs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger.InitWithOutput("test", io.Discard)

	f := &fixture{
		store: testutil.NewMemoryStore(),
		fn: &testutil.FakeClassifier{Result: models.Classification{
			RiskLevel:             models.RiskHigh,
			ConfidenceScore:       88,
			RecommendedDepartment: "Cardiology",
			ContributingFactors:   []models.ContributingFactor{{Factor: "Chest Pain", Weight: "high"}},
			Explanation:           "Cardiac symptoms.",
		}},
		guard: triage.NewMemoryGuard(),
		blobs: &discardBlobs{},
	}

	catalog := intake.DefaultCatalog()
	agg := dashboard.NewAggregator(f.store, f.fn)
	res := results.NewService(f.store)
	pipeline := triage.NewPipeline(f.store, f.fn, triage.WithGuard(f.guard))
	docs := documents.NewService(f.blobs, f.fn, 1<<20)

	f.router = mux.NewRouter()
	NewHealthHandler("triage-service", map[string]Check{
		"postgres": func(context.Context) error { return nil },
	}).Register(f.router)
	api := f.router.PathPrefix("/api/v1").Subrouter()
	NewIntakeHandler(catalog, pipeline, docs, res, agg, 1<<20).Register(api)
	NewResultsHandler(res).Register(api)
	NewDashboardHandler(agg).Register(api)
	NewMetricsHandler(nil).Register(api)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func validForm() intake.Form {
	return intake.Form{Age: "45", Gender: "Female", Symptoms: []string{"Chest Pain"}, PreExistingConditions: []string{"None"}}
}

func TestLandingAndProbes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	links := decode(t, rec)["links"].(map[string]interface{})
	assert.Equal(t, "/api/v1/dashboard", links["dashboard"])

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", nil, nil).Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Contains(t, rec.Body.String(), "triage_submissions_started_total")
}

func TestReadyFailsWhenCheckFails(t *testing.T) {
	router := mux.NewRouter()
	NewHealthHandler("triage-service", map[string]Check{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}).Register(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/intake/catalog", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var catalog intake.Catalog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalog))
	assert.Contains(t, catalog.Symptoms, "Chest Pain")
	assert.Contains(t, catalog.Conditions, "None")
}

func TestToggle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/intake/toggle", toggleRequest{
		Form:  intake.Form{Symptoms: []string{"Fever"}},
		Field: intake.FieldSymptoms,
		Item:  "Cough",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp formResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Fever", "Cough"}, resp.Form.Symptoms)

	rec = f.do(t, http.MethodPost, "/api/v1/intake/toggle", toggleRequest{Field: intake.FieldSymptoms, Item: "Hiccups"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode(t, rec)["error"])
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/intake/validate", formRequest{Form: intake.Form{Age: "45"}}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []interface{}{"gender", "symptoms"}, body["fields"])

	rec = f.do(t, http.MethodPost, "/api/v1/intake/validate", formRequest{Form: validForm()}, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/intake/submit", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitThenResultsAndDashboard(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/intake/submit", formRequest{Form: validForm()}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Patient)
	assert.Equal(t, triage.StateDone, resp.States[len(resp.States)-1])
	require.NotNil(t, resp.Result)
	assert.Equal(t, "High Risk", resp.Result.RiskLabel)
	assert.Equal(t, "/api/v1/results/"+resp.Patient.ID, resp.Next)

	rec = f.do(t, http.MethodGet, resp.Next, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view results.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "High Risk", view.RiskLabel)
	assert.Equal(t, "Cardiology", view.Department)

	rec = f.do(t, http.MethodGet, "/api/v1/dashboard?risk=High&selected="+resp.Patient.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dash dashboard.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	require.Len(t, dash.Queue, 1)
	assert.Equal(t, 1, dash.RiskCounts[models.RiskHigh])
	require.NotNil(t, dash.Selected)
	assert.Equal(t, resp.Patient.ID, dash.Selected.ID)
}

func TestSubmitClassificationFailure(t *testing.T) {
	f := newFixture(t)
	f.fn.TriageErr = errors.New("function unavailable")

	rec := f.do(t, http.MethodPost, "/api/v1/intake/submit", formRequest{Form: validForm()}, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "remote_procedure", body["error"])
	assert.Equal(t, "classifying", body["stage"])
	id := body["patient"].(map[string]interface{})["id"].(string)

	rec = f.do(t, http.MethodGet, "/api/v1/dashboard", nil, nil)
	var dash dashboard.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	require.Len(t, dash.Queue, 1)
	assert.Equal(t, id, dash.Queue[0].ID)
	assert.Equal(t, "Pending", dash.Queue[0].RiskBadge)
}

func TestSubmitUpdateFailureIsServerError(t *testing.T) {
	f := newFixture(t)
	f.store.UpdateErr = patient.ErrNotFound

	rec := f.do(t, http.MethodPost, "/api/v1/intake/submit", formRequest{Form: validForm()}, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "persistence", body["error"])
	assert.Equal(t, "finalizing", body["stage"])
	require.NotNil(t, body["patient"])
	assert.Nil(t, body["patient"].(map[string]interface{})["risk_level"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"result not saved", fmt.Errorf("%w: %w", triage.ErrResultNotSaved, &patient.PersistenceError{Op: "update", Err: patient.ErrNotFound}), http.StatusInternalServerError, kindPersisting},
		{"missing patient", &results.NotFoundError{ID: "x"}, http.StatusNotFound, kindNotFound},
		{"select failure", &patient.PersistenceError{Op: "select", Err: errors.New("timeout")}, http.StatusInternalServerError, kindPersisting},
		{"in flight", triage.ErrSubmissionInFlight, http.StatusConflict, kindInFlight},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, kindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestSubmitValidationFailure(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/intake/submit", formRequest{Form: intake.Form{}}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "validating", body["stage"])
	assert.Nil(t, body["patient"])
}

func TestSubmitInFlightKeyConflicts(t *testing.T) {
	f := newFixture(t)
	release, err := f.guard.Acquire(context.Background(), "form-7")
	require.NoError(t, err)
	defer release()

	rec := f.do(t, http.MethodPost, "/api/v1/intake/submit", formRequest{Form: validForm()},
		map[string]string{SubmissionKeyHeader: "form-7"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "in_flight", decode(t, rec)["error"])
}

func TestResultsNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/results/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, results.IntakePath, decode(t, rec)["intake"])
}

func TestDocumentUploadMergesParsedFields(t *testing.T) {
	f := newFixture(t)
	age := 71
	f.fn.Parsed = models.ParsedDocument{Age: &age, Symptoms: []string{"Dizziness"}}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "discharge.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.7"))
	require.NoError(t, err)
	current, _ := json.Marshal(intake.Form{Gender: "Male", Age: "70"})
	require.NoError(t, mw.WriteField("form", string(current)))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/intake/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "71", resp.Form.Age)
	assert.Equal(t, "Male", resp.Form.Gender)
	assert.Equal(t, []string{"Dizziness"}, resp.Form.Symptoms)
	require.Len(t, f.blobs.paths, 1)
	assert.Regexp(t, `\.pdf$`, f.blobs.paths[0])
}

func TestDocumentUploadWithoutFile(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("form", "{}"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/intake/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboardSelectionToggle(t *testing.T) {
	f := newFixture(t)
	f.store.Put(models.Patient{ID: "p1", Age: 30, Gender: models.GenderMale})

	rec := f.do(t, http.MethodGet, "/api/v1/dashboard?selected=p1&toggle=p1", nil, nil)
	var dash dashboard.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	assert.Nil(t, dash.Selected)

	rec = f.do(t, http.MethodGet, "/api/v1/dashboard?toggle=p1", nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	require.NotNil(t, dash.Selected)
	assert.Equal(t, "p1", dash.Selected.ID)
}

func TestDashboardKeepsSnapshotWithWarning(t *testing.T) {
	f := newFixture(t)
	f.store.Put(models.Patient{ID: "p1", Age: 30, Gender: models.GenderMale})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/dashboard", nil, nil).Code)

	f.store.SelectErr = errors.New("db down")
	rec := f.do(t, http.MethodGet, "/api/v1/dashboard", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.NotEmpty(t, body["warning"])
	assert.Len(t, body["queue"], 1)
}

func TestSynthetic(t *testing.T) {
	f := newFixture(t)
	f.fn.OnSynthetic = func() {
		f.store.Put(models.Patient{ID: "synthetic-1", Age: 52, Gender: models.GenderOther})
	}

	rec := f.do(t, http.MethodPost, "/api/v1/dashboard/synthetic", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["queue"], 1)

	f.fn.SyntheticErr = errors.New("quota exceeded")
	rec = f.do(t, http.MethodPost, "/api/v1/dashboard/synthetic", nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPipelineStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/pipelines/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []PipelineStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Len(t, statuses, 3)
}
