package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/smarttriage/platform/pkg/common/models"
	"github.com/smarttriage/platform/pkg/dashboard"
	"github.com/smarttriage/platform/pkg/documents"
	"github.com/smarttriage/platform/pkg/intake"
	"github.com/smarttriage/platform/pkg/results"
	"github.com/smarttriage/platform/pkg/triage"
)

// SubmissionKeyHeader carries the client's idempotency key for a submit.
const SubmissionKeyHeader = "X-Submission-Key"

type IntakeHandler struct {
	catalog   intake.Catalog
	pipeline  *triage.Pipeline
	documents *documents.Service
	results   *results.Service
	dashboard *dashboard.Aggregator
	maxUpload int64
}

func NewIntakeHandler(
	catalog intake.Catalog,
	pipeline *triage.Pipeline,
	docs *documents.Service,
	res *results.Service,
	agg *dashboard.Aggregator,
	maxUpload int64,
) *IntakeHandler {
	return &IntakeHandler{
		catalog:   catalog,
		pipeline:  pipeline,
		documents: docs,
		results:   res,
		dashboard: agg,
		maxUpload: maxUpload,
	}
}

func (h *IntakeHandler) Register(r *mux.Router) {
	r.HandleFunc("/intake/catalog", h.handleCatalog).Methods(http.MethodGet)
	r.HandleFunc("/intake/toggle", h.handleToggle).Methods(http.MethodPost)
	r.HandleFunc("/intake/validate", h.handleValidate).Methods(http.MethodPost)
	r.HandleFunc("/intake/documents", h.handleDocument).Methods(http.MethodPost)
	r.HandleFunc("/intake/submit", h.handleSubmit).Methods(http.MethodPost)
}

type toggleRequest struct {
	Form  intake.Form  `json:"form"`
	Field intake.Field `json:"field"`
	Item  string       `json:"item"`
}

type formRequest struct {
	Form intake.Form `json:"form"`
}

type formResponse struct {
	Form intake.Form `json:"form"`
}

type documentResponse struct {
	Parsed models.ParsedDocument `json:"parsed"`
	Form   intake.Form           `json:"form"`
}

type submitResponse struct {
	Patient *models.Patient `json:"patient,omitempty"`
	States  []triage.State  `json:"states"`
	Result  *results.View   `json:"result,omitempty"`
	Next    string          `json:"next,omitempty"`
}

type submitErrorResponse struct {
	errorResponse
	Patient *models.Patient `json:"patient,omitempty"`
	States  []triage.State  `json:"states"`
}

func (h *IntakeHandler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.catalog)
}

func (h *IntakeHandler) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, "")
		return
	}

	form := intake.NewController(h.catalog, req.Form)
	if err := form.ToggleSelection(req.Item, req.Field); err != nil {
		respondError(w, r, err, "")
		return
	}
	respondJSON(w, http.StatusOK, formResponse{Form: form.Form()})
}

func (h *IntakeHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req formRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, "")
		return
	}

	if err := intake.NewController(h.catalog, req.Form).Validate(); err != nil {
		respondError(w, r, err, string(triage.StateValidating))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDocument accepts a multipart upload with a "file" part and an
// optional "form" part holding the current form as JSON. The parsed fields
// are merged into that form.
func (h *IntakeHandler) handleDocument(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(w, r, err, "upload")
			return
		}
		respondError(w, r, intake.NewValidationError("file", err), "upload")
		return
	}

	var current intake.Form
	if raw := r.FormValue("form"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			respondError(w, r, intake.NewValidationError("form", err), "upload")
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, intake.NewValidationError("file", err), "upload")
		return
	}
	defer file.Close()

	form := intake.NewController(h.catalog, current)
	form.SetUploading(true)
	defer form.SetUploading(false)

	parsed, err := h.documents.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		respondError(w, r, err, "upload")
		return
	}

	form.ApplyParsedDocument(parsed)
	respondJSON(w, http.StatusOK, documentResponse{Parsed: parsed, Form: form.Form()})
}

func (h *IntakeHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req formRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, string(triage.StateValidating))
		return
	}

	form := intake.NewController(h.catalog, req.Form)
	run, err := h.pipeline.Submit(r.Context(), r.Header.Get(SubmissionKeyHeader), form)
	if run.Patient != nil && h.dashboard != nil {
		h.dashboard.ApplyUpdate(*run.Patient)
	}
	if err != nil {
		status, body := errorBody(r, err, string(run.FailedAt))
		respondJSON(w, status, submitErrorResponse{
			errorResponse: body,
			Patient:       run.Patient,
			States:        run.Transitions,
		})
		return
	}

	view, err := h.results.Get(r.Context(), run.Patient.ID, run.Patient)
	if err != nil {
		respondError(w, r, err, string(triage.StateDone))
		return
	}
	respondJSON(w, http.StatusCreated, submitResponse{
		Patient: run.Patient,
		States:  run.Transitions,
		Result:  view,
		Next:    resultsPath(run.Patient.ID),
	})
}
