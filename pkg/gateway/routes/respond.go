package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/smarttriage/platform/pkg/classifier"
	"github.com/smarttriage/platform/pkg/common/logger"
	"github.com/smarttriage/platform/pkg/documents"
	"github.com/smarttriage/platform/pkg/intake"
	"github.com/smarttriage/platform/pkg/patient"
	"github.com/smarttriage/platform/pkg/triage"
)

// Error kinds reported in the "error" field of failed responses.
const (
	kindValidation = "validation"
	kindInFlight   = "in_flight"
	kindRemote     = "remote_procedure"
	kindNotFound   = "not_found"
	kindPersisting = "persistence"
	kindTooLarge   = "too_large"
	kindInternal   = "internal"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Stage   string   `json:"stage,omitempty"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.WithError(err).Error("failed to write json response")
	}
}

// classify maps err to a status and error kind. Storage failures win over
// not-found so a failed write-back is never reported as a missing patient.
func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case intake.IsValidationError(err):
		return http.StatusBadRequest, kindValidation
	case errors.Is(err, documents.ErrEmptyDocument):
		return http.StatusBadRequest, kindValidation
	case errors.Is(err, documents.ErrDocumentTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, kindTooLarge
	case errors.Is(err, triage.ErrSubmissionInFlight):
		return http.StatusConflict, kindInFlight
	case errors.Is(err, triage.ErrResultNotSaved), patient.IsPersistenceError(err):
		return http.StatusInternalServerError, kindPersisting
	case errors.Is(err, patient.ErrNotFound):
		return http.StatusNotFound, kindNotFound
	case classifier.IsRemoteProcedureError(err):
		return http.StatusBadGateway, kindRemote
	}
	return http.StatusInternalServerError, kindInternal
}

// errorBody maps err to a status code and the JSON error body. Server-side
// failures are logged; client mistakes are not.
func errorBody(r *http.Request, err error, stage string) (int, errorResponse) {
	status, kind := classify(err)
	body := errorResponse{Error: kind, Stage: stage, Message: err.Error()}

	var ve intake.ValidationError
	if errors.As(err, &ve) {
		body.Fields = ve.Fields
	}

	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).WithError(err).WithField("stage", stage).Error("request failed")
	}
	return status, body
}

func respondError(w http.ResponseWriter, r *http.Request, err error, stage string) {
	status, body := errorBody(r, err, stage)
	respondJSON(w, status, body)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return intake.NewValidationError("body", err)
	}
	return nil
}
