package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/smarttriage/platform/pkg/results"
)

type ResultsHandler struct {
	service *results.Service
}

func NewResultsHandler(service *results.Service) *ResultsHandler {
	return &ResultsHandler{service: service}
}

func (h *ResultsHandler) Register(r *mux.Router) {
	r.HandleFunc("/results/{id}", h.handleResult).Methods(http.MethodGet)
}

type notFoundResponse struct {
	errorResponse
	Intake string `json:"intake"`
}

func (h *ResultsHandler) handleResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	view, err := h.service.Get(r.Context(), id, nil)
	if err != nil {
		status, body := errorBody(r, err, "")
		if status == http.StatusNotFound {
			respondJSON(w, status, notFoundResponse{errorResponse: body, Intake: results.IntakePath})
			return
		}
		respondJSON(w, status, body)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func resultsPath(id string) string {
	return "/api/v1/results/" + id
}
