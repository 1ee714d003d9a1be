package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/smarttriage/platform/pkg/dashboard"
)

type DashboardHandler struct {
	aggregator *dashboard.Aggregator
}

func NewDashboardHandler(aggregator *dashboard.Aggregator) *DashboardHandler {
	return &DashboardHandler{aggregator: aggregator}
}

func (h *DashboardHandler) Register(r *mux.Router) {
	r.HandleFunc("/dashboard", h.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/synthetic", h.handleSynthetic).Methods(http.MethodPost)
}

// dashboardResponse carries a warning when the snapshot could not be
// refreshed and the previous one is being shown.
type dashboardResponse struct {
	dashboard.View
	Warning string `json:"warning,omitempty"`
}

// handleDashboard refreshes the snapshot and renders it. Query parameters:
// risk and department filter the queue, selected is the currently selected
// patient and toggle flips the selection for one patient.
func (h *DashboardHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	resp := dashboardResponse{}
	if err := h.aggregator.Fetch(r.Context()); err != nil {
		resp.Warning = err.Error()
	}

	resp.View = h.aggregator.View(r.URL.Query().Get("risk"), r.URL.Query().Get("department"), selectionFrom(r))
	respondJSON(w, http.StatusOK, resp)
}

func (h *DashboardHandler) handleSynthetic(w http.ResponseWriter, r *http.Request) {
	if err := h.aggregator.GenerateSynthetic(r.Context()); err != nil {
		respondError(w, r, err, "synthetic")
		return
	}
	view := h.aggregator.View(r.URL.Query().Get("risk"), r.URL.Query().Get("department"), selectionFrom(r))
	respondJSON(w, http.StatusOK, dashboardResponse{View: view})
}

func selectionFrom(r *http.Request) dashboard.Selection {
	q := r.URL.Query()
	selection := dashboard.NewSelection(q.Get("selected"))
	if toggle := q.Get("toggle"); toggle != "" {
		selection = selection.Toggle(toggle)
	}
	return selection
}
