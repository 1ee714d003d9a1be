package audit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/smarttriage/platform/pkg/common/logger"
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/audit/patients/{id}", h.handleList).Methods(http.MethodGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	entries, err := h.repo.ListByPatient(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("failed to list audit entries")
		http.Error(w, "failed to list audit entries", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": entries})
}
