package routes

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/smarttriage/platform/pkg/common/logger"
	"github.com/smarttriage/platform/pkg/observability/metrics"
	"gorm.io/gorm"
)

// MetricsHandler serves operational summaries read straight from the
// patients table plus the in-process pipeline counters.
type MetricsHandler struct {
	db *gorm.DB
}

type OverviewMetrics struct {
	PatientsTotal     int              `json:"patientsTotal"`
	PendingTotal      int              `json:"pendingTotal"`
	SubmittedLastHour int              `json:"submittedLastHour"`
	HighRiskLastHour  int              `json:"highRiskLastHour"`
	AverageConfidence float64          `json:"averageConfidence"`
	PipelineCounters  map[string]int64 `json:"pipelineCounters"`
}

type PipelineStatus struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
	Details   string    `json:"details"`
}

func NewMetricsHandler(db *gorm.DB) *MetricsHandler {
	return &MetricsHandler{db: db}
}

func (h *MetricsHandler) Register(r *mux.Router) {
	r.HandleFunc("/metrics/overview", h.handleOverview).Methods(http.MethodGet)
	r.HandleFunc("/pipelines/status", h.handlePipelineStatus).Methods(http.MethodGet)
}

func (h *MetricsHandler) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.collect(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("failed to collect metrics")
		http.Error(w, "failed to collect metrics", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, overview)
}

func (h *MetricsHandler) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	counters := metrics.Snapshot()
	now := time.Now().UTC()

	started := counters["submissions_started"]
	completed := counters["submissions_completed"]
	statuses := []PipelineStatus{
		{
			ID:        "intake",
			Stage:     "Validate ➝ Insert",
			Status:    deriveStatus(counters["failed_inserting"] == 0, started == 0 || completed > 0),
			UpdatedAt: now,
			Details:   fmt.Sprintf("%d started • %d insert failures", started, counters["failed_inserting"]),
		},
		{
			ID:        "classification",
			Stage:     "Triage function ➝ Update",
			Status:    deriveStatus(counters["failed_classifying"] == 0, counters["failed_finalizing"] == 0),
			UpdatedAt: now,
			Details: fmt.Sprintf("%d classified • %d remote failures • %d not saved",
				completed, counters["failed_classifying"], counters["failed_finalizing"]),
		},
		{
			ID:        "documents",
			Stage:     "Upload ➝ Parse",
			Status:    deriveStatus(counters["documents_failed"] == 0, true),
			UpdatedAt: now,
			Details:   fmt.Sprintf("%d parsed • %d failed", counters["documents_parsed"], counters["documents_failed"]),
		},
	}

	respondJSON(w, http.StatusOK, statuses)
}

func (h *MetricsHandler) collect(ctx context.Context) (OverviewMetrics, error) {
	overview := OverviewMetrics{PipelineCounters: metrics.Snapshot()}
	db := h.db.WithContext(ctx)

	var total sql.NullInt64
	if err := db.Raw(`SELECT COUNT(*) FROM patients`).Scan(&total).Error; err != nil {
		return overview, err
	}
	overview.PatientsTotal = int(total.Int64)

	var pending sql.NullInt64
	if err := db.Raw(`SELECT COUNT(*) FROM patients WHERE risk_level IS NULL`).Scan(&pending).Error; err != nil {
		return overview, err
	}
	overview.PendingTotal = int(pending.Int64)

	var recent struct {
		Submitted sql.NullInt64   `gorm:"column:submitted"`
		HighRisk  sql.NullInt64   `gorm:"column:high_risk"`
		Average   sql.NullFloat64 `gorm:"column:avg_confidence"`
	}
	if err := db.Raw(`
		SELECT
			COUNT(*) AS submitted,
			COUNT(*) FILTER (WHERE risk_level = 'High') AS high_risk,
			AVG(confidence_score) AS avg_confidence
		FROM patients
		WHERE created_at > NOW() - INTERVAL '1 hour'
	`).Scan(&recent).Error; err != nil {
		return overview, err
	}
	overview.SubmittedLastHour = int(recent.Submitted.Int64)
	overview.HighRiskLastHour = int(recent.HighRisk.Int64)
	if recent.Average.Valid {
		overview.AverageConfidence = recent.Average.Float64
	}

	return overview, nil
}

func deriveStatus(conditionA, conditionB bool) string {
	switch {
	case conditionA && conditionB:
		return "healthy"
	case conditionA || conditionB:
		return "degraded"
	default:
		return "failing"
	}
}
