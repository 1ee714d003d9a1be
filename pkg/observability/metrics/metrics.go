package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

var (
	submissionsStarted   atomic.Int64
	submissionsCompleted atomic.Int64
	failedValidation     atomic.Int64
	failedInsert         atomic.Int64
	failedClassify       atomic.Int64
	failedFinalize       atomic.Int64
	documentsParsed      atomic.Int64
	documentsFailed      atomic.Int64
	dashboardFetches     atomic.Int64
	dashboardFetchErrors atomic.Int64
)

// Stage names used for failed submissions.
const (
	StageValidating  = "validating"
	StageInserting   = "inserting"
	StageClassifying = "classifying"
	StageFinalizing  = "finalizing"
)

func ObserveSubmissionStarted() { submissionsStarted.Add(1) }

func ObserveSubmissionCompleted() { submissionsCompleted.Add(1) }

func ObserveSubmissionFailed(stage string) {
	switch stage {
	case StageValidating:
		failedValidation.Add(1)
	case StageInserting:
		failedInsert.Add(1)
	case StageClassifying:
		failedClassify.Add(1)
	case StageFinalizing:
		failedFinalize.Add(1)
	}
}

func ObserveDocument(ok bool) {
	if ok {
		documentsParsed.Add(1)
		return
	}
	documentsFailed.Add(1)
}

func ObserveDashboardFetch(ok bool) {
	dashboardFetches.Add(1)
	if !ok {
		dashboardFetchErrors.Add(1)
	}
}

// Snapshot returns the current counter values keyed by metric name.
func Snapshot() map[string]int64 {
	return map[string]int64{
		"submissions_started":    submissionsStarted.Load(),
		"submissions_completed":  submissionsCompleted.Load(),
		"failed_validating":      failedValidation.Load(),
		"failed_inserting":       failedInsert.Load(),
		"failed_classifying":     failedClassify.Load(),
		"failed_finalizing":      failedFinalize.Load(),
		"documents_parsed":       documentsParsed.Load(),
		"documents_failed":       documentsFailed.Load(),
		"dashboard_fetches":      dashboardFetches.Load(),
		"dashboard_fetch_errors": dashboardFetchErrors.Load(),
	}
}

func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w)
	})
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeCounter(w, "triage_submissions_started_total", "Intake submissions that entered the pipeline.", submissionsStarted.Load())
	writeCounter(w, "triage_submissions_completed_total", "Intake submissions classified and saved.", submissionsCompleted.Load())

	fmt.Fprintf(w, "# HELP triage_submissions_failed_total Intake submissions that failed, by pipeline stage.\n")
	fmt.Fprintf(w, "# TYPE triage_submissions_failed_total counter\n")
	fmt.Fprintf(w, "triage_submissions_failed_total{stage=%q} %d\n", StageValidating, failedValidation.Load())
	fmt.Fprintf(w, "triage_submissions_failed_total{stage=%q} %d\n", StageInserting, failedInsert.Load())
	fmt.Fprintf(w, "triage_submissions_failed_total{stage=%q} %d\n", StageClassifying, failedClassify.Load())
	fmt.Fprintf(w, "triage_submissions_failed_total{stage=%q} %d\n", StageFinalizing, failedFinalize.Load())

	writeCounter(w, "triage_documents_parsed_total", "Uploaded documents parsed by the triage function.", documentsParsed.Load())
	writeCounter(w, "triage_documents_failed_total", "Uploaded documents that could not be stored or parsed.", documentsFailed.Load())
	writeCounter(w, "triage_dashboard_fetches_total", "Dashboard snapshot fetches.", dashboardFetches.Load())
	writeCounter(w, "triage_dashboard_fetch_errors_total", "Dashboard snapshot fetches that failed.", dashboardFetchErrors.Load())
}

func writeCounter(w io.Writer, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
