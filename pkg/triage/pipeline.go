package triage

import (
	"context"
	"errors"
	"fmt"

	"github.com/smarttriage/platform/pkg/classifier"
	"github.com/smarttriage/platform/pkg/common/logger"
	"github.com/smarttriage/platform/pkg/common/models"
	"github.com/smarttriage/platform/pkg/intake"
	"github.com/smarttriage/platform/pkg/observability/metrics"
	"github.com/smarttriage/platform/pkg/patient"
)

type State string

const (
	StateIdle        State = "idle"
	StateValidating  State = "validating"
	StateInserting   State = "inserting"
	StateClassifying State = "classifying"
	StateFinalizing  State = "finalizing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// ErrResultNotSaved marks a run whose classification succeeded but could not
// be written back. The patient stays stored unclassified.
var ErrResultNotSaved = errors.New("classification ran but the result could not be saved")

// Store is the subset of the patient repository the pipeline writes through.
type Store interface {
	Insert(ctx context.Context, p *models.Patient) (*models.Patient, error)
	Update(ctx context.Context, id string, c models.Classification) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Run is the record of one submission. Transitions lists every state entered,
// starting at idle and ending at done or failed.
type Run struct {
	State       State           `json:"state"`
	Transitions []State         `json:"transitions"`
	FailedAt    State           `json:"failed_at,omitempty"`
	Patient     *models.Patient `json:"patient,omitempty"`
	Err         error           `json:"-"`
}

func newRun() *Run {
	return &Run{State: StateIdle, Transitions: []State{StateIdle}}
}

func (r *Run) to(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

func (r *Run) fail(err error) error {
	r.FailedAt = r.State
	r.Err = err
	r.to(StateFailed)
	return err
}

const eventSource = "triage-service"

// Pipeline sequences insert, classify and update for one intake form. It
// never rolls back the insert and never retries a failed step.
type Pipeline struct {
	store      Store
	classifier classifier.Client
	events     EventPublisher
	guard      Guard
}

type Option func(*Pipeline)

func WithEvents(events EventPublisher) Option {
	return func(p *Pipeline) { p.events = events }
}

func WithGuard(guard Guard) Option {
	return func(p *Pipeline) { p.guard = guard }
}

func NewPipeline(store Store, client classifier.Client, opts ...Option) *Pipeline {
	p := &Pipeline{store: store, classifier: client}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Submit runs the pipeline for form. key identifies the logical submission;
// a second Submit with the same key while the first is running fails with
// ErrSubmissionInFlight. An empty key disables the check.
//
// The returned Run is never nil. On failure after the insert, Run.Patient is
// the stored unclassified record.
func (p *Pipeline) Submit(ctx context.Context, key string, form *intake.Controller) (*Run, error) {
	run := newRun()

	if key != "" && p.guard != nil {
		release, err := p.guard.Acquire(ctx, key)
		switch {
		case errors.Is(err, ErrSubmissionInFlight):
			return run, run.fail(err)
		case err != nil:
			logger.FromContext(ctx).WithError(err).Warn("submission guard unavailable, continuing without it")
		default:
			defer release()
		}
	}

	form.SetSubmitting(true)
	defer form.SetSubmitting(false)
	metrics.ObserveSubmissionStarted()

	run.to(StateValidating)
	submission, err := form.BuildSubmission()
	if err != nil {
		metrics.ObserveSubmissionFailed(metrics.StageValidating)
		return run, run.fail(err)
	}

	run.to(StateInserting)
	stored, err := p.store.Insert(ctx, submission)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("failed to insert patient")
		metrics.ObserveSubmissionFailed(metrics.StageInserting)
		return run, run.fail(&patient.PersistenceError{Op: "insert", Err: err})
	}
	run.Patient = stored
	log := logger.FromContext(ctx).WithField("patient_id", stored.ID)
	p.publish(ctx, models.EventPatientSubmitted, stored.ID, nil)

	run.to(StateClassifying)
	classification, err := p.classifier.Triage(ctx, stored.TriageInput())
	if err != nil {
		log.WithError(err).Error("classification failed, patient left unclassified")
		metrics.ObserveSubmissionFailed(metrics.StageClassifying)
		p.publish(ctx, models.EventPatientClassificationFailed, stored.ID, map[string]interface{}{"error": err.Error()})
		if !classifier.IsRemoteProcedureError(err) {
			err = &classifier.RemoteProcedureError{Action: classifier.ActionTriage, Err: err}
		}
		return run, run.fail(err)
	}

	run.to(StateFinalizing)
	if err := p.store.Update(ctx, stored.ID, classification); err != nil {
		log.WithError(err).Error("failed to save classification, patient left unclassified")
		metrics.ObserveSubmissionFailed(metrics.StageFinalizing)
		p.publish(ctx, models.EventPatientResultNotSaved, stored.ID, map[string]interface{}{"error": err.Error()})
		return run, run.fail(fmt.Errorf("%w: %w", ErrResultNotSaved, &patient.PersistenceError{Op: "update", Err: err}))
	}

	merged := stored.WithClassification(classification)
	run.Patient = &merged
	run.to(StateDone)
	metrics.ObserveSubmissionCompleted()
	p.publish(ctx, models.EventPatientClassified, stored.ID, map[string]interface{}{
		"risk_level":             string(classification.RiskLevel),
		"recommended_department": classification.RecommendedDepartment,
		"confidence_score":       classification.ConfidenceScore,
	})
	log.WithField("risk_level", classification.RiskLevel).Info("patient triaged")

	return run, nil
}

// publish is best effort: a lost event never fails a submission.
func (p *Pipeline) publish(ctx context.Context, eventType, patientID string, data map[string]interface{}) {
	if p.events == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["patient_id"] = patientID
	if err := p.events.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("event_type", eventType).Warn("failed to publish triage event")
	}
}
