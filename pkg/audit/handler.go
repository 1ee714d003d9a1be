package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/smarttriage/platform/pkg/common/kafka"
	"github.com/smarttriage/platform/pkg/common/logger"
	"github.com/smarttriage/platform/pkg/common/models"
	"github.com/smarttriage/platform/pkg/dlp"
)

var ErrMissingEventID = errors.New("event has no id")

type Appender interface {
	Append(ctx context.Context, entry Entry) (bool, error)
}

type Recorder struct {
	store    Appender
	redactor *dlp.Redactor
}

// NewRecorder stores events through store. A non-nil redactor masks
// identifiers in payload strings first.
func NewRecorder(store Appender, redactor *dlp.Redactor) *Recorder {
	return &Recorder{store: store, redactor: redactor}
}

// HandleEvent is a kafka.EventHandler. Store errors are returned as is so the
// consumer retries the same event; an event without an id is skipped.
func (r *Recorder) HandleEvent(ctx context.Context, event models.Event) error {
	if event.ID == "" {
		return kafka.Permanent(ErrMissingEventID)
	}

	patientID, _ := event.Data["patient_id"].(string)
	inserted, err := r.store.Append(ctx, Entry{
		EventID:    event.ID,
		Type:       event.Type,
		Source:     event.Source,
		PatientID:  patientID,
		Payload:    r.redactor.Map(event.Data),
		OccurredAt: event.Timestamp.UTC(),
	})
	if err != nil {
		return fmt.Errorf("append audit entry %s: %w", event.ID, err)
	}

	log := logger.FromContext(ctx).WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"patient_id": patientID,
	})
	if !inserted {
		log.Debug("duplicate event ignored")
		return nil
	}
	log.Info("event recorded")
	return nil
}
