package dashboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smarttriage/platform/pkg/classifier"
	"github.com/smarttriage/platform/pkg/common/logger"
	"github.com/smarttriage/platform/pkg/common/models"
	"github.com/smarttriage/platform/pkg/observability/metrics"
	"github.com/smarttriage/platform/pkg/patient"
)

// All is the wildcard value for the risk and department filters.
const All = "all"

// PendingLabel is shown wherever a classification field is still absent.
const PendingLabel = "Pending"

type Reader interface {
	SelectAll(ctx context.Context) ([]models.Patient, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Aggregator owns the fetched patient snapshot. The snapshot changes only on
// Fetch or ApplyUpdate; every view is derived from it.
type Aggregator struct {
	store      Reader
	classifier classifier.Client
	events     EventPublisher

	mu        sync.RWMutex
	snapshot  []models.Patient
	fetchedAt time.Time
	selection Selection
}

type Option func(*Aggregator)

func WithEvents(events EventPublisher) Option {
	return func(a *Aggregator) { a.events = events }
}

func NewAggregator(store Reader, client classifier.Client, opts ...Option) *Aggregator {
	a := &Aggregator{store: store, classifier: client}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fetch replaces the snapshot with every stored patient, most recent first.
// On failure the previous snapshot is kept.
func (a *Aggregator) Fetch(ctx context.Context) error {
	patients, err := a.store.SelectAll(ctx)
	if err != nil {
		metrics.ObserveDashboardFetch(false)
		logger.FromContext(ctx).WithError(err).Warn("failed to load patients, keeping previous snapshot")
		return &patient.PersistenceError{Op: "select", Err: err}
	}
	metrics.ObserveDashboardFetch(true)

	a.mu.Lock()
	a.snapshot = patients
	a.fetchedAt = time.Now().UTC()
	a.mu.Unlock()
	return nil
}

// ApplyUpdate merges one changed patient into the snapshot without a refetch.
// Unknown patients are prepended as the most recent.
func (a *Aggregator) ApplyUpdate(p models.Patient) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.snapshot {
		if a.snapshot[i].ID == p.ID {
			a.snapshot[i] = p
			return
		}
	}
	a.snapshot = append([]models.Patient{p}, a.snapshot...)
}

// GenerateSynthetic asks the triage function to insert synthetic patients and
// refreshes the snapshot.
func (a *Aggregator) GenerateSynthetic(ctx context.Context) error {
	if err := a.classifier.GenerateSynthetic(ctx); err != nil {
		logger.FromContext(ctx).WithError(err).Error("synthetic data generation failed")
		if !classifier.IsRemoteProcedureError(err) {
			err = &classifier.RemoteProcedureError{Action: classifier.ActionGenerateSynthetic, Err: err}
		}
		return err
	}
	if a.events != nil {
		if err := a.events.PublishEvent(ctx, models.EventSyntheticGenerated, "triage-service", nil); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("failed to publish synthetic event")
		}
	}
	return a.Fetch(ctx)
}

func (a *Aggregator) Patients() []models.Patient {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]models.Patient(nil), a.snapshot...)
}

func (a *Aggregator) FetchedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fetchedAt
}

func (a *Aggregator) Filter(risk, department string) []models.Patient {
	return Filter(a.Patients(), risk, department)
}

func (a *Aggregator) RiskCounts() map[models.RiskLevel]int {
	return RiskCounts(a.Patients())
}

func (a *Aggregator) DepartmentLoad() map[string]int {
	return DepartmentLoad(a.Patients())
}

// Select toggles the selected patient and returns the new selection.
func (a *Aggregator) Select(id string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selection = a.selection.Toggle(id)
	return a.selection.ID()
}

func (a *Aggregator) Selected() *models.Patient {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.selection.Resolve(a.snapshot)
}

// Filter keeps a patient when its risk level and department match, with All
// matching anything. An unclassified patient never matches a concrete risk.
func Filter(patients []models.Patient, risk, department string) []models.Patient {
	out := make([]models.Patient, 0, len(patients))
	for _, p := range patients {
		if risk != All && (p.RiskLevel == nil || string(*p.RiskLevel) != risk) {
			continue
		}
		if department != All && (p.RecommendedDepartment == nil || *p.RecommendedDepartment != department) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func riskRank(p models.Patient) int {
	if p.RiskLevel == nil {
		return 3
	}
	switch *p.RiskLevel {
	case models.RiskHigh:
		return 0
	case models.RiskMedium:
		return 1
	case models.RiskLow:
		return 2
	}
	return 3
}

// Sort orders by risk, High first and unclassified last. Equal risks keep
// their input order. The input slice is not modified.
func Sort(patients []models.Patient) []models.Patient {
	out := append([]models.Patient(nil), patients...)
	sort.SliceStable(out, func(i, j int) bool {
		return riskRank(out[i]) < riskRank(out[j])
	})
	return out
}

func RiskCounts(patients []models.Patient) map[models.RiskLevel]int {
	counts := make(map[models.RiskLevel]int, len(models.RiskLevels))
	for _, level := range models.RiskLevels {
		counts[level] = 0
	}
	for _, p := range patients {
		if p.RiskLevel == nil {
			continue
		}
		if _, ok := counts[*p.RiskLevel]; ok {
			counts[*p.RiskLevel]++
		}
	}
	return counts
}

// DepartmentLoad counts patients per recommended department. Patients shown
// as Pending, including those with an empty department, are not counted.
func DepartmentLoad(patients []models.Patient) map[string]int {
	load := make(map[string]int)
	for _, p := range patients {
		if hasDepartment(p) {
			load[*p.RecommendedDepartment]++
		}
	}
	return load
}

func hasDepartment(p models.Patient) bool {
	return p.RecommendedDepartment != nil && *p.RecommendedDepartment != ""
}

type DepartmentCount struct {
	Department string `json:"department"`
	Count      int    `json:"count"`
}

// DepartmentLoadOrdered is DepartmentLoad in first-seen order.
func DepartmentLoadOrdered(patients []models.Patient) []DepartmentCount {
	index := make(map[string]int)
	var out []DepartmentCount
	for _, p := range patients {
		if !hasDepartment(p) {
			continue
		}
		dept := *p.RecommendedDepartment
		if i, ok := index[dept]; ok {
			out[i].Count++
			continue
		}
		index[dept] = len(out)
		out = append(out, DepartmentCount{Department: dept, Count: 1})
	}
	return out
}

// Selection is an exclusive single selection. Selecting the selected patient
// clears it.
type Selection struct {
	id string
}

func NewSelection(id string) Selection {
	return Selection{id: id}
}

func (s Selection) Toggle(id string) Selection {
	if id == "" || s.id == id {
		return Selection{}
	}
	return Selection{id: id}
}

func (s Selection) ID() string {
	return s.id
}

func (s Selection) Resolve(patients []models.Patient) *models.Patient {
	if s.id == "" {
		return nil
	}
	for i := range patients {
		if patients[i].ID == s.id {
			p := patients[i]
			return &p
		}
	}
	return nil
}
