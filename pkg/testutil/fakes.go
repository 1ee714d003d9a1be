// Package testutil holds in-memory stand-ins for the patient store and the
// triage function, shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smarttriage/platform/pkg/common/models"
	"github.com/smarttriage/platform/pkg/patient"
	"gorm.io/datatypes"
)

// MemoryStore mimics patient.Repository. Setting one of the *Err fields makes
// the matching call fail.
type MemoryStore struct {
	mu       sync.Mutex
	patients map[string]models.Patient
	seq      int
	clock    time.Time

	InsertErr error
	UpdateErr error
	SelectErr error

	Updates int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients: make(map[string]models.Patient),
		clock:    time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (s *MemoryStore) Insert(_ context.Context, p *models.Patient) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return nil, s.InsertErr
	}
	s.seq++
	rec := *p
	rec.ID = fmt.Sprintf("patient-%d", s.seq)
	rec.CreatedAt = s.clock.Add(time.Duration(s.seq) * time.Minute)
	rec.ContributingFactors = datatypes.JSONSlice[models.ContributingFactor]{}
	s.patients[rec.ID] = rec
	return &rec, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, c models.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	rec, ok := s.patients[id]
	if !ok {
		return patient.ErrNotFound
	}
	s.patients[id] = rec.WithClassification(c)
	s.Updates++
	return nil
}

func (s *MemoryStore) SelectAll(_ context.Context) ([]models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SelectErr != nil {
		return nil, s.SelectErr
	}
	out := make([]models.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SelectByID(_ context.Context, id string) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SelectErr != nil {
		return nil, s.SelectErr
	}
	rec, ok := s.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return &rec, nil
}

// Put stores p as-is, for seeding.
func (s *MemoryStore) Put(p models.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
}

// FakeClassifier answers every action from its fields.
type FakeClassifier struct {
	mu sync.Mutex

	Result    models.Classification
	TriageErr error

	Parsed   models.ParsedDocument
	ParseErr error

	SyntheticErr error
	OnSynthetic  func()

	TriageInputs []models.TriageInput
	ParsedPaths  []string
}

func (f *FakeClassifier) Triage(_ context.Context, input models.TriageInput) (models.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TriageInputs = append(f.TriageInputs, input)
	if f.TriageErr != nil {
		return models.Classification{}, f.TriageErr
	}
	return f.Result, nil
}

func (f *FakeClassifier) ParseDocument(_ context.Context, filePath string) (models.ParsedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ParsedPaths = append(f.ParsedPaths, filePath)
	if f.ParseErr != nil {
		return models.ParsedDocument{}, f.ParseErr
	}
	return f.Parsed, nil
}

func (f *FakeClassifier) GenerateSynthetic(_ context.Context) error {
	if f.SyntheticErr != nil {
		return f.SyntheticErr
	}
	if f.OnSynthetic != nil {
		f.OnSynthetic()
	}
	return nil
}

// RecordingPublisher keeps every published event type in order.
type RecordingPublisher struct {
	mu     sync.Mutex
	Types  []string
	Events []map[string]interface{}
	Err    error
}

func (p *RecordingPublisher) PublishEvent(_ context.Context, eventType string, _ string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Types = append(p.Types, eventType)
	p.Events = append(p.Events, data)
	return p.Err
}
