package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/smarttriage/platform/pkg/common/models"
	"github.com/smarttriage/platform/pkg/patient"
)

const IntakePath = "/intake"

var riskLabels = map[models.RiskLevel]string{
	models.RiskLow:    "Low Risk",
	models.RiskMedium: "Medium Risk",
	models.RiskHigh:   "High Risk",
}

// NotFoundError is returned for a results request with no stored patient.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("patient %s not found", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return patient.ErrNotFound
}

type Reader interface {
	SelectByID(ctx context.Context, id string) (*models.Patient, error)
}

type View struct {
	Patient         models.Patient              `json:"patient"`
	Classified      bool                        `json:"classified"`
	RiskLabel       string                      `json:"risk_label"`
	Department      string                      `json:"department"`
	ConfidenceScore *float64                    `json:"confidence_score"`
	Factors         []models.ContributingFactor `json:"contributing_factors"`
	Explanation     string                      `json:"explanation,omitempty"`
}

type Service struct {
	store Reader
}

func NewService(store Reader) *Service {
	return &Service{store: store}
}

// Get builds the results view for id. A cached patient with the same id is
// used as-is so a just-submitted record is shown without another read.
func (s *Service) Get(ctx context.Context, id string, cached *models.Patient) (*View, error) {
	if cached != nil && cached.ID == id {
		v := Build(*cached)
		return &v, nil
	}

	p, err := s.store.SelectByID(ctx, id)
	if errors.Is(err, patient.ErrNotFound) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, &patient.PersistenceError{Op: "select", Err: err}
	}
	v := Build(*p)
	return &v, nil
}

func Build(p models.Patient) View {
	v := View{
		Patient:         p,
		Classified:      p.Classified(),
		RiskLabel:       "Pending",
		Department:      "Pending",
		ConfidenceScore: p.ConfidenceScore,
		Factors:         append([]models.ContributingFactor{}, p.ContributingFactors...),
	}
	if p.RiskLevel != nil {
		if label, ok := riskLabels[*p.RiskLevel]; ok {
			v.RiskLabel = label
		}
	}
	if p.RecommendedDepartment != nil && *p.RecommendedDepartment != "" {
		v.Department = *p.RecommendedDepartment
	}
	if p.AIExplanation != nil {
		v.Explanation = *p.AIExplanation
	}
	return v
}
