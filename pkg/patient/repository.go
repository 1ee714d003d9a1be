package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smarttriage/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("patient not found")

// Repository is the row store for triage cases.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&models.Patient{})
}

// Insert stores the pre-classification fields of p and returns the stored
// record with its id and created_at assigned. Classification fields on p are
// ignored.
func (r *Repository) Insert(ctx context.Context, p *models.Patient) (*models.Patient, error) {
	rec := *p
	rec.ID = uuid.New().String()
	rec.CreatedAt = r.now().UTC()
	rec.RiskLevel = nil
	rec.ConfidenceScore = nil
	rec.RecommendedDepartment = nil
	rec.AIExplanation = nil
	rec.ContributingFactors = datatypes.JSONSlice[models.ContributingFactor]{}
	if rec.PreExistingConditions == nil {
		rec.PreExistingConditions = datatypes.JSONSlice[string]{}
	}

	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update writes every classification field of one patient in a single
// statement.
func (r *Repository) Update(ctx context.Context, id string, c models.Classification) error {
	factors := datatypes.JSONSlice[models.ContributingFactor]{}
	factors = append(factors, c.ContributingFactors...)

	result := r.db.WithContext(ctx).Model(&models.Patient{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"risk_level":             string(c.RiskLevel),
			"confidence_score":       c.ConfidenceScore,
			"recommended_department": c.RecommendedDepartment,
			"contributing_factors":   factors,
			"ai_explanation":         c.Explanation,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SelectAll returns every patient, most recent first.
func (r *Repository) SelectAll(ctx context.Context) ([]models.Patient, error) {
	var patients []models.Patient
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&patients).Error
	return patients, err
}

func (r *Repository) SelectByID(ctx context.Context, id string) (*models.Patient, error) {
	var p models.Patient
	result := r.db.WithContext(ctx).First(&p, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &p, nil
}
