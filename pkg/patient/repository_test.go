package patient

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/smarttriage/platform/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var patientColumns = []string{
	"id", "age", "gender", "symptoms", "symptoms_text", "blood_pressure", "heart_rate",
	"temperature", "pre_existing_conditions", "risk_level", "confidence_score",
	"recommended_department", "contributing_factors", "ai_explanation", "created_at",
}

func setupRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	repo := NewRepository(db)
	repo.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return repo, mock
}

func TestInsertAssignsIdentityAndClearsClassification(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectExec(`INSERT INTO "patients"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	risk := models.RiskHigh
	in := &models.Patient{
		Age:       45,
		Gender:    models.GenderFemale,
		Symptoms:  datatypes.JSONSlice[string]{"Chest Pain"},
		RiskLevel: &risk,
	}

	out, err := repo.Insert(context.Background(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC), out.CreatedAt)
	assert.Nil(t, out.RiskLevel)
	assert.Empty(t, out.ContributingFactors)
	assert.NotNil(t, out.PreExistingConditions)
	assert.Empty(t, in.ID, "input must not be mutated")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPropagatesDriverError(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectExec(`INSERT INTO "patients"`).
		WillReturnError(assert.AnError)

	_, err := repo.Insert(context.Background(), &models.Patient{Age: 30, Gender: models.GenderMale})
	require.ErrorIs(t, err, assert.AnError)
}

func TestUpdateWritesClassification(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectExec(`UPDATE "patients" SET .*"risk_level"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "p-1", models.Classification{
		RiskLevel:             models.RiskHigh,
		ConfidenceScore:       92,
		RecommendedDepartment: "Cardiology",
		ContributingFactors:   []models.ContributingFactor{{Factor: "Chest Pain", Weight: "high"}},
		Explanation:           "Possible acute coronary syndrome",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingRowIsNotFound(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectExec(`UPDATE "patients"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), "missing", models.Classification{RiskLevel: models.RiskLow})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSelectAllOrdersByRecency(t *testing.T) {
	repo, mock := setupRepository(t)

	newer := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(patientColumns).
		AddRow("p-2", 60, "Male", []byte(`["Fever"]`), nil, nil, nil, nil, []byte(`[]`),
			"Low", 71.5, "General Medicine", []byte(`[{"factor":"Fever","weight":"low"}]`), "Mild", newer).
		AddRow("p-1", 45, "Female", []byte(`["Chest Pain"]`), nil, "150/95", 110, 99.1, []byte(`["Hypertension"]`),
			nil, nil, nil, []byte(`[]`), nil, older)

	mock.ExpectQuery(`SELECT \* FROM "patients" ORDER BY created_at DESC`).WillReturnRows(rows)

	patients, err := repo.SelectAll(context.Background())
	require.NoError(t, err)
	require.Len(t, patients, 2)

	assert.Equal(t, "p-2", patients[0].ID)
	require.NotNil(t, patients[0].RiskLevel)
	assert.Equal(t, models.RiskLow, *patients[0].RiskLevel)
	assert.Equal(t, "Fever", patients[0].ContributingFactors[0].Factor)

	assert.Equal(t, "p-1", patients[1].ID)
	assert.Nil(t, patients[1].RiskLevel)
	require.NotNil(t, patients[1].HeartRate)
	assert.Equal(t, 110, *patients[1].HeartRate)
	assert.Equal(t, []string{"Hypertension"}, []string(patients[1].PreExistingConditions))
}

func TestSelectByIDNotFound(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectQuery(`SELECT \* FROM "patients" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(patientColumns))

	_, err := repo.SelectByID(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
