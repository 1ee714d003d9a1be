package models

import (
	"time"

	"gorm.io/datatypes"
)

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

type RiskLevel string

const (
	RiskHigh   RiskLevel = "High"
	RiskMedium RiskLevel = "Medium"
	RiskLow    RiskLevel = "Low"
)

// RiskLevels lists the classified levels in display precedence.
var RiskLevels = []RiskLevel{RiskHigh, RiskMedium, RiskLow}

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskHigh, RiskMedium, RiskLow:
		return true
	}
	return false
}

type ContributingFactor struct {
	Factor string `json:"factor"`
	Weight string `json:"weight"`
}

// Patient
type Patient struct {
	ID                    string                                  `json:"id" gorm:"primaryKey;column:id"`
	Age                   int                                     `json:"age" gorm:"column:age"`
	Gender                Gender                                  `json:"gender" gorm:"column:gender"`
	Symptoms              datatypes.JSONSlice[string]             `json:"symptoms" gorm:"column:symptoms"`
	SymptomsText          *string                                 `json:"symptoms_text" gorm:"column:symptoms_text"`
	BloodPressure         *string                                 `json:"blood_pressure" gorm:"column:blood_pressure"`
	HeartRate             *int                                    `json:"heart_rate" gorm:"column:heart_rate"`
	Temperature           *float64                                `json:"temperature" gorm:"column:temperature"`
	PreExistingConditions datatypes.JSONSlice[string]             `json:"pre_existing_conditions" gorm:"column:pre_existing_conditions"`
	RiskLevel             *RiskLevel                              `json:"risk_level" gorm:"column:risk_level"`
	ConfidenceScore       *float64                                `json:"confidence_score" gorm:"column:confidence_score"`
	RecommendedDepartment *string                                 `json:"recommended_department" gorm:"column:recommended_department"`
	ContributingFactors   datatypes.JSONSlice[ContributingFactor] `json:"contributing_factors" gorm:"column:contributing_factors"`
	AIExplanation         *string                                 `json:"ai_explanation" gorm:"column:ai_explanation"`
	CreatedAt             time.Time                               `json:"created_at" gorm:"column:created_at"`
}

func (Patient) TableName() string {
	return "patients"
}

// Classified reports whether the classification fields have been written.
func (p Patient) Classified() bool {
	return p.RiskLevel != nil
}

// WithClassification returns a copy of p carrying the classification fields.
func (p Patient) WithClassification(c Classification) Patient {
	risk := c.RiskLevel
	confidence := c.ConfidenceScore
	department := c.RecommendedDepartment
	explanation := c.Explanation
	p.RiskLevel = &risk
	p.ConfidenceScore = &confidence
	p.RecommendedDepartment = &department
	p.AIExplanation = &explanation
	p.ContributingFactors = append(datatypes.JSONSlice[ContributingFactor]{}, c.ContributingFactors...)
	return p
}

// Remote classification procedure
type Classification struct {
	RiskLevel             RiskLevel            `json:"risk_level"`
	ConfidenceScore       float64              `json:"confidence_score"`
	RecommendedDepartment string               `json:"recommended_department"`
	ContributingFactors   []ContributingFactor `json:"contributing_factors"`
	Explanation           string               `json:"explanation"`
}

// TriageInput is the pre-classification payload sent with the "triage" action.
type TriageInput struct {
	Age                   int      `json:"age"`
	Gender                Gender   `json:"gender"`
	Symptoms              []string `json:"symptoms"`
	SymptomsText          *string  `json:"symptoms_text"`
	BloodPressure         *string  `json:"blood_pressure"`
	HeartRate             *int     `json:"heart_rate"`
	Temperature           *float64 `json:"temperature"`
	PreExistingConditions []string `json:"pre_existing_conditions"`
}

func (p Patient) TriageInput() TriageInput {
	return TriageInput{
		Age:                   p.Age,
		Gender:                p.Gender,
		Symptoms:              append([]string{}, p.Symptoms...),
		SymptomsText:          p.SymptomsText,
		BloodPressure:         p.BloodPressure,
		HeartRate:             p.HeartRate,
		Temperature:           p.Temperature,
		PreExistingConditions: append([]string{}, p.PreExistingConditions...),
	}
}

// ParsedDocument is the sparse result of the "parse-document" action. Every
// field is optional; absent fields are nil or empty.
type ParsedDocument struct {
	Age                   *int     `json:"age,omitempty"`
	Gender                *string  `json:"gender,omitempty"`
	Symptoms              []string `json:"symptoms,omitempty"`
	SymptomsText          *string  `json:"symptoms_text,omitempty"`
	BloodPressure         *string  `json:"blood_pressure,omitempty"`
	HeartRate             *int     `json:"heart_rate,omitempty"`
	Temperature           *float64 `json:"temperature,omitempty"`
	PreExistingConditions []string `json:"pre_existing_conditions,omitempty"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventPatientSubmitted            = "patient.submitted"
	EventPatientClassified           = "patient.classified"
	EventPatientClassificationFailed = "patient.classification_failed"
	EventPatientResultNotSaved       = "patient.result_not_saved"
	EventSyntheticGenerated          = "patient.synthetic_generated"
)
