package intake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/smarttriage/platform/pkg/common/models"
	"gorm.io/datatypes"
)

// Field names a multi-select field of the form.
type Field string

const (
	FieldSymptoms   Field = "symptoms"
	FieldConditions Field = "pre_existing_conditions"
)

// Form is the in-progress intake input exactly as entered. Numeric fields
// stay text until BuildSubmission.
type Form struct {
	Age                   string   `json:"age"`
	Gender                string   `json:"gender"`
	Symptoms              []string `json:"symptoms"`
	SymptomsText          string   `json:"symptoms_text"`
	BloodPressure         string   `json:"blood_pressure"`
	HeartRate             string   `json:"heart_rate"`
	Temperature           string   `json:"temperature"`
	PreExistingConditions []string `json:"pre_existing_conditions"`

	Submitting bool `json:"-"`
	Uploading  bool `json:"-"`
}

func (f Form) clone() Form {
	f.Symptoms = append([]string(nil), f.Symptoms...)
	f.PreExistingConditions = append([]string(nil), f.PreExistingConditions...)
	return f
}

// Controller owns one form and the catalogs its selections come from.
type Controller struct {
	catalog Catalog
	form    Form
}

func NewController(catalog Catalog, form Form) *Controller {
	return &Controller{catalog: catalog, form: form.clone()}
}

func (c *Controller) Form() Form {
	return c.form.clone()
}

func (c *Controller) SetSubmitting(v bool) { c.form.Submitting = v }
func (c *Controller) SetUploading(v bool)  { c.form.Uploading = v }

// ToggleSelection adds item to field when absent and removes it when present.
func (c *Controller) ToggleSelection(item string, field Field) error {
	var (
		list  *[]string
		known bool
	)
	switch field {
	case FieldSymptoms:
		list, known = &c.form.Symptoms, c.catalog.HasSymptom(item)
	case FieldConditions:
		list, known = &c.form.PreExistingConditions, c.catalog.HasCondition(item)
	default:
		return ValidationError{Fields: []string{string(field)}, reason: fmt.Errorf("unknown selection field %q", field)}
	}
	if !known {
		return ValidationError{Fields: []string{string(field)}, reason: fmt.Errorf("%q is not a catalog option", item)}
	}

	*list = toggle(*list, item)
	return nil
}

func toggle(items []string, item string) []string {
	out := make([]string, 0, len(items)+1)
	removed := false
	for _, existing := range items {
		if existing == item {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	if !removed {
		out = append(out, item)
	}
	return out
}

// ApplyParsedDocument merges a parsed document into the form. A parsed value
// replaces the current one only when it is present; nil pointers, blank
// strings and empty lists leave the form untouched.
func (c *Controller) ApplyParsedDocument(parsed models.ParsedDocument) {
	f := &c.form
	if parsed.Age != nil {
		f.Age = strconv.Itoa(*parsed.Age)
	}
	if present(parsed.Gender) {
		f.Gender = strings.TrimSpace(*parsed.Gender)
	}
	if len(parsed.Symptoms) > 0 {
		f.Symptoms = append([]string(nil), parsed.Symptoms...)
	}
	if present(parsed.SymptomsText) {
		f.SymptomsText = *parsed.SymptomsText
	}
	if present(parsed.BloodPressure) {
		f.BloodPressure = strings.TrimSpace(*parsed.BloodPressure)
	}
	if parsed.HeartRate != nil {
		f.HeartRate = strconv.Itoa(*parsed.HeartRate)
	}
	if parsed.Temperature != nil {
		f.Temperature = strconv.FormatFloat(*parsed.Temperature, 'f', -1, 64)
	}
	if len(parsed.PreExistingConditions) > 0 {
		f.PreExistingConditions = append([]string(nil), parsed.PreExistingConditions...)
	}
}

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// Validate requires age, gender and at least one symptom. Symptoms and
// conditions must come from the catalog, and optional numeric fields must
// parse when filled in.
func (c *Controller) Validate() error {
	f := c.form
	var missing []string
	if strings.TrimSpace(f.Age) == "" {
		missing = append(missing, "age")
	}
	if strings.TrimSpace(f.Gender) == "" {
		missing = append(missing, "gender")
	}
	if len(f.Symptoms) == 0 {
		missing = append(missing, "symptoms")
	}
	if len(missing) > 0 {
		return ValidationError{Fields: missing, reason: errMissingRequired}
	}

	if _, err := parseAge(f.Age); err != nil {
		return err
	}
	if !models.Gender(strings.TrimSpace(f.Gender)).Valid() {
		return ValidationError{Fields: []string{"gender"}, reason: fmt.Errorf("gender %q: %w", f.Gender, errInvalidValue)}
	}
	for _, item := range f.Symptoms {
		if !c.catalog.HasSymptom(item) {
			return ValidationError{Fields: []string{"symptoms"}, reason: fmt.Errorf("symptom %q: %w", item, errNotInCatalog)}
		}
	}
	for _, item := range f.PreExistingConditions {
		if item != NoneCondition && !c.catalog.HasCondition(item) {
			return ValidationError{Fields: []string{"pre_existing_conditions"}, reason: fmt.Errorf("condition %q: %w", item, errNotInCatalog)}
		}
	}
	if _, err := optionalInt("heart_rate", f.HeartRate); err != nil {
		return err
	}
	if _, err := optionalFloat("temperature", f.Temperature); err != nil {
		return err
	}
	return nil
}

// BuildSubmission returns the pre-classification patient payload. Symptoms
// and conditions are deduplicated in first-seen order, the "None" condition
// is dropped and blank optional fields become nil.
func (c *Controller) BuildSubmission() (*models.Patient, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	f := c.form

	age, _ := parseAge(f.Age)
	heartRate, _ := optionalInt("heart_rate", f.HeartRate)
	temperature, _ := optionalFloat("temperature", f.Temperature)

	conditions := datatypes.JSONSlice[string]{}
	for _, cond := range unique(f.PreExistingConditions) {
		if cond != NoneCondition {
			conditions = append(conditions, cond)
		}
	}

	return &models.Patient{
		Age:                   age,
		Gender:                models.Gender(strings.TrimSpace(f.Gender)),
		Symptoms:              append(datatypes.JSONSlice[string]{}, unique(f.Symptoms)...),
		SymptomsText:          optionalString(f.SymptomsText),
		BloodPressure:         optionalString(f.BloodPressure),
		HeartRate:             heartRate,
		Temperature:           temperature,
		PreExistingConditions: conditions,
	}, nil
}

func unique(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func parseAge(raw string) (int, error) {
	age, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || age < 0 {
		return 0, ValidationError{Fields: []string{"age"}, reason: fmt.Errorf("age %q: %w", raw, errInvalidValue)}
	}
	return age, nil
}

func optionalInt(field, raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, ValidationError{Fields: []string{field}, reason: fmt.Errorf("%s %q: %w", field, raw, errInvalidValue)}
	}
	return &v, nil
}

func optionalFloat(field, raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, ValidationError{Fields: []string{field}, reason: fmt.Errorf("%s %q: %w", field, raw, errInvalidValue)}
	}
	return &v, nil
}

func optionalString(raw string) *string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	v := raw
	return &v
}

var (
	errMissingRequired = errors.New("please fill in age, gender, and at least one symptom")
	errInvalidValue    = errors.New("invalid value")
	errNotInCatalog    = errors.New("not in catalog")
)

type ValidationError struct {
	Fields []string
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

// NewValidationError reports reason against one input field.
func NewValidationError(field string, reason error) ValidationError {
	return ValidationError{Fields: []string{field}, reason: reason}
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
