package intake

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NoneCondition marks "no conditions selected" in the condition catalog. It is
// never part of a submission.
const NoneCondition = "None"

type Catalog struct {
	Symptoms   []string `yaml:"symptoms" json:"symptoms"`
	Conditions []string `yaml:"conditions" json:"conditions"`
}

// LoadCatalog reads a YAML catalog file. An empty path yields the defaults.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Symptoms) == 0 {
		return Catalog{}, fmt.Errorf("catalog %s has no symptoms", path)
	}
	return cat, nil
}

func (c Catalog) HasSymptom(item string) bool {
	return contains(c.Symptoms, item)
}

func (c Catalog) HasCondition(item string) bool {
	return contains(c.Conditions, item)
}

func contains(items []string, item string) bool {
	for _, candidate := range items {
		if candidate == item {
			return true
		}
	}
	return false
}

func DefaultCatalog() Catalog {
	return Catalog{
		Symptoms: []string{
			"Chest Pain", "Shortness of Breath", "Headache", "Dizziness",
			"Nausea", "Fever", "Fatigue", "Abdominal Pain",
			"Back Pain", "Cough", "Sore Throat", "Joint Pain",
			"Numbness", "Vision Problems", "Palpitations", "Swelling",
		},
		Conditions: []string{
			"Diabetes", "Hypertension", "Asthma", "Heart Disease",
			"COPD", "Kidney Disease", "Liver Disease", "Cancer",
			"Stroke History", "Epilepsy", "Thyroid Disorder", NoneCondition,
		},
	}
}
