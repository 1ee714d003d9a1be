// Package dlp masks personal identifiers in free text before it is persisted
// outside the patient record.
package dlp

import (
	"regexp"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

type Redactor struct {
	rules []compiledRule
}

func NewRedactor(cfg RulesConfig) (*Redactor, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Redactor{rules: compiled}, nil
}

// Types lists the rule types found in text.
func (r *Redactor) Types(text string) []string {
	if r == nil {
		return nil
	}
	var found []string
	for _, c := range r.rules {
		if c.re.MatchString(text) {
			found = append(found, c.rule.Type)
		}
	}
	return found
}

func (r *Redactor) String(text string) string {
	if r == nil {
		return text
	}
	for _, c := range r.rules {
		text = c.re.ReplaceAllString(text, c.rule.Mask)
	}
	return text
}

// Map returns a copy of data with every string value masked, nested maps and
// slices included. A nil Redactor returns data unchanged.
func (r *Redactor) Map(data map[string]interface{}) map[string]interface{} {
	if r == nil || data == nil {
		return data
	}
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		out[key] = r.value(value)
	}
	return out
}

func (r *Redactor) value(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return r.String(v)
	case map[string]interface{}:
		return r.Map(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, nested := range v {
			out[i] = r.value(nested)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, nested := range v {
			out[i] = r.String(nested)
		}
		return out
	default:
		return value
	}
}
