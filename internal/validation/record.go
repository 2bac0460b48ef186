package validation

import (
	"context"

	"github.com/timmy/loadgate/internal/domain"
)

// Pseudo field and rule types used for failures that are not tied to a configured rule.
const (
	RecordField                       = "_record"
	RuleTypeParse     domain.RuleType = "PARSE"
	RuleTypeDuplicate domain.RuleType = "DUPLICATE"
)

// Record is one parsed input line.
type Record struct {
	Number     int64
	Raw        string
	Fields     map[string]*string
	ParseError string
}

// RecordResult is the outcome of validating one record.
type RecordResult struct {
	RecordNumber int64              `json:"record_number"`
	Fields       map[string]*string `json:"fields"`
	Outcomes     []Outcome          `json:"outcomes"`
	Valid        bool               `json:"valid"`
}

// Failures returns the failing outcomes.
func (r *RecordResult) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Passed {
			out = append(out, o)
		}
	}
	return out
}

// HasFailures reports whether any outcome failed, regardless of severity.
func (r *RecordResult) HasFailures() bool {
	for _, o := range r.Outcomes {
		if !o.Passed {
			return true
		}
	}
	return false
}

func (r *RecordResult) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if !o.Passed && o.Severity.Blocking() {
		r.Valid = false
	}
}

// RecordValidator runs a catalog's rules over one record.
type RecordValidator struct {
	fields *FieldValidator
}

// NewRecordValidator creates a RecordValidator on top of a FieldValidator.
func NewRecordValidator(fields *FieldValidator) *RecordValidator {
	return &RecordValidator{fields: fields}
}

// Evaluate validates rec against every rule in catalog.
//
// Field rules run per field in ascending execution order. A failing CRITICAL rule
// stops the remaining rules of that field only. Record-level rules run afterwards
// with the same short-circuit among themselves. A field that is absent from the
// record is evaluated as null.
func (v *RecordValidator) Evaluate(ctx context.Context, rec Record, catalog *Catalog) RecordResult {
	return v.evaluate(ctx, rec, catalog, nil)
}

// evaluate is Evaluate with an optional skip predicate for rules that the caller
// resolves elsewhere.
func (v *RecordValidator) evaluate(ctx context.Context, rec Record, catalog *Catalog, skip func(*domain.ValidationRule) bool) RecordResult {
	result := RecordResult{
		RecordNumber: rec.Number,
		Fields:       rec.Fields,
		Valid:        true,
	}

	if rec.ParseError != "" {
		result.add(Outcome{
			Field:    RecordField,
			RuleType: RuleTypeParse,
			Severity: domain.SeverityError,
			Message:  rec.ParseError,
		})
		return result
	}

	for _, field := range catalog.Fields() {
		v.runGroup(ctx, &result, field, rec.Fields[field], catalog.RulesFor(field), rec.Fields, skip)
	}
	v.runGroup(ctx, &result, RecordField, nil, catalog.RecordRules(), rec.Fields, skip)

	return result
}

func (v *RecordValidator) runGroup(ctx context.Context, result *RecordResult, field string, value *string, rules []*domain.ValidationRule, record map[string]*string, skip func(*domain.ValidationRule) bool) {
	for _, rule := range rules {
		if skip != nil && skip(rule) {
			continue
		}
		out := v.fields.evaluate(ctx, field, value, rule, record)
		result.add(out)
		if !out.Passed && out.Severity == domain.SeverityCritical {
			return
		}
	}
}
