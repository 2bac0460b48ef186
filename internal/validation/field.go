package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/timmy/loadgate/internal/domain"
)

// Outcome is the result of evaluating one rule against one field.
type Outcome struct {
	Field    string          `json:"field"`
	Value    *string         `json:"value,omitempty"`
	RuleID   string          `json:"rule_id"`
	RuleType domain.RuleType `json:"rule_type"`
	Severity domain.Severity `json:"severity"`
	Passed   bool            `json:"passed"`
	Message  string          `json:"message,omitempty"`
}

// FieldValidator evaluates a single field value against a single rule.
// It holds no per-call state; compiled patterns are cached and safe for
// concurrent use.
type FieldValidator struct {
	checkers Checkers
	patterns sync.Map // pattern string -> *regexp.Regexp
}

// NewFieldValidator creates a FieldValidator using the given checkers.
func NewFieldValidator(checkers Checkers) *FieldValidator {
	return &FieldValidator{checkers: checkers}
}

// Evaluate checks value against rule. It never panics and never returns an error:
// checker failures become failing outcomes with ERROR severity.
func (v *FieldValidator) Evaluate(ctx context.Context, field string, value *string, rule *domain.ValidationRule) Outcome {
	return v.evaluate(ctx, field, value, rule, nil)
}

func (v *FieldValidator) evaluate(ctx context.Context, field string, value *string, rule *domain.ValidationRule, record map[string]*string) (out Outcome) {
	out = Outcome{
		Field:    field,
		Value:    value,
		RuleID:   rule.ID,
		RuleType: rule.RuleType,
		Severity: rule.Severity,
		Passed:   true,
	}
	if out.Severity == "" {
		out.Severity = domain.SeverityError
	}

	defer func() {
		if r := recover(); r != nil {
			out.Passed = false
			out.Severity = domain.SeverityError
			out.Message = fmt.Sprintf("rule %s evaluation failed: %v", rule.ID, r)
		}
	}()

	var (
		passed bool
		msg    string
	)
	switch rule.RuleType {
	case domain.RuleTypeRequired:
		passed, msg = checkRequired(field, value)
	case domain.RuleTypeLength:
		passed, msg = checkLength(field, value, rule)
	case domain.RuleTypePattern:
		var err error
		passed, msg, err = v.checkPattern(field, value, rule)
		if err != nil {
			out.Passed = false
			out.Severity = domain.SeverityError
			out.Message = fmt.Sprintf("rule %s: %v", rule.ID, err)
			return out
		}
	case domain.RuleTypeRange:
		passed, msg = checkRange(field, value, rule)
	case domain.RuleTypeDataType,
		domain.RuleTypeUnique,
		domain.RuleTypeReferentialIntegrity,
		domain.RuleTypeBusinessRule,
		domain.RuleTypeCustomQuery:
		return v.delegate(ctx, out, rule, record)
	default:
		out.Passed = false
		out.Severity = domain.SeverityError
		out.Message = fmt.Sprintf("unsupported rule type %q", rule.RuleType)
		return out
	}

	out.Passed = passed
	if !passed {
		out.Message = rule.FormatMessage(field, deref(value), msg)
	}
	return out
}

func (v *FieldValidator) delegate(ctx context.Context, out Outcome, rule *domain.ValidationRule, record map[string]*string) Outcome {
	checker := v.checkers.forType(rule.RuleType)
	if checker == nil {
		out.Message = fmt.Sprintf("skipped: no checker registered for %s", rule.RuleType)
		return out
	}

	res, err := safeCheck(ctx, checker, CheckRequest{Field: out.Field, Value: out.Value, Rule: rule, Record: record})
	if err != nil {
		out.Passed = false
		out.Severity = domain.SeverityError
		out.Message = fmt.Sprintf("rule %s: %v", rule.ID, err)
		return out
	}

	out.Passed = res.Valid
	out.Message = res.Message
	if !res.Valid {
		def := res.Message
		if def == "" {
			def = fmt.Sprintf("%s check failed for field %s", rule.RuleType, out.Field)
		}
		out.Message = rule.FormatMessage(out.Field, deref(out.Value), def)
	}
	return out
}

func checkRequired(field string, value *string) (bool, string) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return false, fmt.Sprintf("field %s is required", field)
	}
	return true, ""
}

func checkLength(field string, value *string, rule *domain.ValidationRule) (bool, string) {
	if value == nil {
		return true, ""
	}
	n := utf8.RuneCountInString(*value)
	if rule.MinLength != nil && n < *rule.MinLength {
		return false, fmt.Sprintf("field %s length %d is below minimum %d", field, n, *rule.MinLength)
	}
	if rule.MaxLength != nil && n > *rule.MaxLength {
		return false, fmt.Sprintf("field %s length %d exceeds maximum %d", field, n, *rule.MaxLength)
	}
	return true, ""
}

func (v *FieldValidator) checkPattern(field string, value *string, rule *domain.ValidationRule) (bool, string, error) {
	if value == nil || rule.Pattern == "" {
		return true, "", nil
	}
	re, err := v.compile(rule.Pattern)
	if err != nil {
		return false, "", fmt.Errorf("invalid pattern %q: %w", rule.Pattern, err)
	}
	if !re.MatchString(*value) {
		return false, fmt.Sprintf("field %s does not match pattern %s", field, rule.Pattern), nil
	}
	return true, "", nil
}

// compile anchors the pattern so that only a full match passes.
func (v *FieldValidator) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := v.patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, err
	}
	v.patterns.Store(pattern, re)
	return re, nil
}

func checkRange(field string, value *string, rule *domain.ValidationRule) (bool, string) {
	if value == nil {
		return true, ""
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(*value), 64)
	if err != nil {
		return false, fmt.Sprintf("field %s has invalid numeric value %q", field, *value)
	}
	if rule.MinValue != nil && n < *rule.MinValue {
		return false, fmt.Sprintf("field %s value %s is below minimum %s", field, *value, formatFloat(*rule.MinValue))
	}
	if rule.MaxValue != nil && n > *rule.MaxValue {
		return false, fmt.Sprintf("field %s value %s exceeds maximum %s", field, *value, formatFloat(*rule.MaxValue))
	}
	return true, ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
