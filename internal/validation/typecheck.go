package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/timmy/loadgate/internal/domain"
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"20060102150405",
}

var dateLayouts = []string{
	domain.BusinessDateLayout,
	"20060102",
}

// TypeChecker is the default DATA_TYPE checker. The rule's DataType selects the
// check; Expression, when set, overrides the date/timestamp layout.
type TypeChecker struct{}

// NewTypeChecker creates a TypeChecker.
func NewTypeChecker() *TypeChecker {
	return &TypeChecker{}
}

// Check implements Checker. Null values pass.
func (c *TypeChecker) Check(_ context.Context, req CheckRequest) (CheckResult, error) {
	if req.Value == nil {
		return CheckResult{Valid: true}, nil
	}
	v := *req.Value
	dataType := strings.ToUpper(strings.TrimSpace(req.Rule.DataType))

	var ok bool
	switch dataType {
	case "STRING", "TEXT", "VARCHAR", "VARCHAR2", "CHAR":
		ok = true
		if req.Rule.MaxLength != nil && utf8.RuneCountInString(v) > *req.Rule.MaxLength {
			return CheckResult{Message: fmt.Sprintf("field %s exceeds %s(%d)", req.Field, dataType, *req.Rule.MaxLength)}, nil
		}
	case "INT", "INTEGER", "LONG":
		_, err := strconv.ParseInt(v, 10, 64)
		ok = err == nil
	case "DECIMAL", "NUMBER", "NUMERIC", "FLOAT":
		_, err := strconv.ParseFloat(v, 64)
		ok = err == nil
	case "BOOLEAN", "BOOL":
		switch strings.ToUpper(v) {
		case "TRUE", "FALSE", "Y", "N", "1", "0":
			ok = true
		}
	case "DATE":
		ok = parsesWith(v, layoutsFor(req.Rule, dateLayouts))
	case "TIMESTAMP", "DATETIME":
		ok = parsesWith(v, layoutsFor(req.Rule, timestampLayouts))
	case "ALPHANUMERIC":
		ok = isAlphanumeric(v)
	case "ASCII":
		ok = isASCII(v)
	case "UTF8", "UTF-8":
		ok = utf8.ValidString(v)
	case "":
		return CheckResult{}, fmt.Errorf("rule %s has no data type", req.Rule.ID)
	default:
		return CheckResult{}, fmt.Errorf("unknown data type %q", req.Rule.DataType)
	}

	if !ok {
		return CheckResult{Message: fmt.Sprintf("field %s value %q is not a valid %s", req.Field, v, dataType)}, nil
	}
	return CheckResult{Valid: true}, nil
}

func layoutsFor(rule *domain.ValidationRule, defaults []string) []string {
	if rule.Expression != "" {
		return []string{rule.Expression}
	}
	return defaults
}

func parsesWith(v string, layouts []string) bool {
	for _, layout := range layouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func isAlphanumeric(v string) bool {
	for _, r := range v {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isASCII(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}
