package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ExpressionChecker evaluates small BUSINESS_RULE expressions against a record.
//
// Supported forms, where an operand is a field name of the record or a literal:
//
//	IN(A,B,C)            value is one of the listed literals
//	<op> operand         value compared with operand
//	left <op> operand    left operand compared with right operand (record-level rules)
//	REQUIRES FIELD       when value is present FIELD must be present too
//
// Operators are = != < <= > >=. Numeric comparison is used when both sides parse
// as numbers. A comparison with a null side passes.
type ExpressionChecker struct{}

// NewExpressionChecker creates an ExpressionChecker.
func NewExpressionChecker() *ExpressionChecker {
	return &ExpressionChecker{}
}

// Check implements Checker.
func (c *ExpressionChecker) Check(_ context.Context, req CheckRequest) (CheckResult, error) {
	expr := strings.TrimSpace(req.Rule.Expression)
	if expr == "" {
		return CheckResult{}, fmt.Errorf("rule %s has no expression", req.Rule.ID)
	}

	upper := strings.ToUpper(expr)
	if strings.HasPrefix(upper, "IN(") && strings.HasSuffix(expr, ")") {
		return checkIn(req, expr[3:len(expr)-1]), nil
	}

	tokens := strings.Fields(expr)
	switch len(tokens) {
	case 2:
		if strings.ToUpper(tokens[0]) == "REQUIRES" {
			return checkRequires(req, tokens[1]), nil
		}
		return compare(req, req.Field, req.Value, tokens[0], tokens[1])
	case 3:
		left := lookup(req, tokens[0])
		return compare(req, tokens[0], left, tokens[1], tokens[2])
	}
	return CheckResult{}, fmt.Errorf("cannot parse expression %q", expr)
}

func checkIn(req CheckRequest, list string) CheckResult {
	if req.Value == nil {
		return CheckResult{Valid: true}
	}
	for _, item := range strings.Split(list, ",") {
		if unquote(strings.TrimSpace(item)) == *req.Value {
			return CheckResult{Valid: true}
		}
	}
	return CheckResult{Message: fmt.Sprintf("field %s value %q is not in (%s)", req.Field, *req.Value, list)}
}

func checkRequires(req CheckRequest, other string) CheckResult {
	if req.Value == nil {
		return CheckResult{Valid: true}
	}
	if v := req.Record[other]; v == nil || *v == "" {
		return CheckResult{Message: fmt.Sprintf("field %s requires %s", req.Field, other)}
	}
	return CheckResult{Valid: true}
}

func compare(req CheckRequest, leftName string, left *string, op, operand string) (CheckResult, error) {
	right := lookup(req, operand)
	if left == nil || right == nil {
		return CheckResult{Valid: true}, nil
	}

	var cmp int
	lf, lerr := strconv.ParseFloat(*left, 64)
	rf, rerr := strconv.ParseFloat(*right, 64)
	if lerr == nil && rerr == nil {
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(*left, *right)
	}

	var ok bool
	switch op {
	case "=", "==":
		ok = cmp == 0
	case "!=", "<>":
		ok = cmp != 0
	case "<":
		ok = cmp < 0
	case "<=":
		ok = cmp <= 0
	case ">":
		ok = cmp > 0
	case ">=":
		ok = cmp >= 0
	default:
		return CheckResult{}, fmt.Errorf("unknown operator %q", op)
	}
	if !ok {
		return CheckResult{Message: fmt.Sprintf("%s (%s) %s %s (%s) does not hold", leftName, *left, op, operand, *right)}, nil
	}
	return CheckResult{Valid: true}, nil
}

// lookup resolves an operand: a record field when present, otherwise a literal.
func lookup(req CheckRequest, operand string) *string {
	if req.Record != nil {
		if v, ok := req.Record[operand]; ok {
			return v
		}
	}
	if operand == req.Field {
		return req.Value
	}
	lit := unquote(operand)
	return &lit
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
