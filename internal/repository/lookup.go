package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/validation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LookupChecker answers storage-backed rules against reference tables.
//
// Rule expressions:
//   - REFERENTIAL_INTEGRITY: "table.column"; the value must exist there.
//   - UNIQUE: "table.column"; the value must not exist there yet.
//   - CUSTOM_QUERY: a SELECT returning one count with a single ? bound to the
//     value; the value passes when the count is positive.
type LookupChecker struct {
	db *gorm.DB
}

// NewLookupChecker creates a LookupChecker.
func NewLookupChecker(db *gorm.DB) *LookupChecker {
	return &LookupChecker{db: db}
}

// Checkers returns the checker bundle backed by this lookup, on top of the
// built-in type and expression checkers.
func (c *LookupChecker) Checkers() validation.Checkers {
	cs := validation.DefaultCheckers()
	cs.Referential = validation.CheckerFunc(c.checkReference)
	cs.Unique = validation.CheckerFunc(c.checkUnique)
	cs.CustomQuery = validation.CheckerFunc(c.checkCustomQuery)
	return cs
}

// parseTarget splits "table.column" or "schema.table.column".
func parseTarget(expr string) (table, column string, err error) {
	parts := strings.Split(strings.TrimSpace(expr), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return "", "", fmt.Errorf("reference %q must be table.column", expr)
	}
	for _, p := range parts {
		if !identifier.MatchString(p) {
			return "", "", fmt.Errorf("reference %q contains an invalid identifier", expr)
		}
	}
	return strings.Join(parts[:len(parts)-1], "."), parts[len(parts)-1], nil
}

func (c *LookupChecker) count(ctx context.Context, expr, value string) (int64, error) {
	table, column, err := parseTarget(expr)
	if err != nil {
		return 0, err
	}
	var n int64
	err = c.db.WithContext(ctx).Table(table).
		Where(clause.Eq{Column: clause.Column{Name: column}, Value: value}).
		Count(&n).Error
	return n, err
}

func (c *LookupChecker) checkReference(ctx context.Context, req validation.CheckRequest) (validation.CheckResult, error) {
	if req.Value == nil {
		return validation.CheckResult{Valid: true}, nil
	}
	n, err := c.count(ctx, req.Rule.Expression, *req.Value)
	if err != nil {
		return validation.CheckResult{}, err
	}
	if n == 0 {
		return validation.CheckResult{Message: fmt.Sprintf("field %s value %q has no reference in %s", req.Field, *req.Value, req.Rule.Expression)}, nil
	}
	return validation.CheckResult{Valid: true}, nil
}

func (c *LookupChecker) checkUnique(ctx context.Context, req validation.CheckRequest) (validation.CheckResult, error) {
	if req.Value == nil {
		return validation.CheckResult{Valid: true}, nil
	}
	n, err := c.count(ctx, req.Rule.Expression, *req.Value)
	if err != nil {
		return validation.CheckResult{}, err
	}
	if n > 0 {
		return validation.CheckResult{Message: fmt.Sprintf("field %s value %q already exists in %s", req.Field, *req.Value, req.Rule.Expression)}, nil
	}
	return validation.CheckResult{Valid: true}, nil
}

func (c *LookupChecker) checkCustomQuery(ctx context.Context, req validation.CheckRequest) (validation.CheckResult, error) {
	query := strings.TrimSpace(req.Rule.Expression)
	if !strings.HasPrefix(strings.ToUpper(query), "SELECT") {
		return validation.CheckResult{}, fmt.Errorf("custom query must be a SELECT")
	}
	var value interface{}
	if req.Value != nil {
		value = *req.Value
	}
	var n int64
	tx := c.db.WithContext(ctx)
	if strings.Contains(query, "?") {
		tx = tx.Raw(query, value)
	} else {
		tx = tx.Raw(query)
	}
	if err := tx.Scan(&n).Error; err != nil {
		return validation.CheckResult{}, err
	}
	if n <= 0 {
		shown := "<null>"
		if req.Value != nil {
			shown = *req.Value
		}
		return validation.CheckResult{Message: fmt.Sprintf("field %s value %q failed custom query", req.Field, shown)}, nil
	}
	return validation.CheckResult{Valid: true}, nil
}

// MissingReferences implements validation.BatchReferenceChecker with one IN
// query per chunk of values.
func (c *LookupChecker) MissingReferences(ctx context.Context, rule *domain.ValidationRule, values []string) ([]string, error) {
	table, column, err := parseTarget(rule.Expression)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(values))
	for start := 0; start < len(values); start += inChunk {
		end := min(start+inChunk, len(values))
		chunk := make([]interface{}, 0, end-start)
		for _, v := range values[start:end] {
			chunk = append(chunk, v)
		}
		var found []string
		err := c.db.WithContext(ctx).Table(table).
			Where(clause.IN{Column: clause.Column{Name: column}, Values: chunk}).
			Distinct().
			Pluck(column, &found).Error
		if err != nil {
			return nil, fmt.Errorf("reference lookup %s: %w", rule.Expression, err)
		}
		for _, f := range found {
			present[f] = true
		}
	}

	var missing []string
	for _, v := range values {
		if !present[v] {
			missing = append(missing, v)
		}
	}
	return missing, nil
}
