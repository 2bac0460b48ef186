package validation

import (
	"context"
	"fmt"

	"github.com/timmy/loadgate/internal/domain"
)

// CheckRequest is the input handed to a pluggable checker.
type CheckRequest struct {
	Field string
	Value *string
	Rule  *domain.ValidationRule
	// Record holds every parsed field of the record under evaluation. It is nil
	// when a single field is evaluated on its own.
	Record map[string]*string
}

// CheckResult is what a checker reports back.
type CheckResult struct {
	Valid   bool
	Message string
}

// Checker evaluates rule types whose semantics live outside this package:
// data types, uniqueness, references, business rules and custom queries.
type Checker interface {
	Check(ctx context.Context, req CheckRequest) (CheckResult, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, req CheckRequest) (CheckResult, error)

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	return f(ctx, req)
}

// Checkers bundles the pluggable checkers by rule type. Any of them may be nil.
type Checkers struct {
	DataType    Checker
	Unique      Checker
	Referential Checker
	Business    Checker
	CustomQuery Checker
}

// DefaultCheckers returns a bundle with the built-in type and expression checkers.
func DefaultCheckers() Checkers {
	return Checkers{
		DataType: NewTypeChecker(),
		Business: NewExpressionChecker(),
	}
}

func (c Checkers) forType(t domain.RuleType) Checker {
	switch t {
	case domain.RuleTypeDataType:
		return c.DataType
	case domain.RuleTypeUnique:
		return c.Unique
	case domain.RuleTypeReferentialIntegrity:
		return c.Referential
	case domain.RuleTypeBusinessRule:
		return c.Business
	case domain.RuleTypeCustomQuery:
		return c.CustomQuery
	}
	return nil
}

// safeCheck runs a checker and converts a panic into an error.
func safeCheck(ctx context.Context, c Checker, req CheckRequest) (res CheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("checker panic: %v", r)
		}
	}()
	return c.Check(ctx, req)
}

// BatchReferenceChecker resolves referential-integrity rules for many values at
// once after the file has been read.
type BatchReferenceChecker interface {
	// MissingReferences returns the subset of values that have no match for rule.
	MissingReferences(ctx context.Context, rule *domain.ValidationRule, values []string) ([]string, error)
}

// ConfigurationProvider supplies rules and load configuration by configuration id.
type ConfigurationProvider interface {
	RuleCatalog(ctx context.Context, configID string) ([]domain.ValidationRule, error)
	LoadConfig(ctx context.Context, configID string) (*domain.LoadConfig, error)
}
