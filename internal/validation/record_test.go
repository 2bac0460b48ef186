package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/loadgate/internal/domain"
)

func rule(id, field string, t domain.RuleType, sev domain.Severity, order int) domain.ValidationRule {
	return domain.ValidationRule{ID: id, FieldName: field, RuleType: t, Severity: sev, ExecutionOrder: order, Enabled: true}
}

func TestCatalogOrdering(t *testing.T) {
	disabled := rule("OFF", "A", domain.RuleTypeRequired, domain.SeverityError, 0)
	disabled.Enabled = false

	c := NewCatalog("CFG", []domain.ValidationRule{
		rule("A3", "A", domain.RuleTypeLength, domain.SeverityError, 3),
		rule("B1", "B", domain.RuleTypeRequired, domain.SeverityError, 1),
		rule("A1", "A", domain.RuleTypeRequired, domain.SeverityError, 1),
		rule("X2", "*", domain.RuleTypeBusinessRule, domain.SeverityError, 2),
		rule("A1b", "A", domain.RuleTypePattern, domain.SeverityError, 1),
		disabled,
	})

	assert.Equal(t, "CFG", c.ConfigID())
	assert.Equal(t, 5, c.Len())
	assert.Equal(t, []string{"B", "A"}, c.Fields())

	var ids []string
	for _, r := range c.RulesFor("A") {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"A1", "A1b", "A3"}, ids)
	require.Len(t, c.RecordRules(), 1)
	assert.Equal(t, "X2", c.RecordRules()[0].ID)
	assert.Len(t, c.RulesOfType(domain.RuleTypeRequired), 2)
	assert.True(t, NewCatalog("EMPTY", []domain.ValidationRule{disabled}).Empty())
}

func TestRecordValidatorAllPass(t *testing.T) {
	v := NewRecordValidator(NewFieldValidator(DefaultCheckers()))
	c := NewCatalog("CFG", []domain.ValidationRule{
		rule("R1", "ACCT", domain.RuleTypeRequired, domain.SeverityError, 1),
		rule("R2", "NAME", domain.RuleTypeRequired, domain.SeverityError, 1),
	})
	res := v.Evaluate(context.Background(), Record{Number: 7, Fields: map[string]*string{"ACCT": str("1"), "NAME": str("n")}}, c)
	assert.True(t, res.Valid)
	assert.Equal(t, int64(7), res.RecordNumber)
	assert.Len(t, res.Outcomes, 2)
	assert.False(t, res.HasFailures())
}

func TestRecordValidatorCriticalShortCircuitsFieldOnly(t *testing.T) {
	var calls []string
	track := CheckerFunc(func(_ context.Context, req CheckRequest) (CheckResult, error) {
		calls = append(calls, req.Rule.ID)
		return CheckResult{Valid: true}, nil
	})
	v := NewRecordValidator(NewFieldValidator(Checkers{Business: track}))

	lenRule := rule("A2", "A", domain.RuleTypeLength, domain.SeverityError, 2)
	lenRule.MaxLength = intp(1)

	c := NewCatalog("CFG", []domain.ValidationRule{
		rule("A1", "A", domain.RuleTypeRequired, domain.SeverityCritical, 1),
		lenRule,
		rule("A3", "A", domain.RuleTypeBusinessRule, domain.SeverityError, 3),
		rule("B1", "B", domain.RuleTypeBusinessRule, domain.SeverityError, 1),
	})

	res := v.Evaluate(context.Background(), Record{Number: 1, Fields: map[string]*string{"B": str("x")}}, c)
	assert.False(t, res.Valid)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "A1", res.Outcomes[0].RuleID)
	assert.False(t, res.Outcomes[0].Passed)
	assert.Equal(t, "B1", res.Outcomes[1].RuleID)
	assert.Equal(t, []string{"B1"}, calls)
}

func TestRecordValidatorNonCriticalKeepsGoing(t *testing.T) {
	v := NewRecordValidator(NewFieldValidator(Checkers{}))
	lenRule := rule("A2", "A", domain.RuleTypeLength, domain.SeverityWarning, 2)
	lenRule.MaxLength = intp(1)
	patRule := rule("A3", "A", domain.RuleTypePattern, domain.SeverityError, 3)
	patRule.Pattern = `\d+`

	c := NewCatalog("CFG", []domain.ValidationRule{lenRule, patRule})
	res := v.Evaluate(context.Background(), Record{Fields: map[string]*string{"A": str("abc")}}, c)
	require.Len(t, res.Outcomes, 2)
	assert.False(t, res.Outcomes[0].Passed)
	assert.False(t, res.Outcomes[1].Passed)
	assert.False(t, res.Valid)
	assert.Len(t, res.Failures(), 2)
}

func TestRecordValidatorWarningsKeepRecordValid(t *testing.T) {
	v := NewRecordValidator(NewFieldValidator(Checkers{}))
	lenRule := rule("A", "A", domain.RuleTypeLength, domain.SeverityWarning, 1)
	lenRule.MaxLength = intp(1)
	res := v.Evaluate(context.Background(), Record{Fields: map[string]*string{"A": str("abc")}}, NewCatalog("C", []domain.ValidationRule{lenRule}))
	assert.True(t, res.Valid)
	assert.True(t, res.HasFailures())
}

func TestRecordValidatorRecordLevelRules(t *testing.T) {
	v := NewRecordValidator(NewFieldValidator(DefaultCheckers()))
	cross := rule("X", "", domain.RuleTypeBusinessRule, domain.SeverityError, 1)
	cross.Expression = "DEBIT <= CREDIT"

	c := NewCatalog("C", []domain.ValidationRule{cross})
	ok := v.Evaluate(context.Background(), Record{Fields: map[string]*string{"DEBIT": str("5"), "CREDIT": str("10")}}, c)
	assert.True(t, ok.Valid)

	bad := v.Evaluate(context.Background(), Record{Fields: map[string]*string{"DEBIT": str("50"), "CREDIT": str("10")}}, c)
	assert.False(t, bad.Valid)
	require.Len(t, bad.Outcomes, 1)
	assert.Equal(t, RecordField, bad.Outcomes[0].Field)
}

func TestRecordValidatorParseError(t *testing.T) {
	v := NewRecordValidator(NewFieldValidator(Checkers{}))
	c := NewCatalog("C", []domain.ValidationRule{rule("R", "A", domain.RuleTypeRequired, domain.SeverityError, 1)})
	res := v.Evaluate(context.Background(), Record{Number: 3, ParseError: "line 3: expected 2 fields, found 1"}, c)
	assert.False(t, res.Valid)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, RuleTypeParse, res.Outcomes[0].RuleType)
}

func TestParseLine(t *testing.T) {
	t.Run("delimited with columns", func(t *testing.T) {
		cfg := &domain.LoadConfig{FileType: domain.FileTypeDelimited, Columns: domain.ColumnSpecs{{Name: "A"}, {Name: "B"}, {Name: "C"}}}
		rec := ParseLine(2, "1| two |", cfg)
		assert.Empty(t, rec.ParseError)
		assert.Equal(t, "1", *rec.Fields["A"])
		assert.Equal(t, "two", *rec.Fields["B"])
		assert.Nil(t, rec.Fields["C"])
	})

	t.Run("delimited column mismatch", func(t *testing.T) {
		cfg := &domain.LoadConfig{Columns: domain.ColumnSpecs{{Name: "A"}, {Name: "B"}}}
		rec := ParseLine(5, "1|2|3", cfg)
		assert.Equal(t, "line 5: expected 2 fields, found 3", rec.ParseError)
	})

	t.Run("delimited positional names", func(t *testing.T) {
		cfg := &domain.LoadConfig{FieldDelimiter: ","}
		rec := ParseLine(1, "x,y", cfg)
		assert.Equal(t, "x", *rec.Fields["FIELD_1"])
		assert.Equal(t, "y", *rec.Fields["FIELD_2"])
	})

	t.Run("fixed width blob", func(t *testing.T) {
		cfg := &domain.LoadConfig{FileType: domain.FileTypeFixedWidth}
		rec := ParseLine(1, "  0001ABC  ", cfg)
		assert.Equal(t, "  0001ABC  ", *rec.Fields[BlobField])
	})

	t.Run("fixed width columns", func(t *testing.T) {
		cfg := &domain.LoadConfig{FileType: domain.FileTypeFixedWidth, Columns: domain.ColumnSpecs{
			{Name: "ID", Start: 0, Length: 4},
			{Name: "CODE", Start: 4, Length: 5},
		}}
		rec := ParseLine(1, "0001AB", cfg)
		assert.Equal(t, "0001", *rec.Fields["ID"])
		assert.Equal(t, "AB", *rec.Fields["CODE"])

		short := ParseLine(2, "00", cfg)
		assert.Contains(t, short.ParseError, "too short for column CODE")
	})
}
