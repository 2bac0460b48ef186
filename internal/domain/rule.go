package domain

import (
	"strings"
	"time"
)

// RuleType identifies the kind of check a ValidationRule performs.
type RuleType string

const (
	RuleTypeDataType             RuleType = "DATA_TYPE"
	RuleTypeRequired             RuleType = "REQUIRED"
	RuleTypeLength               RuleType = "LENGTH"
	RuleTypePattern              RuleType = "PATTERN"
	RuleTypeRange                RuleType = "RANGE"
	RuleTypeUnique               RuleType = "UNIQUE"
	RuleTypeReferentialIntegrity RuleType = "REFERENTIAL_INTEGRITY"
	RuleTypeBusinessRule         RuleType = "BUSINESS_RULE"
	RuleTypeCustomQuery          RuleType = "CUSTOM_QUERY"
)

// Severity of a failed rule. Ordered INFO < WARNING < ERROR < CRITICAL.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordinal of the severity; unknown values rank as ERROR.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 3
	default:
		return 2
	}
}

// Blocking reports whether a failure of this severity makes a record invalid.
func (s Severity) Blocking() bool {
	return s.Rank() >= SeverityError.Rank()
}

// RecordLevelField is the wildcard field name for cross-field rules.
const RecordLevelField = "*"

// ValidationRule is one configured check for a load configuration.
// Bounds are pointers so that an unset bound is distinguishable from zero.
type ValidationRule struct {
	ID             string   `gorm:"type:text;primaryKey" json:"id" yaml:"id"`
	ConfigID       string   `gorm:"type:text;not null;index" json:"config_id" yaml:"config_id"`
	FieldName      string   `gorm:"type:text" json:"field_name" yaml:"field"`
	RuleType       RuleType `gorm:"type:text;not null" json:"rule_type" yaml:"type"`
	Severity       Severity `gorm:"type:text;not null;default:ERROR" json:"severity" yaml:"severity"`
	ExecutionOrder int      `gorm:"default:0" json:"execution_order" yaml:"order"`

	Expression string   `gorm:"type:text" json:"expression,omitempty" yaml:"expression"`
	Pattern    string   `gorm:"type:text" json:"pattern,omitempty" yaml:"pattern"`
	MinLength  *int     `json:"min_length,omitempty" yaml:"min_length"`
	MaxLength  *int     `json:"max_length,omitempty" yaml:"max_length"`
	MinValue   *float64 `json:"min_value,omitempty" yaml:"min_value"`
	MaxValue   *float64 `json:"max_value,omitempty" yaml:"max_value"`
	DataType   string   `gorm:"type:text" json:"data_type,omitempty" yaml:"data_type"`

	// ErrorMessage may reference {field}, {value} and {rule}.
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty" yaml:"message"`

	Enabled   bool      `gorm:"not null" json:"enabled" yaml:"enabled"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// TableName returns the database table name for ValidationRule.
func (ValidationRule) TableName() string {
	return "validation_rules"
}

// IsRecordLevel reports whether the rule applies to the whole record rather than one field.
func (r *ValidationRule) IsRecordLevel() bool {
	return r.FieldName == "" || r.FieldName == RecordLevelField
}

// FormatMessage renders the rule's message template, falling back to def when no
// template is configured.
func (r *ValidationRule) FormatMessage(field, value, def string) string {
	if r.ErrorMessage == "" {
		return def
	}
	return strings.NewReplacer(
		"{field}", field,
		"{value}", value,
		"{rule}", r.ID,
	).Replace(r.ErrorMessage)
}
