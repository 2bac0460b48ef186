package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"math"
	"time"
)

// FileType selects how inbound lines are split into fields.
type FileType string

const (
	FileTypeDelimited  FileType = "DELIMITED"
	FileTypeFixedWidth FileType = "FIXED_WIDTH"
)

// DefaultFieldDelimiter is used when a delimited configuration names none.
const DefaultFieldDelimiter = "|"

// DefaultWarningRatio is the share of MaxErrors used as warning threshold when none is set.
const DefaultWarningRatio = 0.75

// ColumnSpec names one column. Start and Length are only used for fixed-width files
// and are zero-based.
type ColumnSpec struct {
	Name   string `json:"name" yaml:"name"`
	Start  int    `json:"start,omitempty" yaml:"start"`
	Length int    `json:"length,omitempty" yaml:"length"`
}

// ColumnSpecs is stored as a JSON text column.
type ColumnSpecs []ColumnSpec

// Value implements the driver.Valuer interface for database serialization.
func (c ColumnSpecs) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (c *ColumnSpecs) Scan(value interface{}) error {
	if value == nil {
		*c = ColumnSpecs{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan ColumnSpecs")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, c)
}

// Names returns the column names in declaration order.
func (c ColumnSpecs) Names() []string {
	names := make([]string, len(c))
	for i, col := range c {
		names[i] = col.Name
	}
	return names
}

// LoadConfig describes one inbound feed: how to parse it, which limits apply and
// where it is loaded.
type LoadConfig struct {
	ID                string      `gorm:"type:text;primaryKey" json:"id" yaml:"id"`
	Name              string      `gorm:"type:text" json:"name" yaml:"name"`
	FileType          FileType    `gorm:"type:text;not null;default:DELIMITED" json:"file_type" yaml:"file_type"`
	FieldDelimiter    string      `gorm:"type:text;default:'|'" json:"field_delimiter" yaml:"field_delimiter"`
	HeaderRows        int         `gorm:"default:0" json:"header_rows" yaml:"header_rows"`
	Columns           ColumnSpecs `gorm:"type:text" json:"columns" yaml:"columns"`
	MaxErrors         int         `gorm:"default:0" json:"max_errors" yaml:"max_errors"`
	WarningThreshold  *int        `json:"warning_threshold,omitempty" yaml:"warning_threshold"`
	MaxRetries        int         `gorm:"default:3" json:"max_retries" yaml:"max_retries"`
	TransactionTypeID string      `gorm:"type:text" json:"transaction_type_id" yaml:"transaction_type_id"`
	TargetTable       string      `gorm:"type:text" json:"target_table" yaml:"target_table"`
	Enabled           bool        `gorm:"not null" json:"enabled" yaml:"enabled"`
	CreatedAt         time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time   `json:"updated_at" yaml:"-"`
}

// TableName returns the database table name for LoadConfig.
func (LoadConfig) TableName() string {
	return "load_configs"
}

// Delimiter returns the configured delimiter or DefaultFieldDelimiter.
func (c *LoadConfig) Delimiter() string {
	if c.FieldDelimiter == "" {
		return DefaultFieldDelimiter
	}
	return c.FieldDelimiter
}

// EffectiveWarningThreshold returns the explicit warning threshold when set, otherwise
// ceil(ratio * MaxErrors). A non-positive MaxErrors disables the threshold (0).
func (c *LoadConfig) EffectiveWarningThreshold(ratio float64) int {
	if c.WarningThreshold != nil {
		return *c.WarningThreshold
	}
	return DefaultWarningThreshold(c.MaxErrors, ratio)
}

// DefaultWarningThreshold computes ceil(ratio * maxErrors), or 0 when maxErrors <= 0.
func DefaultWarningThreshold(maxErrors int, ratio float64) int {
	if maxErrors <= 0 {
		return 0
	}
	if ratio <= 0 {
		ratio = DefaultWarningRatio
	}
	return int(math.Ceil(ratio * float64(maxErrors)))
}
