// Package catalogfile serves load configurations and validation rules from a
// YAML file, for running without a configuration database.
package catalogfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/timmy/loadgate/internal/domain"
	"gopkg.in/yaml.v3"
)

type document struct {
	Configs []configEntry `yaml:"configs"`
}

type configEntry struct {
	ID                string             `yaml:"id"`
	Name              string             `yaml:"name"`
	FileType          domain.FileType    `yaml:"file_type"`
	FieldDelimiter    string             `yaml:"field_delimiter"`
	HeaderRows        int                `yaml:"header_rows"`
	Columns           domain.ColumnSpecs `yaml:"columns"`
	MaxErrors         int                `yaml:"max_errors"`
	WarningThreshold  *int               `yaml:"warning_threshold"`
	MaxRetries        *int               `yaml:"max_retries"`
	TransactionTypeID string             `yaml:"transaction_type_id"`
	TargetTable       string             `yaml:"target_table"`
	Enabled           *bool              `yaml:"enabled"`
	Rules             []ruleEntry        `yaml:"rules"`
}

type ruleEntry struct {
	ID         string          `yaml:"id"`
	Field      string          `yaml:"field"`
	Type       domain.RuleType `yaml:"type"`
	Severity   domain.Severity `yaml:"severity"`
	Order      int             `yaml:"order"`
	Expression string          `yaml:"expression"`
	Pattern    string          `yaml:"pattern"`
	MinLength  *int            `yaml:"min_length"`
	MaxLength  *int            `yaml:"max_length"`
	MinValue   *float64        `yaml:"min_value"`
	MaxValue   *float64        `yaml:"max_value"`
	DataType   string          `yaml:"data_type"`
	Message    string          `yaml:"message"`
	Enabled    *bool           `yaml:"enabled"`
}

var knownRuleTypes = map[domain.RuleType]bool{
	domain.RuleTypeDataType:             true,
	domain.RuleTypeRequired:             true,
	domain.RuleTypeLength:               true,
	domain.RuleTypePattern:              true,
	domain.RuleTypeRange:                true,
	domain.RuleTypeUnique:               true,
	domain.RuleTypeReferentialIntegrity: true,
	domain.RuleTypeBusinessRule:         true,
	domain.RuleTypeCustomQuery:          true,
}

// Provider is an in-memory validation.ConfigurationProvider loaded from YAML.
type Provider struct {
	configs map[string]*domain.LoadConfig
	rules   map[string][]domain.ValidationRule
}

// Load reads a catalog file.
func Load(path string) (*Provider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a catalog document. Unknown keys are rejected.
func Parse(r io.Reader) (*Provider, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	p := &Provider{
		configs: make(map[string]*domain.LoadConfig),
		rules:   make(map[string][]domain.ValidationRule),
	}
	for i := range doc.Configs {
		c := &doc.Configs[i]
		if c.ID == "" {
			return nil, fmt.Errorf("config #%d: id is required", i+1)
		}
		if _, dup := p.configs[c.ID]; dup {
			return nil, fmt.Errorf("config %s: duplicate id", c.ID)
		}
		cfg, err := c.toDomain()
		if err != nil {
			return nil, err
		}
		rules, err := c.rulesToDomain()
		if err != nil {
			return nil, err
		}
		p.configs[c.ID] = cfg
		p.rules[c.ID] = rules
	}
	return p, nil
}

func enabled(b *bool) bool {
	return b == nil || *b
}

func (c *configEntry) toDomain() (*domain.LoadConfig, error) {
	fileType := domain.FileType(strings.ToUpper(string(c.FileType)))
	switch fileType {
	case "":
		fileType = domain.FileTypeDelimited
	case domain.FileTypeDelimited, domain.FileTypeFixedWidth:
	default:
		return nil, fmt.Errorf("config %s: unknown file type %q", c.ID, c.FileType)
	}
	maxRetries := 3
	if c.MaxRetries != nil {
		maxRetries = *c.MaxRetries
	}
	return &domain.LoadConfig{
		ID:                c.ID,
		Name:              c.Name,
		FileType:          fileType,
		FieldDelimiter:    c.FieldDelimiter,
		HeaderRows:        c.HeaderRows,
		Columns:           c.Columns,
		MaxErrors:         c.MaxErrors,
		WarningThreshold:  c.WarningThreshold,
		MaxRetries:        maxRetries,
		TransactionTypeID: c.TransactionTypeID,
		TargetTable:       c.TargetTable,
		Enabled:           enabled(c.Enabled),
	}, nil
}

func (c *configEntry) rulesToDomain() ([]domain.ValidationRule, error) {
	seen := make(map[string]bool, len(c.Rules))
	out := make([]domain.ValidationRule, 0, len(c.Rules))
	for i, r := range c.Rules {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", c.ID, i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("config %s: duplicate rule id %s", c.ID, id)
		}
		seen[id] = true

		ruleType := domain.RuleType(strings.ToUpper(string(r.Type)))
		if !knownRuleTypes[ruleType] {
			return nil, fmt.Errorf("config %s rule %s: unknown type %q", c.ID, id, r.Type)
		}
		sev := domain.Severity(strings.ToUpper(string(r.Severity)))
		switch sev {
		case "":
			sev = domain.SeverityError
		case domain.SeverityInfo, domain.SeverityWarning, domain.SeverityError, domain.SeverityCritical:
		default:
			return nil, fmt.Errorf("config %s rule %s: unknown severity %q", c.ID, id, r.Severity)
		}

		out = append(out, domain.ValidationRule{
			ID:             id,
			ConfigID:       c.ID,
			FieldName:      r.Field,
			RuleType:       ruleType,
			Severity:       sev,
			ExecutionOrder: r.Order,
			Expression:     r.Expression,
			Pattern:        r.Pattern,
			MinLength:      r.MinLength,
			MaxLength:      r.MaxLength,
			MinValue:       r.MinValue,
			MaxValue:       r.MaxValue,
			DataType:       r.DataType,
			ErrorMessage:   r.Message,
			Enabled:        enabled(r.Enabled),
		})
	}
	return out, nil
}

// LoadConfig returns an enabled configuration.
func (p *Provider) LoadConfig(_ context.Context, configID string) (*domain.LoadConfig, error) {
	cfg, ok := p.configs[configID]
	if !ok || !cfg.Enabled {
		return nil, fmt.Errorf("load config %s: %w", configID, domain.ErrNotFound)
	}
	cp := *cfg
	return &cp, nil
}

// RuleCatalog returns a copy of the rules of a configuration.
func (p *Provider) RuleCatalog(_ context.Context, configID string) ([]domain.ValidationRule, error) {
	rules := p.rules[configID]
	out := make([]domain.ValidationRule, len(rules))
	copy(out, rules)
	return out, nil
}

// ConfigIDs lists the configurations in the file.
func (p *Provider) ConfigIDs() []string {
	ids := make([]string, 0, len(p.configs))
	for id := range p.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries returns each configuration with all its rules, for importing into
// another store.
func (p *Provider) Entries() []Entry {
	out := make([]Entry, 0, len(p.configs))
	for _, id := range p.ConfigIDs() {
		cfg := *p.configs[id]
		rules := make([]domain.ValidationRule, len(p.rules[id]))
		copy(rules, p.rules[id])
		out = append(out, Entry{Config: &cfg, Rules: rules})
	}
	return out
}

// Entry pairs a configuration with its rules.
type Entry struct {
	Config *domain.LoadConfig
	Rules  []domain.ValidationRule
}
