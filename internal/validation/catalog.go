package validation

import (
	"sort"

	"github.com/timmy/loadgate/internal/domain"
)

// Catalog is the ordered, immutable rule set of one load configuration.
type Catalog struct {
	configID    string
	rules       []*domain.ValidationRule
	fields      []string
	byField     map[string][]*domain.ValidationRule
	recordLevel []*domain.ValidationRule
}

// NewCatalog builds a catalog from rules. Disabled rules are dropped and the rest
// are ordered by ExecutionOrder ascending; ties keep their input order.
func NewCatalog(configID string, rules []domain.ValidationRule) *Catalog {
	c := &Catalog{
		configID: configID,
		byField:  make(map[string][]*domain.ValidationRule),
	}

	for i := range rules {
		r := rules[i]
		if !r.Enabled {
			continue
		}
		c.rules = append(c.rules, &r)
	}
	sort.SliceStable(c.rules, func(i, j int) bool {
		return c.rules[i].ExecutionOrder < c.rules[j].ExecutionOrder
	})

	for _, r := range c.rules {
		if r.IsRecordLevel() {
			c.recordLevel = append(c.recordLevel, r)
			continue
		}
		if _, ok := c.byField[r.FieldName]; !ok {
			c.fields = append(c.fields, r.FieldName)
		}
		c.byField[r.FieldName] = append(c.byField[r.FieldName], r)
	}
	return c
}

// ConfigID returns the configuration the catalog belongs to.
func (c *Catalog) ConfigID() string { return c.configID }

// Len returns the number of enabled rules.
func (c *Catalog) Len() int { return len(c.rules) }

// Empty reports whether the catalog holds no enabled rules.
func (c *Catalog) Empty() bool { return len(c.rules) == 0 }

// Rules returns all enabled rules in execution order.
func (c *Catalog) Rules() []*domain.ValidationRule { return c.rules }

// Fields returns the names of fields that have rules, ordered by their first rule.
func (c *Catalog) Fields() []string { return c.fields }

// RulesFor returns the rules for one field in execution order.
func (c *Catalog) RulesFor(field string) []*domain.ValidationRule { return c.byField[field] }

// RecordRules returns the record-level rules in execution order.
func (c *Catalog) RecordRules() []*domain.ValidationRule { return c.recordLevel }

// RulesOfType returns the enabled rules of one type in execution order.
func (c *Catalog) RulesOfType(t domain.RuleType) []*domain.ValidationRule {
	var out []*domain.ValidationRule
	for _, r := range c.rules {
		if r.RuleType == t {
			out = append(out, r)
		}
	}
	return out
}
