package catalogfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/loadgate/internal/domain"
)

const sample = `
configs:
  - id: TXN
    name: daily transactions
    file_type: delimited
    header_rows: 1
    columns:
      - name: ACCT
      - name: NAME
      - name: AMOUNT
    max_errors: 10
    transaction_type_id: TT01
    rules:
      - id: ACCT_REQ
        field: ACCT
        type: REQUIRED
        severity: CRITICAL
        order: 1
      - id: NAME_LEN
        field: NAME
        type: length
        severity: warning
        max_length: 30
        order: 2
        message: "{field} too long: {value}"
      - field: AMOUNT
        type: RANGE
        min_value: 0
        order: 3
      - id: OLD
        field: AMOUNT
        type: PATTERN
        pattern: '\d+'
        enabled: false
  - id: FIXED
    file_type: FIXED_WIDTH
    enabled: false
    columns:
      - {name: ID, start: 0, length: 6}
`

func TestParse(t *testing.T) {
	p, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, []string{"FIXED", "TXN"}, p.ConfigIDs())

	cfg, err := p.LoadConfig(ctx, "TXN")
	require.NoError(t, err)
	assert.Equal(t, domain.FileTypeDelimited, cfg.FileType)
	assert.Equal(t, 1, cfg.HeaderRows)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{"ACCT", "NAME", "AMOUNT"}, cfg.Columns.Names())

	rules, err := p.RuleCatalog(ctx, "TXN")
	require.NoError(t, err)
	require.Len(t, rules, 4)
	assert.Equal(t, domain.SeverityCritical, rules[0].Severity)
	assert.Equal(t, domain.RuleTypeLength, rules[1].RuleType)
	assert.Equal(t, 30, *rules[1].MaxLength)
	assert.Equal(t, "TXN-3", rules[2].ID)
	assert.Equal(t, domain.SeverityError, rules[2].Severity)
	assert.False(t, rules[3].Enabled)

	_, err = p.LoadConfig(ctx, "FIXED")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = p.LoadConfig(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	entries := p.Entries()
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Config.Enabled)
	assert.Equal(t, 6, entries[0].Config.Columns[0].Length)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"missing id":       "configs:\n  - name: x\n",
		"duplicate config": "configs:\n  - id: A\n  - id: A\n",
		"unknown type":     "configs:\n  - id: A\n    rules:\n      - {field: X, type: FUZZY}\n",
		"unknown severity": "configs:\n  - id: A\n    rules:\n      - {field: X, type: REQUIRED, severity: LOUD}\n",
		"unknown file":     "configs:\n  - id: A\n    file_type: XML\n",
		"duplicate rule":   "configs:\n  - id: A\n    rules:\n      - {id: R, field: X, type: REQUIRED}\n      - {id: R, field: Y, type: REQUIRED}\n",
		"unknown key":      "configs:\n  - id: A\n    max_error: 3\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	p, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, p.ConfigIDs(), 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
