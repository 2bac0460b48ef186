package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBusinessDate(t *testing.T) {
	d, err := parseBusinessDate("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), d)

	today, err := parseBusinessDate("")
	require.NoError(t, err)
	assert.Zero(t, today.Hour())
	assert.Equal(t, time.UTC, today.Location())

	_, err = parseBusinessDate("15/03/2024")
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"validate"}, {"run"}, {"source"}, {"sweep"},
		{"catalog", "import"}, {"catalog", "list"},
		{"executions", "list"}, {"exec", "show"}, {"executions", "trace"}, {"executions", "retry"},
	} {
		c, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], c.Name())
	}
}
