package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementsSplitsSchema(t *testing.T) {
	stmts := statements(schema)
	require.Len(t, stmts, 3)

	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS users")
	assert.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS usage_counters")
	assert.Contains(t, stmts[2], "CREATE TABLE IF NOT EXISTS generation_logs")

	for _, stmt := range stmts {
		assert.False(t, strings.HasSuffix(stmt, ";"))
		assert.Equal(t, 1, strings.Count(stmt, "CREATE TABLE"), "statements must not merge")
	}
}

func TestStatementsIgnoresFormatting(t *testing.T) {
	// Losing the blank line between statements must not merge them.
	stmts := statements("CREATE TABLE a (id INT);\nCREATE TABLE b (id INT);\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id INT)", stmts[0])
	assert.Equal(t, "CREATE TABLE b (id INT)", stmts[1])
}

func TestStatementsDropsEmpties(t *testing.T) {
	assert.Empty(t, statements(" ;\n\n; "))
}
