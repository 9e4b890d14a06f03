package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/maloquacious/libcashier/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against dir and returns stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{config.EnvStoreDir, config.EnvLogLevel, config.EnvLogFormat, config.EnvLogFile} {
		t.Setenv(k, "")
	}
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	base := []string{"--config", filepath.Join(dir, "absent.yaml"), "--store", dir, "--log-level", "error"}
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	closeLog()
	return out.String(), err
}

func TestDBLifecycleCommands(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "db", "verify")
	assert.Error(t, err, "verify before create")
	_, err = run(t, dir, "db", "upgrade")
	assert.Error(t, err, "upgrade before create")

	out, err := run(t, dir, "db", "create")
	require.NoError(t, err)
	assert.Contains(t, out, `"transition": "created"`)

	_, err = run(t, dir, "db", "create")
	assert.Error(t, err, "create twice")

	out, err = run(t, dir, "db", "upgrade")
	require.NoError(t, err)
	assert.Contains(t, out, `"transition": "none"`)

	out, err = run(t, dir, "db", "verify")
	require.NoError(t, err)
	var report verifyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "ready", report.State)
	assert.Equal(t, 1, report.SchemaVersion)
	assert.Empty(t, report.Problems)

	_, err = run(t, dir, "db", "reset")
	assert.Error(t, err, "reset needs --yes")
	out, err = run(t, dir, "db", "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, `"transition": "rebuilt"`)
}

func TestLedgerCommands(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "db", "create")
	require.NoError(t, err)

	out, err := run(t, dir, "product", "add", "--name", "Dune", "--category", "Books", "--price", "12.5", "--quantity", "2")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": 1`)

	out, err = run(t, dir, "sale", "record", "--item", "1:1", "--date", "2025-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, `"totalAmount": 12.5`)

	out, err = run(t, dir, "sale", "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"productId": 1`)

	_, err = run(t, dir, "sale", "record", "--item", "1:5")
	assert.Error(t, err, "more than in stock")

	out, err = run(t, dir, "loan", "lend", "--book", "1", "--borrower", "Ann", "--date", "2025-03-01", "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, `"returnDateExpected": "2025-03-08 00:00:00"`)
	assert.Contains(t, out, `"returnDateActual": null`)

	out, err = run(t, dir, "loan", "list", "--outstanding")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "borrowed"`)

	out, err = run(t, dir, "loan", "return", "1", "--date", "2025-03-05")
	require.NoError(t, err)
	assert.Contains(t, out, `"returnDateActual": "2025-03-05 00:00:00"`)

	out, err = run(t, dir, "loan", "list", "--outstanding")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestLogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "cashier.log")

	_, err := run(t, dir, "--log-level", "info", "--log-file", logPath, "db", "create")
	require.NoError(t, err)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "created")
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		in      string
		id      int64
		qty     int
		wantErr bool
	}{
		{in: "3:2", id: 3, qty: 2},
		{in: "7", id: 7, qty: 1},
		{in: "x:2", wantErr: true},
		{in: "3:y", wantErr: true},
		{in: "0:1", wantErr: true},
	}
	for _, tt := range tests {
		line, err := parseLine(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.id, line.ProductID)
		assert.Equal(t, tt.qty, line.Quantity)
	}
}
