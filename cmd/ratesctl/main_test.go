package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rates-engine/config"
	"github.com/warp/rates-engine/factory"
)

type harness struct {
	dir   string
	db    string
	stdin string
	tty   bool
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{dir: dir, db: filepath.Join(dir, "rates.db")}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := &config.Config{DBPath: h.db, AtomicImport: true}
	a := &app{
		cfg:   cfg,
		stdin: strings.NewReader(h.stdin),
		isTTY: func() bool { return h.tty },
	}
	var out bytes.Buffer
	root := newRootCmd(a)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--quiet"}, args...))
	err := root.Execute()
	a.close()
	return out.String(), err
}

func (h *harness) writeExtract(t *testing.T, name string, rows ...[]string) string {
	t.Helper()
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Join(row, ",") + "\n")
	}
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestCLI_ImportResetRuns(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "councils", "add", "--id", "wcc", "--name", "Wellington City Council", "--short-name", "WCC")
	require.NoError(t, err)

	out, err := h.run(t, "councils", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Wellington City Council")

	file := h.writeExtract(t, "2019.csv",
		factory.Header(),
		factory.Row("V001").Fields(),
		factory.Row("V002").WithTotals("", "").Fields(),
	)

	// Short name works as well as id.
	out, err = h.run(t, "import", "--council", "wcc", "--period", "2019", "--file", file, "--header")
	require.NoError(t, err)
	assert.Contains(t, out, "1 created, 0 reconciled")
	assert.Contains(t, out, "skipped")

	out, err = h.run(t, "import", "--council", "WCC", "--period", "2019", "--file", file, "--header", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "bills=1 payers=0 properties=1")

	// Non-interactive reset needs --yes.
	_, err = h.run(t, "reset", "--council", "wcc", "--period", "2019")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, err = h.run(t, "reset", "--council", "wcc", "--period", "2019", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "bills=1 payers=0 properties=1")

	out, err = h.run(t, "runs", "--council", "wcc")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "completed"))
}

func TestCLI_InteractiveResetConfirmation(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "councils", "add", "--id", "hcc", "--name", "Hutt City Council")
	require.NoError(t, err)

	h.tty = true
	h.stdin = "2020\n"
	_, err = h.run(t, "reset", "--council", "hcc", "--period", "2019")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not match")

	h.stdin = "2019\n"
	out, err := h.run(t, "reset", "--council", "hcc", "--period", "2019")
	require.NoError(t, err)
	assert.Contains(t, out, "bills=0 payers=0 properties=0")
}

func TestCLI_ImportErrors(t *testing.T) {
	h := newHarness(t)
	file := h.writeExtract(t, "x.csv", factory.Row("V001").Fields())

	_, err := h.run(t, "import", "--council", "ghost", "--period", "2019", "--file", file)
	assert.ErrorContains(t, err, "council not found")

	_, err = h.run(t, "councils", "add", "--id", "old", "--name", "Old Borough", "--inactive")
	require.NoError(t, err)
	_, err = h.run(t, "import", "--council", "old", "--period", "2019", "--file", file)
	assert.ErrorContains(t, err, "inactive")

	_, err = h.run(t, "import", "--council", "old")
	assert.Error(t, err, "missing required flags")

	_, err = h.run(t, "councils", "add", "--id", "../escape", "--name", "Escape Council")
	assert.ErrorContains(t, err, "invalid council id")
}
