package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	chdir(t, t.TempDir())

	var out, errOut bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func TestRunCommand_ScriptedModes(t *testing.T) {
	for _, mode := range []string{"function", "react", "codeact"} {
		t.Run(mode, func(t *testing.T) {
			out, err := execute(t, "run", "--mode", mode, "--stream", "whose closing price is higher, A or B?")
			require.NoError(t, err)
			assert.Contains(t, out, "B has the higher closing price")
		})
	}
}

func TestRunCommand_Transcript(t *testing.T) {
	out, err := execute(t, "run", "--transcript", "compare A and B")
	require.NoError(t, err)
	assert.Contains(t, out, `"role"`)
	assert.Contains(t, out, "1488.21")
}

func TestRunCommand_IterationLimit(t *testing.T) {
	out, err := execute(t, "run", "--max-iterations", "1", "compare A and B")
	require.NoError(t, err)
	assert.Contains(t, out, "(iteration_limit after 1 iterations)")
}

func TestRunCommand_InvalidMode(t *testing.T) {
	_, err := execute(t, "run", "--mode", "telepathy", "q")
	assert.Error(t, err)
}

func TestPlanCommand(t *testing.T) {
	out, err := execute(t, "plan", "--goal", "whose closing price is higher, A or B?")
	require.NoError(t, err)
	assert.Contains(t, out, "B has the higher closing price")

	planPath := filepath.Join(t.TempDir(), "steps.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte("steps:\n  - get the closing price of A\n  - get the closing price of B\n"), 0o600))

	out, err = execute(t, "plan", "--goal", "compare", "--plan-file", planPath)
	require.NoError(t, err)
	assert.Contains(t, out, "B has the higher closing price")
}

func TestParsePlan(t *testing.T) {
	steps, err := parsePlan([]byte("steps:\n  - a\n  - b\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, steps)

	steps, err = parsePlan([]byte("- a\n- b\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, steps)

	_, err = parsePlan([]byte("- a\n- ''\n"))
	assert.Error(t, err)

	_, err = parsePlan([]byte("steps: {a: b}"))
	assert.Error(t, err)
}

func TestGetClosingPrice(t *testing.T) {
	p, err := getClosingPrice(nil, closingPriceArgs{Input: " b "})
	require.NoError(t, err)
	assert.Equal(t, "1488.21", p)

	_, err = getClosingPrice(nil, closingPriceArgs{Ticker: "ZZZ"})
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test, like
// testing.T.Chdir on newer Go releases.
func chdir(t *testing.T, dir string) {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
