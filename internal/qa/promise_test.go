package qa

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMetadata(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "task_metadata.json"), []byte(content), 0o644))
}

func TestLoadPromise(t *testing.T) {
	dir := t.TempDir()
	writeMetadata(t, dir, `{"completionPromise": "npm test", "maxIterations": 5}`)

	p, err := LoadPromise(dir)
	require.NoError(t, err)
	assert.Equal(t, "npm test", p.Command)
	assert.Equal(t, 5, p.MaxIterations)
	assert.Equal(t, dir, p.WorkDir)
	assert.Equal(t, DefaultCommandTimeout, p.Timeout)
}

func TestLoadPromiseDefaults(t *testing.T) {
	dir := t.TempDir()
	writeMetadata(t, dir, `{"completionPromise": "make check"}`)

	p, err := LoadPromise(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, p.MaxIterations)
}

func TestLoadPromiseMissing(t *testing.T) {
	_, err := LoadPromise(t.TempDir())
	assert.ErrorIs(t, err, ErrNoPromise)

	dir := t.TempDir()
	writeMetadata(t, dir, `{"maxIterations": 3}`)
	_, err = LoadPromise(dir)
	assert.ErrorIs(t, err, ErrNoPromise)
}

func TestLoadPromiseCorrupt(t *testing.T) {
	dir := t.TempDir()
	writeMetadata(t, dir, "{broken")

	_, err := LoadPromise(dir)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoPromise)
}

func TestPromiseCheckFulfilled(t *testing.T) {
	p := &Promise{Command: "echo done", WorkDir: t.TempDir()}

	result, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Fulfilled)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "done\n", result.Output)
	assert.False(t, result.TimedOut)
	assert.WithinDuration(t, time.Now(), result.CheckedAt, time.Minute)
}

func TestPromiseCheckFailingExit(t *testing.T) {
	p := &Promise{Command: "echo broken >&2; exit 3", WorkDir: t.TempDir()}

	result, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Fulfilled)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Output, "broken")
}

func TestPromiseCheckTimeout(t *testing.T) {
	p := &Promise{Command: "sleep 5", WorkDir: t.TempDir(), Timeout: 100 * time.Millisecond}

	result, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Fulfilled)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
}

func TestCheckResultPreview(t *testing.T) {
	short := &CheckResult{Output: "short output"}
	assert.Equal(t, "short output", short.Preview())

	long := &CheckResult{Output: strings.Repeat("x", 600)}
	preview := long.Preview()
	assert.Len(t, preview, 503)
	assert.True(t, strings.HasSuffix(preview, "..."))
}

func TestSaveResultTruncatesOutput(t *testing.T) {
	dir := t.TempDir()
	result := &CheckResult{
		Fulfilled: false,
		ExitCode:  1,
		Output:    strings.Repeat("y", 3000),
		CheckedAt: time.Now(),
	}
	require.NoError(t, SaveResult(dir, result))

	data, err := os.ReadFile(filepath.Join(dir, "completion_promise_result.json"))
	require.NoError(t, err)

	var saved CheckResult
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Len(t, saved.Output, 2000)
	assert.Equal(t, 1, saved.ExitCode)

	// The in-memory result keeps its full output
	assert.Len(t, result.Output, 3000)
}
