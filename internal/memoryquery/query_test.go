package memoryquery

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmasterpeace/Auto-Claude/internal/improvement"
)

func seedProject(t *testing.T) (string, *improvement.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := improvement.NewStore(dir)
	require.NoError(t, err)
	return dir, store
}

func decodeResult(t *testing.T, r *Result) (map[string]any, int) {
	t.Helper()
	var buf bytes.Buffer
	code := r.Write(&buf)

	line := buf.String()
	require.True(t, strings.HasSuffix(line, "\n"))
	require.Equal(t, 1, strings.Count(line, "\n"), "output must be a single line")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	return decoded, code
}

func TestResultWrite(t *testing.T) {
	ok, code := decodeResult(t, success(map[string]any{"x": 1}))
	assert.Equal(t, 0, code)
	assert.Equal(t, true, ok["success"])

	bad, code := decodeResult(t, failure("boom: %d", 7))
	assert.Equal(t, 1, code)
	assert.Equal(t, false, bad["success"])
	assert.Equal(t, "boom: 7", bad["error"])
}

func TestGetStatus(t *testing.T) {
	dir, store := seedProject(t)
	require.NoError(t, store.SaveReflection(&improvement.Reflection{TaskID: "t1", CreatedAt: time.Now()}))

	q, err := NewQuerier(dir)
	require.NoError(t, err)

	decoded, code := decodeResult(t, q.GetStatus())
	assert.Equal(t, 0, code)

	data := decoded["data"].(map[string]any)
	assert.Equal(t, true, data["available"])
	assert.Equal(t, true, data["databaseExists"])
	assert.Equal(t, true, data["connected"])
	assert.Equal(t, 1.0, data["memoryCount"])
	assert.Contains(t, data["databases"], "reflections.json")
}

func TestGetMemories(t *testing.T) {
	dir, store := seedProject(t)
	require.NoError(t, store.SaveReflection(&improvement.Reflection{
		TaskID:          "auth-spec_20250801_120000",
		SpecID:          "auth-spec",
		WhatWorked:      []string{"incremental commits"},
		WhatFailed:      []string{"flaky tests"},
		Recommendations: []string{"pin versions"},
		CreatedAt:       time.Now().Add(-time.Hour),
	}))
	require.NoError(t, store.SaveReflection(&improvement.Reflection{
		TaskID:    "session_42_cleanup",
		SpecID:    "cleanup",
		CreatedAt: time.Now(),
	}))

	q, err := NewQuerier(dir)
	require.NoError(t, err)

	decoded, code := decodeResult(t, q.GetMemories(10))
	require.Equal(t, 0, code)

	data := decoded["data"].(map[string]any)
	assert.Equal(t, 2.0, data["count"])
	memories := data["memories"].([]any)
	require.Len(t, memories, 2)

	// Newest first; the bare reflection falls back to its task id as content
	first := memories[0].(map[string]any)
	assert.Equal(t, "session_42_cleanup", first["name"])
	assert.Equal(t, "session_insight", first["type"])
	assert.Equal(t, 42.0, first["session_number"])
	assert.Equal(t, "session_42_cleanup", first["content"])

	second := memories[1].(map[string]any)
	assert.Equal(t, "auth-spec", second["description"])
	content := second["content"].(string)
	assert.Contains(t, content, "Worked: incremental commits")
	assert.Contains(t, content, "Failed: flaky tests")
	assert.Contains(t, content, "Recommendations: pin versions")
}

func TestSearch(t *testing.T) {
	dir, store := seedProject(t)
	require.NoError(t, store.SaveReflection(&improvement.Reflection{
		TaskID:     "task-a",
		WhatFailed: []string{"Flaky browser tests"},
		CreatedAt:  time.Now(),
	}))
	require.NoError(t, store.SaveReflection(&improvement.Reflection{
		TaskID:    "task-b",
		CreatedAt: time.Now(),
	}))

	q, err := NewQuerier(dir)
	require.NoError(t, err)

	decoded, code := decodeResult(t, q.Search("FLAKY", 10))
	require.Equal(t, 0, code)

	data := decoded["data"].(map[string]any)
	assert.Equal(t, 1.0, data["count"])
	assert.Equal(t, "FLAKY", data["query"])
	memories := data["memories"].([]any)
	require.Len(t, memories, 1)
	assert.Equal(t, "task-a", memories[0].(map[string]any)["name"])
	assert.Equal(t, 1.0, memories[0].(map[string]any)["score"])
}

func TestGetEntities(t *testing.T) {
	dir, store := seedProject(t)
	require.NoError(t, store.SavePattern(improvement.NewPattern(
		"type_error", "Recurring type error issues", 4,
		[]string{"e"}, []string{"s"}, "Enable strict mode")))

	q, err := NewQuerier(dir)
	require.NoError(t, err)

	decoded, code := decodeResult(t, q.GetEntities(10))
	require.Equal(t, 0, code)

	data := decoded["data"].(map[string]any)
	assert.Equal(t, 1.0, data["count"])
	entities := data["entities"].([]any)
	require.Len(t, entities, 1)

	e := entities[0].(map[string]any)
	assert.Equal(t, "type_error", e["name"])
	assert.Equal(t, "session_insight", e["type"])
	assert.Equal(t, "Enable strict mode", e["content"])
}

func TestExtractSessionNumber(t *testing.T) {
	assert.Equal(t, 42, extractSessionNumber("session_42_cleanup"))
	assert.Equal(t, 7, extractSessionNumber("Session-7"))
	assert.Equal(t, 0, extractSessionNumber("no number here"))
}

func TestInferMemoryType(t *testing.T) {
	assert.Equal(t, "session_insight", inferMemoryType("session_3_work", ""))
	assert.Equal(t, "pattern", inferMemoryType("pattern-thing", ""))
	assert.Equal(t, "gotcha", inferMemoryType("x", "watch out for this gotcha"))
	assert.Equal(t, "codebase_discovery", inferMemoryType("codebase-map", ""))
	assert.Equal(t, "task_outcome", inferMemoryType("task_outcome_1", ""))
	assert.Equal(t, "session_insight", inferMemoryType("misc", "misc"))
}
