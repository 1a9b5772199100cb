// Package memoryquery serves the memory query CLI contract: commands that
// read the improvement store and answer with a single JSON line on stdout,
// {"success": bool, "data": ..., "error": ...}, exiting 0 on success and 1
// on failure. The UI process spawns the binary and parses that line.
package memoryquery

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/taskmasterpeace/Auto-Claude/internal/improvement"
	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
)

// DefaultLimit bounds results when the caller does not set one.
const DefaultLimit = 20

// Result is the wire envelope every command answers with.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Write emits the result as one JSON line and reports the matching exit
// code.
func (r *Result) Write(w io.Writer) int {
	data, err := json.Marshal(r)
	if err != nil {
		fmt.Fprintf(w, `{"success":false,"error":%q}`+"\n", err.Error())
		return 1
	}
	fmt.Fprintln(w, string(data))
	if r.Success {
		return 0
	}
	return 1
}

func failure(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

func success(data any) *Result {
	return &Result{Success: true, Data: data}
}

// Memory is one retrievable memory entry derived from a stored reflection.
type Memory struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Timestamp     string  `json:"timestamp"`
	Content       string  `json:"content"`
	Description   string  `json:"description,omitempty"`
	Score         float64 `json:"score,omitempty"`
	SessionNumber int     `json:"session_number,omitempty"`
}

// Entity is one pattern-level entry derived from stored patterns.
type Entity struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

// Querier answers memory queries against a project's improvement store.
type Querier struct {
	projectDir string
	store      *improvement.Store
}

// NewQuerier opens the store under projectDir.
func NewQuerier(projectDir string) (*Querier, error) {
	store, err := improvement.NewStore(projectDir)
	if err != nil {
		return nil, err
	}
	return &Querier{projectDir: projectDir, store: store}, nil
}

// GetStatus reports whether the memory store exists and what it holds.
func (q *Querier) GetStatus() *Result {
	improvementDir := filepath.Join(q.projectDir, ".auto-claude", "improvement")
	_, statErr := os.Stat(improvementDir)
	exists := statErr == nil

	var files []string
	if entries, err := os.ReadDir(improvementDir); err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			files = append(files, e.Name())
		}
	}

	reflections, err := q.store.GetReflections(0)
	connected := err == nil

	data := map[string]any{
		"available":      true,
		"databasePath":   improvementDir,
		"databaseExists": exists,
		"connected":      connected,
		"databases":      files,
	}
	if connected {
		data["memoryCount"] = len(reflections)
	} else {
		data["error"] = err.Error()
	}
	return success(data)
}

// GetMemories returns the most recent memories, newest first.
func (q *Querier) GetMemories(limit int) *Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	reflections, err := q.store.GetReflections(limit)
	if err != nil {
		return failure("query failed: %v", err)
	}

	memories := make([]Memory, 0, len(reflections))
	for _, r := range reflections {
		memories = append(memories, memoryFromReflection(r, 0))
	}
	return success(map[string]any{"memories": memories, "count": len(memories)})
}

// Search returns memories whose name or content contains the query,
// case-insensitively, newest first.
func (q *Querier) Search(query string, limit int) *Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	reflections, err := q.store.GetReflections(0)
	if err != nil {
		return failure("search failed: %v", err)
	}

	needle := strings.ToLower(query)
	memories := make([]Memory, 0, limit)
	for _, r := range reflections {
		if len(memories) >= limit {
			break
		}
		if reflectionMatches(r, needle) {
			memories = append(memories, memoryFromReflection(r, 1.0))
		}
	}

	logging.Memory("search %q matched %d of %d memories", query, len(memories), len(reflections))
	return success(map[string]any{"memories": memories, "count": len(memories), "query": query})
}

// GetEntities returns pattern-level entries.
func (q *Querier) GetEntities(limit int) *Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	patterns, err := q.store.GetPatterns()
	if err != nil {
		return failure("query failed: %v", err)
	}

	entities := make([]Entity, 0, limit)
	for _, p := range patterns {
		if len(entities) >= limit {
			break
		}
		if p.SuggestedFix == "" && p.IssueType == "" {
			continue
		}
		entities = append(entities, Entity{
			ID:        p.ID,
			Name:      p.IssueType,
			Type:      inferEntityType(p.IssueType),
			Timestamp: p.CreatedAt.Format(time.RFC3339),
			Content:   p.SuggestedFix,
		})
	}
	return success(map[string]any{"entities": entities, "count": len(entities)})
}

func reflectionMatches(r *improvement.Reflection, needle string) bool {
	if strings.Contains(strings.ToLower(r.TaskID), needle) ||
		strings.Contains(strings.ToLower(r.SpecID), needle) {
		return true
	}
	for _, group := range [][]string{r.IssuesFound, r.WhatWorked, r.WhatFailed, r.Recommendations} {
		for _, s := range group {
			if strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
	}
	return false
}

func memoryFromReflection(r *improvement.Reflection, score float64) Memory {
	var parts []string
	if len(r.WhatWorked) > 0 {
		parts = append(parts, "Worked: "+strings.Join(r.WhatWorked, "; "))
	}
	if len(r.WhatFailed) > 0 {
		parts = append(parts, "Failed: "+strings.Join(r.WhatFailed, "; "))
	}
	if len(r.Recommendations) > 0 {
		parts = append(parts, "Recommendations: "+strings.Join(r.Recommendations, "; "))
	}
	content := strings.Join(parts, " | ")
	if content == "" {
		content = r.TaskID
	}

	m := Memory{
		ID:          r.TaskID,
		Name:        r.TaskID,
		Type:        inferMemoryType(r.TaskID, content),
		Timestamp:   r.CreatedAt.Format(time.RFC3339),
		Content:     content,
		Description: r.SpecID,
		Score:       score,
	}
	if n := extractSessionNumber(r.TaskID); n > 0 {
		m.SessionNumber = n
	}
	return m
}

func inferMemoryType(name, content string) string {
	nameLower := strings.ToLower(name)
	contentLower := strings.ToLower(content)

	switch {
	case strings.Contains(nameLower, "session_"):
		return "session_insight"
	case strings.Contains(nameLower, "pattern") || strings.Contains(contentLower, "pattern"):
		return "pattern"
	case strings.Contains(nameLower, "gotcha") || strings.Contains(contentLower, "gotcha"):
		return "gotcha"
	case strings.Contains(nameLower, "codebase"):
		return "codebase_discovery"
	case strings.Contains(nameLower, "task_outcome"):
		return "task_outcome"
	}
	return "session_insight"
}

func inferEntityType(name string) string {
	nameLower := strings.ToLower(name)
	switch {
	case strings.Contains(nameLower, "pattern"):
		return "pattern"
	case strings.Contains(nameLower, "gotcha"):
		return "gotcha"
	case strings.Contains(nameLower, "codebase"):
		return "codebase_discovery"
	}
	return "session_insight"
}

var sessionNumberPattern = regexp.MustCompile(`(?i)session[_-]?(\d+)`)

func extractSessionNumber(name string) int {
	m := sessionNumberPattern.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
