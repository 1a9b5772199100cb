package improvement

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
)

// QAIssue is one categorized issue extracted from a QA report.
type QAIssue struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Section     string `json:"section"`
}

// FixRequest is one discrete fix entry parsed from QA_FIX_REQUEST.md.
type FixRequest struct {
	Title   string   `json:"title"`
	Details []string `json:"details"`
}

// SubtaskStats summarizes subtask outcomes from the implementation plan.
type SubtaskStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// TaskMetrics is everything gathered from one completed task's spec
// directory. Parsing is best-effort: a failure on one artifact is recorded
// in ParseErrors and does not abort the others.
type TaskMetrics struct {
	SpecID               string
	GatheredAt           time.Time
	QAIterations         int
	Success              bool
	TotalDurationSeconds float64
	PhaseDurations       map[string]float64
	IssuesFound          []QAIssue
	IssueTypes           []string
	FixesApplied         []FixRequest
	SubtaskStats         SubtaskStats
	ParseErrors          []string
}

type planFile struct {
	QASignoff struct {
		Iterations int    `json:"iterations"`
		Status     string `json:"status"`
	} `json:"qa_signoff"`
	Phases []struct {
		Name        string `json:"name"`
		StartedAt   string `json:"started_at"`
		CompletedAt string `json:"completed_at"`
	} `json:"phases"`
	Subtasks []struct {
		Status string `json:"status"`
	} `json:"subtasks"`
}

// GatherTaskMetrics collects metrics from a completed task's spec directory,
// reading implementation_plan.json, qa_report.md and QA_FIX_REQUEST.md.
func GatherTaskMetrics(specDir string) *TaskMetrics {
	m := &TaskMetrics{
		SpecID:         filepath.Base(specDir),
		GatheredAt:     time.Now(),
		PhaseDurations: map[string]float64{},
	}

	if data, err := os.ReadFile(filepath.Join(specDir, "implementation_plan.json")); err == nil {
		var plan planFile
		if jsonErr := json.Unmarshal(data, &plan); jsonErr != nil {
			m.ParseErrors = append(m.ParseErrors, fmt.Sprintf("implementation_plan.json: %v", jsonErr))
		} else {
			m.QAIterations = plan.QASignoff.Iterations
			m.Success = plan.QASignoff.Status == "approved"

			for _, phase := range plan.Phases {
				if phase.StartedAt == "" || phase.CompletedAt == "" {
					continue
				}
				started, err1 := time.Parse(time.RFC3339, phase.StartedAt)
				completed, err2 := time.Parse(time.RFC3339, phase.CompletedAt)
				if err1 != nil || err2 != nil {
					// Malformed timestamps skip the phase, not the task
					continue
				}
				name := phase.Name
				if name == "" {
					name = "unknown"
				}
				m.PhaseDurations[name] = completed.Sub(started).Seconds()
			}
			for _, d := range m.PhaseDurations {
				m.TotalDurationSeconds += d
			}

			m.SubtaskStats.Total = len(plan.Subtasks)
			for _, st := range plan.Subtasks {
				switch st.Status {
				case "completed":
					m.SubtaskStats.Completed++
				case "failed":
					m.SubtaskStats.Failed++
				}
			}
		}
	} else if !os.IsNotExist(err) {
		m.ParseErrors = append(m.ParseErrors, fmt.Sprintf("implementation_plan.json: %v", err))
	}

	if data, err := os.ReadFile(filepath.Join(specDir, "qa_report.md")); err == nil {
		m.IssuesFound = ParseQAIssues(string(data))
		seen := map[string]bool{}
		for _, issue := range m.IssuesFound {
			if !seen[issue.Type] {
				seen[issue.Type] = true
				m.IssueTypes = append(m.IssueTypes, issue.Type)
			}
		}
	} else if !os.IsNotExist(err) {
		m.ParseErrors = append(m.ParseErrors, fmt.Sprintf("qa_report.md: %v", err))
	}

	if data, err := os.ReadFile(filepath.Join(specDir, "QA_FIX_REQUEST.md")); err == nil {
		m.FixesApplied = ParseFixRequests(string(data))
	} else if !os.IsNotExist(err) {
		m.ParseErrors = append(m.ParseErrors, fmt.Sprintf("QA_FIX_REQUEST.md: %v", err))
	}

	logging.MetricsDebug("gathered metrics for %s: qa_iterations=%d success=%v issues=%d",
		m.SpecID, m.QAIterations, m.Success, len(m.IssuesFound))
	return m
}

var issueMarkers = []string{"❌", "fail", "error", "issue", "problem", "bug"}

// ParseQAIssues extracts categorized issues from QA report markdown.
// Heuristic and lossy; a line that matches no marker is simply skipped.
func ParseQAIssues(content string) []QAIssue {
	var issues []QAIssue
	currentSection := ""

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)

		if strings.HasPrefix(line, "## ") || strings.HasPrefix(line, "### ") {
			currentSection = strings.ToLower(strings.TrimSpace(strings.TrimLeft(line, "#")))
		}

		lower := strings.ToLower(line)
		for _, marker := range issueMarkers {
			if strings.Contains(lower, marker) {
				issues = append(issues, QAIssue{
					Type:        CategorizeIssue(line, currentSection),
					Description: line,
					Section:     currentSection,
				})
				break
			}
		}

		// Bullets under a failure section count even without a marker
		if currentSection != "" && strings.Contains(currentSection, "fail") {
			if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
				issues = append(issues, QAIssue{
					Type:        CategorizeIssue(line, currentSection),
					Description: strings.TrimSpace(line[2:]),
					Section:     currentSection,
				})
			}
		}
	}

	return issues
}

var issueTaxonomy = []struct {
	category string
	keywords []string
}{
	{"type_error", []string{"type error", "typescript", "typing", "type '", "cannot assign"}},
	{"runtime_error", []string{"runtime", "exception", "crash", "undefined", "null reference"}},
	{"test_failure", []string{"test fail", "assertion", "expect", "should have"}},
	{"lint_error", []string{"lint", "eslint", "prettier", "format", "style"}},
	{"missing_feature", []string{"missing", "not implemented", "todo", "incomplete"}},
	{"performance", []string{"slow", "performance", "memory", "timeout"}},
	{"security", []string{"security", "vulnerability", "unsafe", "injection"}},
}

// CategorizeIssue maps an issue description to a fixed category. The first
// matching category wins; "other" is the fallback.
func CategorizeIssue(description, section string) string {
	lower := strings.ToLower(description)
	for _, entry := range issueTaxonomy {
		for _, k := range entry.keywords {
			if strings.Contains(lower, k) {
				return entry.category
			}
		}
	}
	return "other"
}

// ParseFixRequests splits QA_FIX_REQUEST.md content into discrete fix
// entries delimited by "## " headers or numbered markers ("1.", "2.", ...).
func ParseFixRequests(content string) []FixRequest {
	var fixes []FixRequest
	var current *FixRequest

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)

		isHeader := strings.HasPrefix(line, "## ")
		isNumbered := len(line) > 0 && line[0] >= '0' && line[0] <= '9' &&
			strings.Contains(line[:min(3, len(line))], ".")

		if isHeader || isNumbered {
			if current != nil {
				fixes = append(fixes, *current)
			}
			current = &FixRequest{
				Title: strings.TrimSpace(strings.TrimLeft(line, "#0123456789. ")),
			}
		} else if current != nil && line != "" {
			current.Details = append(current.Details, line)
		}
	}
	if current != nil {
		fixes = append(fixes, *current)
	}

	return fixes
}

// CreateTaskReflection gathers metrics for a spec directory and builds the
// reflection record ready for storage. The task id is the spec id plus a
// timestamp so repeated runs of the same spec stay distinct.
func CreateTaskReflection(specDir, projectPath string, whatWorked, whatFailed, recommendations []string) *Reflection {
	m := GatherTaskMetrics(specDir)

	descriptions := make([]string, 0, len(m.IssuesFound))
	for _, issue := range m.IssuesFound {
		descriptions = append(descriptions, issue.Description)
	}
	fixes := make([]string, 0, len(m.FixesApplied))
	for _, fix := range m.FixesApplied {
		fixes = append(fixes, fix.Title)
	}

	return &Reflection{
		TaskID:               fmt.Sprintf("%s_%s", m.SpecID, time.Now().Format("20060102_150405")),
		SpecID:               m.SpecID,
		ProjectPath:          projectPath,
		Success:              m.Success,
		QAIterations:         m.QAIterations,
		TotalDurationSeconds: m.TotalDurationSeconds,
		PhaseDurations:       m.PhaseDurations,
		IssuesFound:          descriptions,
		IssueTypes:           m.IssueTypes,
		FixesApplied:         fixes,
		WhatWorked:           whatWorked,
		WhatFailed:           whatFailed,
		Recommendations:      recommendations,
		CreatedAt:            time.Now(),
	}
}

// IssueTypeCount pairs an issue category with its occurrence count.
type IssueTypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// MetricsSummary aggregates the most recent reflections.
type MetricsSummary struct {
	TotalTasks         int              `json:"total_tasks"`
	SuccessRate        float64          `json:"success_rate"`
	AvgQAIterations    float64          `json:"avg_qa_iterations"`
	CommonIssueTypes   []IssueTypeCount `json:"common_issue_types"`
	AvgDurationSeconds float64          `json:"avg_duration_seconds"`
}

// GetMetricsSummary summarizes the limit most recent reflections: success
// rate, average QA iterations, average duration and the top-5 issue types.
// Ties are broken by first-seen order, which is deterministic.
func GetMetricsSummary(store *Store, limit int) (*MetricsSummary, error) {
	reflections, err := store.GetReflections(limit)
	if err != nil {
		return nil, err
	}
	summary := &MetricsSummary{CommonIssueTypes: []IssueTypeCount{}}
	if len(reflections) == 0 {
		return summary, nil
	}

	var successful, qaSum int
	var durSum float64
	var durCount int
	counts := map[string]int{}
	var order []string
	for _, r := range reflections {
		if r.Success {
			successful++
		}
		qaSum += r.QAIterations
		if r.TotalDurationSeconds > 0 {
			durSum += r.TotalDurationSeconds
			durCount++
		}
		for _, t := range r.IssueTypes {
			if _, ok := counts[t]; !ok {
				order = append(order, t)
			}
			counts[t]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	for i, t := range order {
		if i >= 5 {
			break
		}
		summary.CommonIssueTypes = append(summary.CommonIssueTypes, IssueTypeCount{Type: t, Count: counts[t]})
	}

	n := float64(len(reflections))
	summary.TotalTasks = len(reflections)
	summary.SuccessRate = float64(successful) / n
	summary.AvgQAIterations = float64(qaSum) / n
	if durCount > 0 {
		summary.AvgDurationSeconds = durSum / float64(durCount)
	}
	return summary, nil
}
