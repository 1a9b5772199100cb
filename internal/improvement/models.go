// Package improvement implements the self-improvement system: goals, cards,
// reflections, patterns, and the loop that drives them.
//
// Cards are generated automatically by the reflection and discovery engines
// and require user approval before any action is taken. Goals define what the
// loop is trying to achieve; the loop iterates, generating cards and checking
// progress until the goal is met, stalled, or out of budget.
package improvement

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CardType classifies where an improvement card came from.
type CardType string

const (
	CardReflection   CardType = "reflection"   // from analyzing past task outcomes
	CardDiscovery    CardType = "discovery"    // from external tool/package search
	CardOptimization CardType = "optimization" // from performance/quality analysis
)

// CardStatus is the review state of a card.
type CardStatus string

const (
	CardProposed  CardStatus = "proposed"  // generated, awaiting user review
	CardApproved  CardStatus = "approved"  // user approved, ready to apply
	CardApplied   CardStatus = "applied"   // successfully applied
	CardDismissed CardStatus = "dismissed" // user dismissed
)

// ActionType is the kind of change a card suggests.
type ActionType string

const (
	ActionPromptUpdate ActionType = "prompt_update" // modify agent prompts
	ActionToolInstall  ActionType = "tool_install"  // install MCP server/plugin
	ActionConfigChange ActionType = "config_change" // update configuration
	ActionCodeChange   ActionType = "code_change"   // modify codebase
)

// EffortLevel estimates the work needed to apply a card's suggestion.
type EffortLevel string

const (
	EffortTrivial EffortLevel = "trivial" // < 5 minutes, one-liner
	EffortSmall   EffortLevel = "small"   // < 30 minutes
	EffortMedium  EffortLevel = "medium"  // < 2 hours
	EffortLarge   EffortLevel = "large"   // > 2 hours
)

// GoalType classifies an improvement goal.
type GoalType string

const (
	GoalMetricType GoalType = "metric"      // improve a measurable metric
	GoalDiscovery  GoalType = "discovery"   // discover N relevant tools
	GoalPatternFix GoalType = "pattern_fix" // fix recurring patterns
)

// GoalStatus is the lifecycle state of a goal. Transitions are only
// Active->Achieved or Active->Abandoned.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalAchieved  GoalStatus = "achieved"
	GoalAbandoned GoalStatus = "abandoned"
)

// Pattern severity levels.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// SuggestedAction is the concrete step a card proposes.
type SuggestedAction struct {
	Type    ActionType  `json:"type"`
	Details string      `json:"details"`
	Effort  EffortLevel `json:"effort"`
	Command *string     `json:"command"` // CLI command to execute if applicable
}

// CardEvidence backs a card with the data that motivated it.
type CardEvidence struct {
	Occurrences    int                `json:"occurrences"`
	Examples       []string           `json:"examples"`
	Metrics        map[string]float64 `json:"metrics"`
	RelevanceScore *float64           `json:"relevance_score"` // 0-1, discovery cards only
}

// Card is a proposed improvement awaiting human review. Cards are never
// deleted, only status-transitioned; the persisted list is append-only
// history.
type Card struct {
	ID              string          `json:"id"`
	Type            CardType        `json:"type"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Evidence        CardEvidence    `json:"evidence"`
	SuggestedAction SuggestedAction `json:"suggested_action"`
	Status          CardStatus      `json:"status"`
	GoalID          *string         `json:"goal_id"` // weak link, goal may be gone
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	AppliedAt       *time.Time      `json:"applied_at"`
}

// NewCard creates a card in the Proposed state with a fresh id.
func NewCard(typ CardType, title, description string, evidence CardEvidence, action SuggestedAction, goalID *string) *Card {
	now := time.Now()
	return &Card{
		ID:              newID("card"),
		Type:            typ,
		Title:           title,
		Description:     description,
		Evidence:        evidence,
		SuggestedAction: action,
		Status:          CardProposed,
		GoalID:          goalID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Approve marks the card approved and refreshes updated_at.
func (c *Card) Approve() {
	c.Status = CardApproved
	c.UpdatedAt = time.Now()
}

// Dismiss marks the card dismissed and refreshes updated_at.
func (c *Card) Dismiss() {
	c.Status = CardDismissed
	c.UpdatedAt = time.Now()
}

// Apply marks the card applied. AppliedAt is set here and only here; it is
// non-nil exactly when Status == CardApplied.
func (c *Card) Apply() {
	now := time.Now()
	c.Status = CardApplied
	c.UpdatedAt = now
	c.AppliedAt = &now
}

// GoalMetric is the measurable target tracked by a metric goal.
type GoalMetric struct {
	Name    string  `json:"name"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Unit    string  `json:"unit"`
}

// Progress reports how far the metric has moved toward its target, 0-100.
func (m GoalMetric) Progress() float64 {
	if m.Target == m.Current {
		return 100.0
	}
	if m.Target < m.Current {
		// Decrease goal, e.g. QA iterations 3.2 -> 2.0. Initial value is
		// not tracked, so the gap is measured against current.
		return clampPct(((m.Current - m.Target) / m.Current) * 100)
	}
	// Increase goal, e.g. success rate 78 -> 95.
	if m.Target == 0 {
		return 100.0
	}
	return clampPct((m.Current / m.Target) * 100)
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Goal drives the improvement loop toward a target outcome.
type Goal struct {
	ID              string      `json:"id"`
	Type            GoalType    `json:"type"`
	Target          string      `json:"target"` // human-readable target description
	Description     string      `json:"description"`
	Status          GoalStatus  `json:"status"`
	Metric          *GoalMetric `json:"metric"`          // metric goals only
	DiscoveryCount  int         `json:"discovery_count"` // discovery goals: how many to find
	DiscoveredSoFar int         `json:"discovered_so_far"`
	CardIDs         []string    `json:"card_ids"` // cards addressing this goal
	CreatedAt       time.Time   `json:"created_at"`
	AchievedAt      *time.Time  `json:"achieved_at"`
}

// NewMetricGoal creates an active goal to move a named metric to a target.
func NewMetricGoal(name string, current, target float64, unit, description string) *Goal {
	return &Goal{
		ID:          newID("goal"),
		Type:        GoalMetricType,
		Target:      description,
		Description: description,
		Status:      GoalActive,
		Metric:      &GoalMetric{Name: name, Current: current, Target: target, Unit: unit},
		CreatedAt:   time.Now(),
	}
}

// NewDiscoveryGoal creates an active goal to discover count relevant tools.
func NewDiscoveryGoal(count int, description string) *Goal {
	return &Goal{
		ID:             newID("goal"),
		Type:           GoalDiscovery,
		Target:         description,
		Description:    description,
		Status:         GoalActive,
		DiscoveryCount: count,
		CreatedAt:      time.Now(),
	}
}

// NewPatternFixGoal creates an active goal to eliminate high-severity
// recurring patterns.
func NewPatternFixGoal(description string) *Goal {
	return &Goal{
		ID:          newID("goal"),
		Type:        GoalPatternFix,
		Target:      description,
		Description: description,
		Status:      GoalActive,
		CreatedAt:   time.Now(),
	}
}

// MarkAchieved transitions the goal to Achieved and stamps achieved_at.
// Achieved is terminal; achieved_at is never cleared.
func (g *Goal) MarkAchieved() {
	now := time.Now()
	g.Status = GoalAchieved
	g.AchievedAt = &now
}

// Progress is the derived 0-100 completion value. It is recomputed on every
// call and never treated as stored ground truth.
func (g *Goal) Progress() float64 {
	if g.Status == GoalAchieved {
		return 100.0
	}
	switch {
	case g.Type == GoalMetricType && g.Metric != nil:
		return g.Metric.Progress()
	case g.Type == GoalDiscovery && g.DiscoveryCount > 0:
		return clampPct(float64(g.DiscoveredSoFar) / float64(g.DiscoveryCount) * 100)
	case g.Type == GoalPatternFix:
		if len(g.CardIDs) == 0 {
			return 0.0
		}
		return clampPct(float64(len(g.CardIDs)) * 33.3)
	}
	return 0.0
}

// MarshalJSON includes the derived progress value so persisted goal records
// carry it for external readers. It is ignored on load and always recomputed.
func (g *Goal) MarshalJSON() ([]byte, error) {
	type alias Goal
	return json.Marshal(struct {
		*alias
		Progress float64 `json:"progress"`
	}{(*alias)(g), g.Progress()})
}

// Reflection is an immutable record of one completed task's outcome.
// Created once per task completion and never mutated afterward.
type Reflection struct {
	TaskID               string             `json:"task_id"`
	SpecID               string             `json:"spec_id"`
	ProjectPath          string             `json:"project_path"`
	Success              bool               `json:"success"`
	QAIterations         int                `json:"qa_iterations"`
	TotalDurationSeconds float64            `json:"total_duration_seconds"`
	PhaseDurations       map[string]float64 `json:"phase_durations"`
	IssuesFound          []string           `json:"issues_found"`
	IssueTypes           []string           `json:"issue_types"` // categorized
	FixesApplied         []string           `json:"fixes_applied"`
	WhatWorked           []string           `json:"what_worked"`
	WhatFailed           []string           `json:"what_failed"`
	Recommendations      []string           `json:"recommendations"`
	CreatedAt            time.Time          `json:"created_at"`
}

// Pattern is a recurring issue aggregated over at least three reflections
// sharing an issue category.
type Pattern struct {
	ID            string    `json:"id"`
	IssueType     string    `json:"issue_type"`
	Description   string    `json:"description"`
	Occurrences   int       `json:"occurrences"`
	Examples      []string  `json:"examples"`       // capped at 5
	AffectedSpecs []string  `json:"affected_specs"` // capped at 5
	SuggestedFix  string    `json:"suggested_fix"`
	Severity      string    `json:"severity"`
	CreatedAt     time.Time `json:"created_at"`
}

// PatternSeverity maps an occurrence count to a severity bucket.
func PatternSeverity(occurrences int) string {
	switch {
	case occurrences >= 5:
		return SeverityHigh
	case occurrences >= 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// NewPattern creates a pattern with severity derived from occurrences.
func NewPattern(issueType, description string, occurrences int, examples, affectedSpecs []string, suggestedFix string) *Pattern {
	return &Pattern{
		ID:            newID("pattern"),
		IssueType:     issueType,
		Description:   description,
		Occurrences:   occurrences,
		Examples:      examples,
		AffectedSpecs: affectedSpecs,
		SuggestedFix:  suggestedFix,
		Severity:      PatternSeverity(occurrences),
		CreatedAt:     time.Now(),
	}
}

// Metrics is the aggregate snapshot recomputed on demand from the full store
// contents. It is never incrementally updated, to avoid drift.
type Metrics struct {
	TotalTasks      int `json:"total_tasks"`
	SuccessfulTasks int `json:"successful_tasks"`
	FailedTasks     int `json:"failed_tasks"`

	AvgQAIterations   float64 `json:"avg_qa_iterations"`
	TotalQAIterations int     `json:"total_qa_iterations"`

	AvgTaskDurationSeconds float64 `json:"avg_task_duration_seconds"`
	AvgPlanningDuration    float64 `json:"avg_planning_duration"`
	AvgCodingDuration      float64 `json:"avg_coding_duration"`
	AvgValidationDuration  float64 `json:"avg_validation_duration"`

	RecurringPatternsCount int `json:"recurring_patterns_count"`
	PatternsFixed          int `json:"patterns_fixed"`

	CardsProposed  int `json:"cards_proposed"`
	CardsApproved  int `json:"cards_approved"`
	CardsApplied   int `json:"cards_applied"`
	CardsDismissed int `json:"cards_dismissed"`

	ActiveGoals   int `json:"active_goals"`
	AchievedGoals int `json:"achieved_goals"`
}

// SuccessRate is the task success percentage, 0-100.
func (m *Metrics) SuccessRate() float64 {
	if m.TotalTasks == 0 {
		return 0.0
	}
	return float64(m.SuccessfulTasks) / float64(m.TotalTasks) * 100
}

// CardApprovalRate is the share of reviewed cards that were approved, 0-100.
func (m *Metrics) CardApprovalRate() float64 {
	total := m.CardsApproved + m.CardsDismissed
	if total == 0 {
		return 0.0
	}
	return float64(m.CardsApproved) / float64(total) * 100
}

// MarshalJSON includes the derived rates in the persisted snapshot so
// dashboard readers do not need to recompute them.
func (m *Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	return json.Marshal(struct {
		*alias
		SuccessRate      float64 `json:"success_rate"`
		CardApprovalRate float64 `json:"card_approval_rate"`
	}{(*alias)(m), m.SuccessRate(), m.CardApprovalRate()})
}
