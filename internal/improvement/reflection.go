package improvement

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
)

// PatternThreshold is the minimum occurrences for an issue type to become a
// recurring pattern.
const PatternThreshold = 3

// HighQAIterations is the per-task iteration count that triggers an
// unconditional improvement card.
const HighQAIterations = 3

// ReflectionEngine analyzes completed tasks for improvement opportunities:
// it extracts metrics, detects recurring patterns across reflections, and
// generates actionable improvement cards.
type ReflectionEngine struct {
	store *Store
}

// NewReflectionEngine creates an engine bound to a store.
func NewReflectionEngine(store *Store) *ReflectionEngine {
	return &ReflectionEngine{store: store}
}

// RunPostTaskReflection runs reflection after a task completes. The sequence
// is strict: persist the reflection, analyze patterns against the freshly
// saved set, then recompute metrics.
func (e *ReflectionEngine) RunPostTaskReflection(specDir string, whatWorked, whatFailed, recommendations []string) (*Reflection, error) {
	reflection := CreateTaskReflection(specDir, e.store.ProjectDir(), whatWorked, whatFailed, recommendations)
	if err := e.store.SaveReflection(reflection); err != nil {
		return nil, err
	}

	if _, err := e.analyzeAndGenerateCards(reflection); err != nil {
		// Card generation is never fatal to the reflection itself
		logging.Reflection("card generation failed: %v", err)
	}

	if _, err := e.store.RecalculateMetrics(); err != nil {
		return nil, err
	}

	return reflection, nil
}

// analyzeAndGenerateCards detects patterns over the last 50 reflections and
// proposes cards for new ones, plus a per-task card when QA iterations ran
// high.
func (e *ReflectionEngine) analyzeAndGenerateCards(reflection *Reflection) ([]*Card, error) {
	var cards []*Card

	reflections, err := e.store.GetReflections(50)
	if err != nil {
		return nil, err
	}

	patterns := e.detectPatterns(reflections)

	for _, pattern := range patterns {
		active, err := e.hasActiveCardFor(pattern.IssueType)
		if err != nil {
			return cards, err
		}
		if active {
			logging.ReflectionDebug("suppressing duplicate card for %s", pattern.IssueType)
			continue
		}
		card := e.cardFromPattern(pattern)
		if err := e.store.SaveCard(card); err != nil {
			return cards, err
		}
		if err := e.store.SavePattern(pattern); err != nil {
			return cards, err
		}
		cards = append(cards, card)
	}

	// High iteration count is a per-task signal, proposed regardless of
	// pattern state and not deduplicated.
	if reflection.QAIterations >= HighQAIterations {
		card := e.highQACard(reflection)
		if err := e.store.SaveCard(card); err != nil {
			return cards, err
		}
		cards = append(cards, card)
	}

	logging.Reflection("analysis produced %d cards from %d patterns", len(cards), len(patterns))
	return cards, nil
}

// hasActiveCardFor reports whether a Proposed or Approved card already
// mentions the issue type in its title. Substring matching is intentionally
// coarse; it trades false-negative suppression for not spamming the user.
func (e *ReflectionEngine) hasActiveCardFor(issueType string) (bool, error) {
	cards, err := e.store.GetCards("")
	if err != nil {
		return false, err
	}
	for _, c := range cards {
		if c.Status != CardProposed && c.Status != CardApproved {
			continue
		}
		title := strings.ToLower(c.Title)
		if strings.Contains(title, issueType) || strings.Contains(title, humanize(issueType)) {
			return true, nil
		}
	}
	return false, nil
}

// detectPatterns groups reflections by issue type and promotes any group at
// or above the threshold into a Pattern, keeping at most 5 examples and 5
// affected spec ids. Pattern ids are derived from the issue type so a
// recurring pattern updates its existing record instead of duplicating it.
func (e *ReflectionEngine) detectPatterns(reflections []*Reflection) []*Pattern {
	type occurrence struct {
		specID  string
		example string
	}
	groups := map[string][]occurrence{}
	var order []string

	for _, r := range reflections {
		example := ""
		if len(r.IssuesFound) > 0 {
			example = r.IssuesFound[0]
		}
		for _, issueType := range r.IssueTypes {
			if _, ok := groups[issueType]; !ok {
				order = append(order, issueType)
			}
			groups[issueType] = append(groups[issueType], occurrence{specID: r.SpecID, example: example})
		}
	}

	var patterns []*Pattern
	for _, issueType := range order {
		occurrences := groups[issueType]
		if len(occurrences) < PatternThreshold {
			continue
		}
		var examples, affected []string
		for i, occ := range occurrences {
			if i >= 5 {
				break
			}
			affected = append(affected, occ.specID)
			if occ.example != "" {
				examples = append(examples, occ.example)
			}
		}
		patterns = append(patterns, &Pattern{
			ID:            "pattern-" + issueType,
			IssueType:     issueType,
			Description:   fmt.Sprintf("Recurring %s issues detected", humanize(issueType)),
			Occurrences:   len(occurrences),
			Examples:      examples,
			AffectedSpecs: affected,
			SuggestedFix:  suggestFix(issueType),
			Severity:      PatternSeverity(len(occurrences)),
			CreatedAt:     time.Now(),
		})
	}

	return patterns
}

var fixSuggestions = map[string]string{
	"type_error":      "Add TypeScript strict mode checks, improve type definitions, consider adding runtime type validation",
	"runtime_error":   "Add error boundary handling, improve null checks, add defensive coding patterns",
	"test_failure":    "Review test coverage, ensure tests match implementation, add integration tests",
	"lint_error":      "Configure pre-commit hooks, add ESLint/Prettier auto-fix, update linting rules",
	"missing_feature": "Improve spec clarity, add acceptance criteria checklist, validate requirements upfront",
	"performance":     "Add performance benchmarks, profile slow operations, implement caching",
	"security":        "Run security scanner, add input validation, review authentication/authorization",
}

func suggestFix(issueType string) string {
	if fix, ok := fixSuggestions[issueType]; ok {
		return fix
	}
	return "Review and address the recurring issue pattern"
}

func humanize(issueType string) string {
	return strings.ReplaceAll(issueType, "_", " ")
}

func (e *ReflectionEngine) cardFromPattern(pattern *Pattern) *Card {
	return NewCard(
		CardReflection,
		fmt.Sprintf("Fix recurring %s issues", humanize(pattern.IssueType)),
		fmt.Sprintf(
			"Detected %d occurrences of %s across %d tasks. This pattern suggests a systemic issue that could be addressed with improved practices or tooling.",
			pattern.Occurrences, humanize(pattern.IssueType), len(pattern.AffectedSpecs)),
		CardEvidence{
			Occurrences: pattern.Occurrences,
			Examples:    pattern.Examples,
		},
		SuggestedAction{
			Type:    ActionPromptUpdate,
			Details: pattern.SuggestedFix,
			Effort:  EffortMedium,
		},
		nil,
	)
}

func (e *ReflectionEngine) highQACard(reflection *Reflection) *Card {
	examples := make([]string, 0, 3)
	for i, it := range reflection.IssueTypes {
		if i >= 3 {
			break
		}
		examples = append(examples, fmt.Sprintf("%s: found in task", it))
	}
	return NewCard(
		CardReflection,
		fmt.Sprintf("Reduce QA iterations for %s", reflection.SpecID),
		fmt.Sprintf(
			"Task %s required %d QA iterations. Consider reviewing the issues encountered to prevent similar problems.",
			reflection.SpecID, reflection.QAIterations),
		CardEvidence{
			Occurrences: reflection.QAIterations,
			Examples:    examples,
		},
		SuggestedAction{
			Type: ActionPromptUpdate,
			Details: fmt.Sprintf(
				"Review the %d issue types encountered: %s. Consider adding validation checks for these issue types in the planning or coding phases.",
				len(reflection.IssueTypes), strings.Join(reflection.IssueTypes, ", ")),
			Effort: EffortSmall,
		},
		nil,
	)
}

// ProposeForMetric proposes improvement cards to help achieve a metric goal.
// One card per call; returns an empty list when the guard condition fails.
func (e *ReflectionEngine) ProposeForMetric(metricName string, current, target float64) ([]*Card, error) {
	switch metricName {
	case "avg_qa_iterations":
		if current <= target {
			return nil, nil
		}
		reflections, err := e.store.GetReflections(20)
		if err != nil {
			return nil, err
		}
		var highQA []*Reflection
		for _, r := range reflections {
			if r.QAIterations >= HighQAIterations {
				highQA = append(highQA, r)
			}
		}
		if len(highQA) == 0 {
			return nil, nil
		}

		counts := map[string]int{}
		var order []string
		for _, r := range highQA {
			for _, it := range r.IssueTypes {
				if _, ok := counts[it]; !ok {
					order = append(order, it)
				}
				counts[it]++
			}
		}
		sort.SliceStable(order, func(i, j int) bool {
			return counts[order[i]] > counts[order[j]]
		})
		if len(order) > 3 {
			order = order[:3]
		}
		examples := make([]string, 0, len(order))
		for _, it := range order {
			examples = append(examples, fmt.Sprintf("%s: %d occurrences", it, counts[it]))
		}

		card := NewCard(
			CardOptimization,
			"Reduce QA iterations by addressing top issues",
			fmt.Sprintf(
				"Current avg QA iterations: %.1f, Target: %.1f. Top issue types in high-iteration tasks: %s",
				current, target, strings.Join(order, ", ")),
			CardEvidence{
				Occurrences: len(highQA),
				Examples:    examples,
				Metrics:     map[string]float64{"current_avg": current, "target": target},
			},
			SuggestedAction{
				Type: ActionPromptUpdate,
				Details: fmt.Sprintf(
					"Add validation checks for: %s. Consider adding a pre-QA self-check phase.",
					strings.Join(order, ", ")),
				Effort: EffortMedium,
			},
			nil,
		)
		if err := e.store.SaveCard(card); err != nil {
			return nil, err
		}
		return []*Card{card}, nil

	case "success_rate":
		if current >= target {
			return nil, nil
		}
		reflections, err := e.store.GetReflections(20)
		if err != nil {
			return nil, err
		}
		var failed []*Reflection
		for _, r := range reflections {
			if !r.Success {
				failed = append(failed, r)
			}
		}
		if len(failed) == 0 {
			return nil, nil
		}

		seen := map[string]bool{}
		var reasons []string
		for _, r := range failed {
			for _, wf := range r.WhatFailed {
				if !seen[wf] {
					seen[wf] = true
					reasons = append(reasons, wf)
				}
			}
		}
		if len(reasons) > 5 {
			reasons = reasons[:5]
		}

		card := NewCard(
			CardOptimization,
			"Improve success rate by addressing failure patterns",
			fmt.Sprintf(
				"Current success rate: %.1f%%, Target: %.1f%%. Found %d failed tasks in recent history.",
				current*100, target*100, len(failed)),
			CardEvidence{
				Occurrences: len(failed),
				Examples:    reasons,
				Metrics:     map[string]float64{"current_rate": current, "target": target},
			},
			SuggestedAction{
				Type:    ActionPromptUpdate,
				Details: "Review failed tasks and add safeguards for common failure modes.",
				Effort:  EffortLarge,
			},
			nil,
		)
		if err := e.store.SaveCard(card); err != nil {
			return nil, err
		}
		return []*Card{card}, nil
	}

	return nil, nil
}

// LoadSessionInsights reads a spec's memory/session_insights.md and extracts
// the bulleted "What Worked", "What Failed"/"Issues Encountered", and
// "Recommendations" sections. Missing file or sections yield empty lists.
func LoadSessionInsights(specDir string) (worked, failed, recommendations []string) {
	data, err := os.ReadFile(filepath.Join(specDir, "memory", "session_insights.md"))
	if err != nil {
		return nil, nil, nil
	}
	content := string(data)

	worked = extractBulletSection(content, "## What Worked")
	failed = extractBulletSection(content, "## What Failed")
	if failed == nil {
		failed = extractBulletSection(content, "## Issues Encountered")
	}
	recommendations = extractBulletSection(content, "## Recommendations")
	return worked, failed, recommendations
}

func extractBulletSection(content, marker string) []string {
	idx := strings.Index(content, marker)
	if idx < 0 {
		return nil
	}
	section := content[idx+len(marker):]
	if end := strings.Index(section, "##"); end >= 0 {
		section = section[:end]
	}
	var items []string
	for _, line := range strings.Split(strings.TrimSpace(section), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			items = append(items, strings.TrimSpace(line[2:]))
		}
	}
	return items
}
