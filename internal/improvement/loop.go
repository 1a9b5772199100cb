package improvement

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
)

// LoopStatus is the terminal (or yield) status of one loop invocation.
type LoopStatus string

const (
	StatusAchieved      LoopStatus = "achieved"
	StatusAwaitingUser  LoopStatus = "awaiting_user"
	StatusNoProposals   LoopStatus = "no_proposals"
	StatusMaxIterations LoopStatus = "max_iterations"
	StatusStalled       LoopStatus = "stalled"
)

// DefaultMaxIterations bounds the improvement loop.
const DefaultMaxIterations = 10

// stalledDismissThreshold is the dismissed-card count beyond which a goal
// with no approvals is considered stalled.
const stalledDismissThreshold = 5

// GoalMetrics is the goal-type-specific projection of the recalculated
// aggregate used by the achievement check.
type GoalMetrics struct {
	// Metric goals
	Value float64 `json:"value,omitempty"`
	// Discovery goals
	Discovered int `json:"discovered,omitempty"`
	Approved   int `json:"approved,omitempty"`
	Applied    int `json:"applied,omitempty"`
	// Pattern-fix goals
	PatternsFound int `json:"patterns_found,omitempty"`
	HighSeverity  int `json:"high_severity,omitempty"`
}

// LoopResult reports the outcome of one run or resume invocation.
type LoopResult struct {
	Status        LoopStatus  `json:"status"`
	Iterations    int         `json:"iterations"`
	CardsProposed int         `json:"cards_proposed"`
	FinalMetrics  GoalMetrics `json:"final_metrics"`
	Message       string      `json:"message"`
}

// DiscoveryProposer is the slice of the discovery engine the loop needs:
// search external sources and persist up to targetCount cards for the goal.
type DiscoveryProposer interface {
	SearchForGoal(ctx context.Context, goalTarget string, targetCount int) ([]*Card, error)
}

// Loop drives goal-directed improvement:
//
//	ANALYZE -> CHECK -> PROPOSE -> AWAITING_USER (yield)
//	resume:  VALIDATE -> ACHIEVED | STALLED | back to ANALYZE
//
// The loop never blocks on user input. Run returns after one proposal round
// with StatusAwaitingUser; the caller approves or dismisses cards and then
// calls ResumeAfterUserAction, which shares the same iteration budget.
type Loop struct {
	store      *Store
	reflection *ReflectionEngine
	discovery  DiscoveryProposer
}

// NewLoop builds a loop over the given store. discovery may be nil, in which
// case discovery goals produce no proposals.
func NewLoop(store *Store, reflection *ReflectionEngine, discovery DiscoveryProposer) *Loop {
	return &Loop{store: store, reflection: reflection, discovery: discovery}
}

// Run executes the loop until the goal is achieved, a proposal round yields
// to the user, nothing can be proposed, or the iteration budget runs out.
// maxIterations <= 0 selects the default.
func (l *Loop) Run(ctx context.Context, goal *Goal, maxIterations int) (*LoopResult, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	if err := l.store.SaveGoal(goal); err != nil {
		return nil, err
	}

	iteration := 0
	var metrics GoalMetrics

	for iteration < maxIterations {
		iteration++
		logging.Loop("iteration %d/%d for goal %s", iteration, maxIterations, goal.ID)

		// ANALYZE
		var err error
		metrics, err = l.gatherMetrics(goal)
		if err != nil {
			return nil, err
		}
		if err := l.syncGoalProgress(goal, metrics); err != nil {
			return nil, err
		}

		// CHECK
		if computeAchievement(goal, metrics) {
			goal.MarkAchieved()
			if err := l.store.SaveGoal(goal); err != nil {
				return nil, err
			}
			return &LoopResult{
				Status:       StatusAchieved,
				Iterations:   iteration,
				FinalMetrics: metrics,
				Message:      fmt.Sprintf("Goal '%s' achieved in %d iterations", goal.Target, iteration),
			}, nil
		}

		// PROPOSE
		cards := l.proposeCards(ctx, goal, metrics)
		logging.Loop("proposed %d cards for goal %s", len(cards), goal.ID)

		if len(cards) == 0 {
			pending, err := l.pendingCards(goal.ID)
			if err != nil {
				return nil, err
			}
			if pending == 0 {
				return &LoopResult{
					Status:       StatusNoProposals,
					Iterations:   iteration,
					FinalMetrics: metrics,
					Message:      "No improvement proposals could be generated",
				}, nil
			}
		}

		// AWAITING USER: the proposed cards are persisted, hand control
		// back to the caller for review. ResumeAfterUserAction continues.
		return &LoopResult{
			Status:        StatusAwaitingUser,
			Iterations:    iteration,
			CardsProposed: len(cards),
			FinalMetrics:  metrics,
			Message:       fmt.Sprintf("Proposed %d improvement cards for user review", len(cards)),
		}, nil
	}

	return &LoopResult{
		Status:       StatusMaxIterations,
		Iterations:   iteration,
		FinalMetrics: metrics,
		Message:      fmt.Sprintf("Max iterations (%d) reached without achieving goal", maxIterations),
	}, nil
}

// ResumeAfterUserAction continues the loop after the user has reviewed
// cards. It re-checks achievement, detects a stalled goal (no approvals and
// many dismissals), and otherwise re-enters Run with the remaining budget.
func (l *Loop) ResumeAfterUserAction(ctx context.Context, goal *Goal, iteration, maxIterations int) (*LoopResult, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	// VALIDATE
	metrics, err := l.gatherMetrics(goal)
	if err != nil {
		return nil, err
	}
	if err := l.syncGoalProgress(goal, metrics); err != nil {
		return nil, err
	}

	if computeAchievement(goal, metrics) {
		goal.MarkAchieved()
		if err := l.store.SaveGoal(goal); err != nil {
			return nil, err
		}
		return &LoopResult{
			Status:       StatusAchieved,
			Iterations:   iteration,
			FinalMetrics: metrics,
			Message:      fmt.Sprintf("Goal '%s' achieved!", goal.Target),
		}, nil
	}

	goalCards, err := l.store.GetCardsForGoal(goal.ID)
	if err != nil {
		return nil, err
	}
	approved, dismissed := 0, 0
	for _, c := range goalCards {
		switch c.Status {
		case CardApproved:
			approved++
		case CardDismissed:
			dismissed++
		}
	}

	if approved == 0 && dismissed > stalledDismissThreshold {
		logging.LoopWarn("goal %s stalled: %d dismissed, none approved", goal.ID, dismissed)
		return &LoopResult{
			Status:       StatusStalled,
			Iterations:   iteration,
			FinalMetrics: metrics,
			Message:      "Multiple proposals dismissed, consider revising goal",
		}, nil
	}

	// The resume shares the original budget; an exhausted budget must not
	// fall into Run's default-guard and start over.
	remaining := maxIterations - iteration
	if remaining <= 0 {
		return &LoopResult{
			Status:       StatusMaxIterations,
			Iterations:   iteration,
			FinalMetrics: metrics,
			Message:      fmt.Sprintf("Max iterations (%d) reached without achieving goal", maxIterations),
		}, nil
	}

	return l.Run(ctx, goal, remaining)
}

// gatherMetrics recalculates the aggregate and projects the slice relevant
// to the goal type.
func (l *Loop) gatherMetrics(goal *Goal) (GoalMetrics, error) {
	var gm GoalMetrics

	m, err := l.store.RecalculateMetrics()
	if err != nil {
		return gm, err
	}

	switch goal.Type {
	case GoalMetricType:
		if goal.Metric == nil {
			return gm, nil
		}
		switch goal.Metric.Name {
		case "avg_qa_iterations":
			gm.Value = m.AvgQAIterations
		case "success_rate":
			if m.TotalTasks > 0 {
				gm.Value = float64(m.SuccessfulTasks) / float64(m.TotalTasks)
			}
		case "avg_task_duration":
			gm.Value = m.AvgTaskDurationSeconds
		}

	case GoalDiscovery:
		cards, err := l.store.GetCardsForGoal(goal.ID)
		if err != nil {
			return gm, err
		}
		for _, c := range cards {
			if c.Type != CardDiscovery && !strings.Contains(c.Title, "Discovery") {
				continue
			}
			gm.Discovered++
			switch c.Status {
			case CardApproved:
				gm.Approved++
			case CardApplied:
				gm.Applied++
			}
		}

	case GoalPatternFix:
		patterns, err := l.store.GetPatterns()
		if err != nil {
			return gm, err
		}
		gm.PatternsFound = len(patterns)
		for _, p := range patterns {
			if p.Severity == SeverityHigh {
				gm.HighSeverity++
			}
		}
	}

	return gm, nil
}

// computeAchievement is the pure achievement test; it never mutates or
// persists anything.
func computeAchievement(goal *Goal, gm GoalMetrics) bool {
	switch goal.Type {
	case GoalMetricType:
		if goal.Metric == nil {
			return false
		}
		if lowerIsBetter(goal.Metric.Name) {
			return gm.Value <= goal.Metric.Target
		}
		return gm.Value >= goal.Metric.Target

	case GoalDiscovery:
		return gm.Discovered >= goal.DiscoveryCount

	case GoalPatternFix:
		return gm.HighSeverity == 0
	}
	return false
}

// lowerIsBetter reports whether a smaller metric value is the improvement
// direction.
func lowerIsBetter(metricName string) bool {
	return metricName == "avg_qa_iterations" || metricName == "avg_task_duration"
}

// syncGoalProgress writes derived progress fields back onto the goal and
// persists it. Kept separate from computeAchievement so checking a goal
// never mutates state implicitly; the loop calls this deliberately before
// each check.
func (l *Loop) syncGoalProgress(goal *Goal, gm GoalMetrics) error {
	if goal.Type != GoalDiscovery {
		return nil
	}
	if goal.DiscoveredSoFar == gm.Discovered {
		return nil
	}
	goal.DiscoveredSoFar = gm.Discovered
	return l.store.SaveGoal(goal)
}

// proposeCards generates cards for the goal. A failure inside any propose
// step is downgraded to zero cards; the loop then falls through to the
// no_proposals check rather than crashing.
func (l *Loop) proposeCards(ctx context.Context, goal *Goal, gm GoalMetrics) []*Card {
	var cards []*Card

	switch goal.Type {
	case GoalMetricType:
		if goal.Metric == nil {
			return nil
		}
		proposed, err := l.reflection.ProposeForMetric(goal.Metric.Name, gm.Value, goal.Metric.Target)
		if err != nil {
			logging.LoopWarn("metric proposal failed for %s: %v", goal.ID, err)
			return nil
		}
		for _, card := range proposed {
			card.GoalID = &goal.ID
			if err := l.store.SaveCard(card); err != nil {
				logging.LoopWarn("failed to persist card %s: %v", card.ID, err)
				continue
			}
			cards = append(cards, card)
		}

	case GoalDiscovery:
		if l.discovery == nil {
			return nil
		}
		remaining := goal.DiscoveryCount - gm.Discovered
		found, err := l.discovery.SearchForGoal(ctx, goal.Target, remaining)
		if err != nil {
			logging.LoopWarn("discovery search failed for %s: %v", goal.ID, err)
			return nil
		}
		for _, card := range found {
			card.GoalID = &goal.ID
			if err := l.store.SaveCard(card); err != nil {
				logging.LoopWarn("failed to persist card %s: %v", card.ID, err)
				continue
			}
			cards = append(cards, card)
		}

	case GoalPatternFix:
		patterns, err := l.store.GetPatterns()
		if err != nil {
			logging.LoopWarn("pattern scan failed for %s: %v", goal.ID, err)
			return nil
		}
		for _, pattern := range patterns {
			if pattern.Severity != SeverityHigh {
				continue
			}
			active, err := l.reflection.hasActiveCardFor(pattern.IssueType)
			if err != nil || active {
				continue
			}
			card := l.reflection.cardFromPattern(pattern)
			card.GoalID = &goal.ID
			if err := l.store.SaveCard(card); err != nil {
				logging.LoopWarn("failed to persist card %s: %v", card.ID, err)
				continue
			}
			cards = append(cards, card)
		}
	}

	return cards
}

// pendingCards counts this goal's cards still awaiting review.
func (l *Loop) pendingCards(goalID string) (int, error) {
	cards, err := l.store.GetCardsForGoal(goalID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, c := range cards {
		if c.Status == CardProposed {
			count++
		}
	}
	return count, nil
}
