package improvement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeProposer struct {
	cards []*Card
	calls int
	err   error
}

func (f *fakeProposer) SearchForGoal(ctx context.Context, goalTarget string, targetCount int) ([]*Card, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.cards, nil
}

func newTestLoop(t *testing.T, discovery DiscoveryProposer) (*Loop, *Store) {
	t.Helper()
	store := newTestStore(t)
	return NewLoop(store, NewReflectionEngine(store), discovery), store
}

func TestLoopMetricGoalAchievedImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop, store := newTestLoop(t, nil)
	require.NoError(t, store.SaveReflection(&Reflection{TaskID: "a", QAIterations: 2, Success: true}))
	require.NoError(t, store.SaveReflection(&Reflection{TaskID: "b", QAIterations: 2, Success: true}))

	goal := NewMetricGoal("avg_qa_iterations", 4.0, 2.0, "iterations", "reduce QA churn")
	result, err := loop.Run(context.Background(), goal, 0)
	require.NoError(t, err)

	assert.Equal(t, StatusAchieved, result.Status)
	assert.Equal(t, 1, result.Iterations)
	assert.InDelta(t, 2.0, result.FinalMetrics.Value, 0.01)

	saved, err := store.GetGoal(goal.ID)
	require.NoError(t, err)
	assert.Equal(t, GoalAchieved, saved.Status)
	assert.NotNil(t, saved.AchievedAt)
}

func TestLoopMetricGoalYieldsToUser(t *testing.T) {
	loop, store := newTestLoop(t, nil)
	require.NoError(t, store.SaveReflection(&Reflection{
		TaskID: "a", QAIterations: 4, IssueTypes: []string{"type_error"},
	}))
	require.NoError(t, store.SaveReflection(&Reflection{
		TaskID: "b", QAIterations: 4, IssueTypes: []string{"type_error"},
	}))

	goal := NewMetricGoal("avg_qa_iterations", 4.0, 2.0, "iterations", "reduce QA churn")
	result, err := loop.Run(context.Background(), goal, 5)
	require.NoError(t, err)

	assert.Equal(t, StatusAwaitingUser, result.Status)
	assert.Equal(t, 1, result.CardsProposed)
	assert.InDelta(t, 4.0, result.FinalMetrics.Value, 0.01)

	cards, err := store.GetCardsForGoal(goal.ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, CardProposed, cards[0].Status)
}

func TestLoopNoProposals(t *testing.T) {
	loop, _ := newTestLoop(t, nil)

	// Empty history: nothing to learn from, nothing pending
	goal := NewMetricGoal("success_rate", 0, 0.9, "", "raise success rate")
	result, err := loop.Run(context.Background(), goal, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusNoProposals, result.Status)
}

func TestLoopDiscoveryGoalWithoutProposer(t *testing.T) {
	loop, _ := newTestLoop(t, nil)

	goal := NewDiscoveryGoal(3, "find mcp servers")
	result, err := loop.Run(context.Background(), goal, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusNoProposals, result.Status)
}

func TestLoopDiscoveryGoalAchievedAfterResume(t *testing.T) {
	proposer := &fakeProposer{cards: []*Card{
		NewCard(CardDiscovery, "Discovery: tool one", "d", CardEvidence{}, SuggestedAction{}, nil),
		NewCard(CardDiscovery, "Discovery: tool two", "d", CardEvidence{}, SuggestedAction{}, nil),
	}}
	loop, store := newTestLoop(t, proposer)

	goal := NewDiscoveryGoal(2, "find mcp servers")
	result, err := loop.Run(context.Background(), goal, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingUser, result.Status)
	assert.Equal(t, 2, result.CardsProposed)
	assert.Equal(t, 1, proposer.calls)

	// The proposed cards now count toward the discovery target
	result, err = loop.ResumeAfterUserAction(context.Background(), goal, result.Iterations, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusAchieved, result.Status)
	assert.Equal(t, 2, result.FinalMetrics.Discovered)

	saved, err := store.GetGoal(goal.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.DiscoveredSoFar)
}

func TestLoopResumeAchievesMetricGoal(t *testing.T) {
	loop, store := newTestLoop(t, nil)
	require.NoError(t, store.SaveReflection(&Reflection{
		TaskID: "a", QAIterations: 4, IssueTypes: []string{"type_error"},
	}))
	require.NoError(t, store.SaveReflection(&Reflection{
		TaskID: "b", QAIterations: 4, IssueTypes: []string{"type_error"},
	}))

	goal := NewMetricGoal("avg_qa_iterations", 4.0, 3.0, "iterations", "reduce QA churn")
	result, err := loop.Run(context.Background(), goal, 5)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingUser, result.Status)

	// New low-iteration tasks pull the average under the target
	for _, id := range []string{"c", "d", "e", "f"} {
		require.NoError(t, store.SaveReflection(&Reflection{TaskID: id, QAIterations: 1, Success: true}))
	}

	result, err = loop.ResumeAfterUserAction(context.Background(), goal, result.Iterations, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusAchieved, result.Status)
	assert.InDelta(t, 2.0, result.FinalMetrics.Value, 0.01)
}

func TestLoopResumeStopsOnExhaustedBudget(t *testing.T) {
	loop, store := newTestLoop(t, nil)
	require.NoError(t, store.SaveReflection(&Reflection{
		TaskID: "a", QAIterations: 4, IssueTypes: []string{"type_error"},
	}))
	require.NoError(t, store.SaveReflection(&Reflection{
		TaskID: "b", QAIterations: 4, IssueTypes: []string{"type_error"},
	}))

	goal := NewMetricGoal("avg_qa_iterations", 4.0, 2.0, "iterations", "reduce QA churn")
	result, err := loop.Run(context.Background(), goal, 1)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingUser, result.Status)
	require.Equal(t, 1, result.Iterations)

	// The whole budget is spent; resume must terminate, not restart on
	// the default budget
	result, err = loop.ResumeAfterUserAction(context.Background(), goal, result.Iterations, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusMaxIterations, result.Status)
	assert.Equal(t, 1, result.Iterations)
}

func TestLoopResumeExhaustedBudgetStillChecksAchievement(t *testing.T) {
	loop, store := newTestLoop(t, nil)
	require.NoError(t, store.SaveReflection(&Reflection{
		TaskID: "a", QAIterations: 4, IssueTypes: []string{"type_error"},
	}))

	goal := NewMetricGoal("avg_qa_iterations", 4.0, 2.5, "iterations", "reduce QA churn")
	result, err := loop.Run(context.Background(), goal, 1)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingUser, result.Status)

	// The average drops under the target while the user reviews; the
	// achievement check wins over the spent budget
	require.NoError(t, store.SaveReflection(&Reflection{TaskID: "b", QAIterations: 1, Success: true}))

	result, err = loop.ResumeAfterUserAction(context.Background(), goal, result.Iterations, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusAchieved, result.Status)
}

func TestLoopResumeDetectsStalledGoal(t *testing.T) {
	loop, store := newTestLoop(t, nil)
	require.NoError(t, store.SaveReflection(&Reflection{TaskID: "a", QAIterations: 4}))

	goal := NewMetricGoal("avg_qa_iterations", 4.0, 1.0, "iterations", "reduce QA churn")
	require.NoError(t, store.SaveGoal(goal))

	for i := 0; i < 6; i++ {
		card := NewCard(CardOptimization, "rejected idea", "d", CardEvidence{}, SuggestedAction{}, &goal.ID)
		card.Status = CardDismissed
		require.NoError(t, store.SaveCard(card))
	}

	result, err := loop.ResumeAfterUserAction(context.Background(), goal, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusStalled, result.Status)
}

func TestLoopPatternFixGoal(t *testing.T) {
	loop, store := newTestLoop(t, nil)

	// No high-severity patterns means the goal is already met
	goal := NewPatternFixGoal("eliminate recurring failures")
	result, err := loop.Run(context.Background(), goal, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusAchieved, result.Status)

	// A high-severity pattern blocks achievement and yields a proposal
	pattern := NewPattern("type_error", "Recurring type error issues detected", 6,
		[]string{"e1"}, []string{"s1"}, "tighten types")
	pattern.Severity = SeverityHigh
	require.NoError(t, store.SavePattern(pattern))

	goal2 := NewPatternFixGoal("eliminate recurring failures")
	result, err = loop.Run(context.Background(), goal2, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingUser, result.Status)
	assert.Equal(t, 1, result.CardsProposed)
	assert.Equal(t, 1, result.FinalMetrics.HighSeverity)

	cards, err := store.GetCardsForGoal(goal2.ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Fix recurring type error issues", cards[0].Title)
}

func TestComputeAchievement(t *testing.T) {
	tests := []struct {
		name    string
		goal    *Goal
		metrics GoalMetrics
		want    bool
	}{
		{
			"lower-is-better at boundary",
			NewMetricGoal("avg_qa_iterations", 3, 2, "", ""),
			GoalMetrics{Value: 2.0},
			true,
		},
		{
			"lower-is-better above target",
			NewMetricGoal("avg_qa_iterations", 3, 2, "", ""),
			GoalMetrics{Value: 2.1},
			false,
		},
		{
			"higher-is-better below target",
			NewMetricGoal("success_rate", 0.5, 0.9, "", ""),
			GoalMetrics{Value: 0.85},
			false,
		},
		{
			"higher-is-better at boundary",
			NewMetricGoal("success_rate", 0.5, 0.9, "", ""),
			GoalMetrics{Value: 0.9},
			true,
		},
		{
			"discovery incomplete",
			NewDiscoveryGoal(5, ""),
			GoalMetrics{Discovered: 4},
			false,
		},
		{
			"discovery complete",
			NewDiscoveryGoal(5, ""),
			GoalMetrics{Discovered: 5},
			true,
		},
		{
			"pattern fix with high severity",
			NewPatternFixGoal(""),
			GoalMetrics{PatternsFound: 2, HighSeverity: 1},
			false,
		},
		{
			"pattern fix clean",
			NewPatternFixGoal(""),
			GoalMetrics{PatternsFound: 2},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, computeAchievement(tt.goal, tt.metrics))
		})
	}
}
