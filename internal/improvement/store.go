package improvement

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
)

// Store persists improvement data under the project's
// .auto-claude/improvement/ directory:
//
//	cards.json       - all improvement cards
//	goals.json       - all improvement goals
//	reflections.json - task reflections (last 100)
//	patterns.json    - detected patterns
//	metrics.json     - aggregated metrics
//
// Reads tolerate missing or corrupt files by returning empty collections;
// corruption is logged, never raised. Write failures are propagated: the
// system cannot safely continue if it cannot record its own state.
// Writes go through a temp file and rename, so readers never see a partial
// file, but concurrent writers against the same project are not coordinated.
type Store struct {
	projectDir     string
	improvementDir string
	mu             sync.Mutex
}

type cardsFile struct {
	Cards []*Card `json:"cards"`
}

type goalsFile struct {
	Goals []*Goal `json:"goals"`
}

type reflectionsFile struct {
	Reflections []*Reflection `json:"reflections"`
}

type patternsFile struct {
	Patterns []*Pattern `json:"patterns"`
}

// NewStore creates a store rooted at projectDir, creating the improvement
// directory if needed.
func NewStore(projectDir string) (*Store, error) {
	dir := filepath.Join(projectDir, ".auto-claude", "improvement")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create improvement directory: %w", err)
	}
	return &Store{projectDir: projectDir, improvementDir: dir}, nil
}

// ProjectDir returns the project root this store is bound to.
func (s *Store) ProjectDir() string {
	return s.projectDir
}

// loadJSON decodes filename into out. Missing and corrupt files leave out
// untouched and return nil.
func (s *Store) loadJSON(filename string, out interface{}) error {
	path := filepath.Join(s.improvementDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logging.StoreWarn("read %s: %v, treating as empty", filename, err)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		logging.StoreWarn("corrupt %s: %v, treating as empty", filename, err)
		return nil
	}
	return nil
}

// saveJSON atomically writes v to filename via a temp file and rename.
func (s *Store) saveJSON(filename string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	path := filepath.Join(s.improvementDir, filename)
	tmp, err := os.CreateTemp(s.improvementDir, filename+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", filename, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file for %s: %w", filename, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", filename, err)
	}
	return nil
}

// ==================== Cards ====================

// GetCards returns all cards sorted newest first. An empty status returns
// every card; otherwise only cards in that status.
func (s *Store) GetCards(status CardStatus) ([]*Card, error) {
	var f cardsFile
	if err := s.loadJSON("cards.json", &f); err != nil {
		return nil, err
	}
	cards := f.Cards
	if status != "" {
		filtered := cards[:0]
		for _, c := range cards {
			if c.Status == status {
				filtered = append(filtered, c)
			}
		}
		cards = filtered
	}
	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].CreatedAt.After(cards[j].CreatedAt)
	})
	return cards, nil
}

// GetCard returns the card with the given id, or nil if absent.
func (s *Store) GetCard(cardID string) (*Card, error) {
	cards, err := s.GetCards("")
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		if c.ID == cardID {
			return c, nil
		}
	}
	return nil, nil
}

// SaveCard upserts a card by id.
func (s *Store) SaveCard(card *Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f cardsFile
	if err := s.loadJSON("cards.json", &f); err != nil {
		return err
	}
	updated := false
	for i, c := range f.Cards {
		if c.ID == card.ID {
			f.Cards[i] = card
			updated = true
			break
		}
	}
	if !updated {
		f.Cards = append(f.Cards, card)
	}
	logging.StoreDebug("save card %s (%s)", card.ID, card.Status)
	return s.saveJSON("cards.json", &f)
}

// UpdateCardStatus transitions a card through its lifecycle method and
// persists it. Returns nil if the card does not exist.
func (s *Store) UpdateCardStatus(cardID string, status CardStatus) (*Card, error) {
	card, err := s.GetCard(cardID)
	if err != nil || card == nil {
		return nil, err
	}
	switch status {
	case CardApproved:
		card.Approve()
	case CardDismissed:
		card.Dismiss()
	case CardApplied:
		card.Apply()
	default:
		card.Status = status
		card.UpdatedAt = time.Now()
	}
	if err := s.SaveCard(card); err != nil {
		return nil, err
	}
	return card, nil
}

// GetCardsForGoal returns all cards whose goal_id matches.
func (s *Store) GetCardsForGoal(goalID string) ([]*Card, error) {
	cards, err := s.GetCards("")
	if err != nil {
		return nil, err
	}
	var out []*Card
	for _, c := range cards {
		if c.GoalID != nil && *c.GoalID == goalID {
			out = append(out, c)
		}
	}
	return out, nil
}

// ==================== Goals ====================

// GetGoals returns all goals sorted newest first, optionally filtered by
// status.
func (s *Store) GetGoals(status GoalStatus) ([]*Goal, error) {
	var f goalsFile
	if err := s.loadJSON("goals.json", &f); err != nil {
		return nil, err
	}
	goals := f.Goals
	if status != "" {
		filtered := goals[:0]
		for _, g := range goals {
			if g.Status == status {
				filtered = append(filtered, g)
			}
		}
		goals = filtered
	}
	sort.SliceStable(goals, func(i, j int) bool {
		return goals[i].CreatedAt.After(goals[j].CreatedAt)
	})
	return goals, nil
}

// GetGoal returns the goal with the given id, or nil if absent.
func (s *Store) GetGoal(goalID string) (*Goal, error) {
	goals, err := s.GetGoals("")
	if err != nil {
		return nil, err
	}
	for _, g := range goals {
		if g.ID == goalID {
			return g, nil
		}
	}
	return nil, nil
}

// SaveGoal upserts a goal by id.
func (s *Store) SaveGoal(goal *Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f goalsFile
	if err := s.loadJSON("goals.json", &f); err != nil {
		return err
	}
	updated := false
	for i, g := range f.Goals {
		if g.ID == goal.ID {
			f.Goals[i] = goal
			updated = true
			break
		}
	}
	if !updated {
		f.Goals = append(f.Goals, goal)
	}
	logging.StoreDebug("save goal %s (%s)", goal.ID, goal.Status)
	return s.saveJSON("goals.json", &f)
}

// AddCardToGoal records a card id on a goal's card list. No-op if the goal
// is missing or the card is already listed.
func (s *Store) AddCardToGoal(goalID, cardID string) error {
	goal, err := s.GetGoal(goalID)
	if err != nil || goal == nil {
		return err
	}
	for _, id := range goal.CardIDs {
		if id == cardID {
			return nil
		}
	}
	goal.CardIDs = append(goal.CardIDs, cardID)
	return s.SaveGoal(goal)
}

// ==================== Reflections ====================

// GetReflections returns up to limit reflections, newest first.
func (s *Store) GetReflections(limit int) ([]*Reflection, error) {
	var f reflectionsFile
	if err := s.loadJSON("reflections.json", &f); err != nil {
		return nil, err
	}
	reflections := f.Reflections
	sort.SliceStable(reflections, func(i, j int) bool {
		return reflections[i].CreatedAt.After(reflections[j].CreatedAt)
	})
	if limit > 0 && len(reflections) > limit {
		reflections = reflections[:limit]
	}
	return reflections, nil
}

// SaveReflection appends a reflection, pruning to the 100 most recent by
// created_at.
func (s *Store) SaveReflection(r *Reflection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f reflectionsFile
	if err := s.loadJSON("reflections.json", &f); err != nil {
		return err
	}
	f.Reflections = append(f.Reflections, r)
	if len(f.Reflections) > 100 {
		sort.SliceStable(f.Reflections, func(i, j int) bool {
			return f.Reflections[i].CreatedAt.After(f.Reflections[j].CreatedAt)
		})
		f.Reflections = f.Reflections[:100]
	}
	logging.StoreDebug("save reflection %s (%d retained)", r.TaskID, len(f.Reflections))
	return s.saveJSON("reflections.json", &f)
}

// ==================== Patterns ====================

// GetPatterns returns all detected patterns.
func (s *Store) GetPatterns() ([]*Pattern, error) {
	var f patternsFile
	if err := s.loadJSON("patterns.json", &f); err != nil {
		return nil, err
	}
	return f.Patterns, nil
}

// SavePattern upserts a pattern by id.
func (s *Store) SavePattern(p *Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f patternsFile
	if err := s.loadJSON("patterns.json", &f); err != nil {
		return err
	}
	updated := false
	for i, existing := range f.Patterns {
		if existing.ID == p.ID {
			f.Patterns[i] = p
			updated = true
			break
		}
	}
	if !updated {
		f.Patterns = append(f.Patterns, p)
	}
	logging.StoreDebug("save pattern %s (%s, %d occurrences)", p.ID, p.IssueType, p.Occurrences)
	return s.saveJSON("patterns.json", &f)
}

// ==================== Metrics ====================

// GetMetrics returns the persisted metrics snapshot, or a zero snapshot if
// none exists.
func (s *Store) GetMetrics() (*Metrics, error) {
	var m Metrics
	if err := s.loadJSON("metrics.json", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMetrics overwrites the persisted metrics snapshot.
func (s *Store) SaveMetrics(m *Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveJSON("metrics.json", m)
}

// RecalculateMetrics rebuilds the aggregate snapshot from the full store
// contents and overwrites metrics.json. Always a full recompute; never an
// incremental update.
func (s *Store) RecalculateMetrics() (*Metrics, error) {
	timer := logging.StartTimer(logging.CategoryStore, "recalculate_metrics")
	defer timer.Stop()

	reflections, err := s.GetReflections(100)
	if err != nil {
		return nil, err
	}
	cards, err := s.GetCards("")
	if err != nil {
		return nil, err
	}
	goals, err := s.GetGoals("")
	if err != nil {
		return nil, err
	}
	patterns, err := s.GetPatterns()
	if err != nil {
		return nil, err
	}

	m := &Metrics{}

	m.TotalTasks = len(reflections)
	for _, r := range reflections {
		if r.Success {
			m.SuccessfulTasks++
		}
	}
	m.FailedTasks = m.TotalTasks - m.SuccessfulTasks

	if len(reflections) > 0 {
		var qaSum int
		var durSum float64
		var durCount int
		var planSum, codeSum, validSum float64
		for _, r := range reflections {
			qaSum += r.QAIterations
			if r.TotalDurationSeconds > 0 {
				durSum += r.TotalDurationSeconds
				durCount++
			}
			planSum += r.PhaseDurations["planning"]
			codeSum += r.PhaseDurations["coding"]
			validSum += r.PhaseDurations["validation"]
		}
		n := float64(len(reflections))
		m.AvgQAIterations = float64(qaSum) / n
		m.TotalQAIterations = qaSum
		if durCount > 0 {
			m.AvgTaskDurationSeconds = durSum / float64(durCount)
		}
		m.AvgPlanningDuration = planSum / n
		m.AvgCodingDuration = codeSum / n
		m.AvgValidationDuration = validSum / n
	}

	m.RecurringPatternsCount = len(patterns)

	for _, c := range cards {
		switch c.Status {
		case CardProposed:
			m.CardsProposed++
		case CardApproved:
			m.CardsApproved++
		case CardApplied:
			m.CardsApplied++
		case CardDismissed:
			m.CardsDismissed++
		}
	}

	for _, g := range goals {
		switch g.Status {
		case GoalActive:
			m.ActiveGoals++
		case GoalAchieved:
			m.AchievedGoals++
		}
	}

	if err := s.SaveMetrics(m); err != nil {
		return nil, err
	}
	return m, nil
}
