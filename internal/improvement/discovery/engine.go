package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/sync/errgroup"

	"github.com/taskmasterpeace/Auto-Claude/internal/improvement"
	"github.com/taskmasterpeace/Auto-Claude/internal/logging"
)

// CacheDuration is how long per-source results are reused before a fresh
// network call.
const CacheDuration = time.Hour

// minRelevance is the score floor; discoveries below it are dropped.
const minRelevance = 0.3

// Discovery is an external tool, MCP server, or package candidate.
// Ephemeral: constructed per search and optionally promoted into a card.
type Discovery struct {
	ID             string
	Source         string
	Type           string // mcp_server, github_repo, npm_package, awesome_list_item
	Name           string
	Description    string
	URL            string
	RelevanceScore float64
	Stars          int
	Language       string
	UpdatedAt      time.Time
	Topics         []string
	Version        string
	InstallCommand string
}

type cacheEntry struct {
	discoveries []Discovery
	at          time.Time
}

// Engine searches curated sources concurrently and filters results by
// relevance to the project's tech stack. A failing source degrades to an
// empty result without aborting the others.
type Engine struct {
	store   *improvement.Store
	github  *github.Client
	httpc   *http.Client
	sources []Source
	context *ProjectContext

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithGitHubToken authenticates GitHub searches, raising rate limits.
func WithGitHubToken(token string) Option {
	return func(e *Engine) {
		if token != "" {
			e.github = e.github.WithAuthToken(token)
		}
	}
}

// WithGitHubClient replaces the GitHub client (tests point it at a fake).
func WithGitHubClient(c *github.Client) Option {
	return func(e *Engine) { e.github = c }
}

// WithHTTPClient replaces the HTTP client used for registry calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpc = c }
}

// WithSources replaces the curated source table.
func WithSources(sources []Source) Option {
	return func(e *Engine) { e.sources = sources }
}

// WithProjectContext overrides stack detection.
func WithProjectContext(ctx *ProjectContext) Option {
	return func(e *Engine) { e.context = ctx }
}

// NewEngine builds an engine bound to a store, detecting the project's
// stack from the store's project directory.
func NewEngine(store *improvement.Store, opts ...Option) *Engine {
	httpc := &http.Client{Timeout: 30 * time.Second}
	e := &Engine{
		store:   store,
		github:  github.NewClient(httpc),
		httpc:   httpc,
		sources: DefaultSources(),
		cache:   map[string]cacheEntry{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.context == nil {
		e.context = DetectProjectContext(store.ProjectDir())
	}
	return e
}

// Discover fans out to every selected source concurrently, then filters,
// deduplicates, sorts by relevance and truncates to limit. sourceTypes nil
// selects the sources relevant to the project's stack.
func (e *Engine) Discover(ctx context.Context, sourceTypes []SourceType, query string, limit int) ([]Discovery, error) {
	var sources []Source
	if sourceTypes == nil {
		sources = RelevantSources(e.sources, e.context.Stack)
	} else {
		sources = FilterByType(e.sources, sourceTypes...)
	}

	timer := logging.StartTimer(logging.CategoryDiscovery, "discover")
	defer timer.Stop()

	results := make([][]Discovery, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, source := range sources {
		i, source := i, source
		g.Go(func() error {
			// Per-source failures are downgraded inside searchSource;
			// one slow or broken source never aborts the others.
			results[i] = e.searchSource(gctx, source, query)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var discoveries []Discovery
	for _, r := range results {
		discoveries = append(discoveries, r...)
	}

	discoveries = filterAndDeduplicate(discoveries)
	sort.SliceStable(discoveries, func(i, j int) bool {
		return discoveries[i].RelevanceScore > discoveries[j].RelevanceScore
	})
	if limit > 0 && len(discoveries) > limit {
		discoveries = discoveries[:limit]
	}

	logging.Discovery("discover returned %d results from %d sources", len(discoveries), len(sources))
	return discoveries, nil
}

// searchSource queries one source, consulting the 1-hour cache first.
// Errors are logged and degraded to an empty result.
func (e *Engine) searchSource(ctx context.Context, source Source, query string) []Discovery {
	cacheKey := source.Name + ":" + orDefault(query)

	e.mu.Lock()
	if entry, ok := e.cache[cacheKey]; ok && e.now().Sub(entry.at) < CacheDuration {
		e.mu.Unlock()
		return entry.discoveries
	}
	e.mu.Unlock()

	var discoveries []Discovery
	var err error

	switch source.Type {
	case SourceMCPServers:
		discoveries, err = e.searchMCPServers(ctx, source, query)
	case SourceGitHubRepos:
		discoveries, err = e.searchGitHub(ctx, source, query)
	case SourceNPMPackages:
		discoveries, err = e.searchNPM(ctx, source, query)
	case SourcePyPIPackages:
		discoveries, err = e.searchPyPI(ctx, source, query)
	case SourceAwesomeLists:
		discoveries, err = e.parseAwesomeList(ctx, source)
	}
	if err != nil {
		logging.DiscoveryWarn("search %s failed: %v", source.Name, err)
		return nil
	}

	e.mu.Lock()
	e.cache[cacheKey] = cacheEntry{discoveries: discoveries, at: e.now()}
	e.mu.Unlock()

	return discoveries
}

func orDefault(query string) string {
	if query == "" {
		return "default"
	}
	return query
}

func (e *Engine) searchMCPServers(ctx context.Context, source Source, query string) ([]Discovery, error) {
	q := "mcp server"
	if query != "" {
		q = "mcp server " + query
	}
	return e.repoSearch(ctx, source, q, "mcp_server")
}

func (e *Engine) searchGitHub(ctx context.Context, source Source, query string) ([]Discovery, error) {
	q := query
	if q == "" && len(e.context.Stack) > 0 {
		q = strings.Join(e.context.Stack, " OR ")
	}
	if q == "" {
		q = "ai coding assistant"
	}
	return e.repoSearch(ctx, source, q, "github_repo")
}

func (e *Engine) repoSearch(ctx context.Context, source Source, query, discoveryType string) ([]Discovery, error) {
	result, _, err := e.github.Search.Repositories(ctx, query, &github.SearchOptions{
		Sort:        "stars",
		ListOptions: github.ListOptions{PerPage: 20},
	})
	if err != nil {
		return nil, err
	}

	var discoveries []Discovery
	for _, repo := range result.Repositories {
		description := repo.GetDescription()
		if description == "" {
			description = "No description"
		}
		d := Discovery{
			ID:          fmt.Sprintf("%s_%d", discoveryType, repo.GetID()),
			Source:      source.Name,
			Type:        discoveryType,
			Name:        repo.GetName(),
			Description: description,
			URL:         repo.GetHTMLURL(),
			Stars:       repo.GetStargazersCount(),
			Language:    repo.GetLanguage(),
			UpdatedAt:   repo.GetUpdatedAt().Time,
			Topics:      repo.Topics,
		}
		d.RelevanceScore = e.repoRelevance(d)
		discoveries = append(discoveries, d)
	}
	return discoveries, nil
}

type npmSearchResult struct {
	Objects []struct {
		Package struct {
			Name        string   `json:"name"`
			Version     string   `json:"version"`
			Description string   `json:"description"`
			Keywords    []string `json:"keywords"`
			Links       struct {
				NPM string `json:"npm"`
			} `json:"links"`
		} `json:"package"`
		Score struct {
			Detail struct {
				Quality    float64 `json:"quality"`
				Popularity float64 `json:"popularity"`
			} `json:"detail"`
		} `json:"score"`
	} `json:"objects"`
}

func (e *Engine) searchNPM(ctx context.Context, source Source, query string) ([]Discovery, error) {
	terms := query
	if terms == "" {
		stack := e.context.Stack
		if len(stack) > 3 {
			stack = stack[:3]
		}
		terms = strings.Join(stack, " ")
	}
	if terms == "" {
		terms = "react typescript"
	}

	searchURL := fmt.Sprintf("%s?text=%s&size=20", source.APIURL, url.QueryEscape(terms))
	body, err := e.get(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var result npmSearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	var discoveries []Discovery
	for _, obj := range result.Objects {
		pkg := obj.Package
		description := pkg.Description
		if description == "" {
			description = "No description"
		}
		pkgURL := pkg.Links.NPM
		if pkgURL == "" {
			pkgURL = "https://www.npmjs.com/package/" + pkg.Name
		}
		d := Discovery{
			ID:             "npm_" + pkg.Name,
			Source:         source.Name,
			Type:           "npm_package",
			Name:           pkg.Name,
			Description:    description,
			URL:            pkgURL,
			Version:        pkg.Version,
			Topics:         pkg.Keywords,
			InstallCommand: "npm install " + pkg.Name,
		}
		d.RelevanceScore = e.npmRelevance(obj.Score.Detail.Quality, obj.Score.Detail.Popularity, pkg.Keywords)
		discoveries = append(discoveries, d)
	}
	return discoveries, nil
}

// searchPyPI is a stub: PyPI has no usable search API, so the source stays
// registered for bookkeeping but yields nothing.
func (e *Engine) searchPyPI(ctx context.Context, source Source, query string) ([]Discovery, error) {
	return nil, nil
}

var markdownLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)(?:\s*-\s*(.+))?`)

func (e *Engine) parseAwesomeList(ctx context.Context, source Source) ([]Discovery, error) {
	if source.APIURL == "" {
		return nil, nil
	}
	body, err := e.get(ctx, source.APIURL)
	if err != nil {
		return nil, err
	}

	matches := markdownLink.FindAllStringSubmatch(string(body), -1)
	var discoveries []Discovery
	for i, m := range matches {
		if i >= 30 {
			break
		}
		name, linkURL, description := strings.TrimSpace(m[1]), m[2], strings.TrimSpace(m[3])
		if !strings.HasPrefix(linkURL, "http") {
			continue
		}
		if description == "" {
			description = "From awesome list"
		}
		d := Discovery{
			ID:          fmt.Sprintf("awesome_%s_%d", source.Name, i),
			Source:      source.Name,
			Type:        "awesome_list_item",
			Name:        name,
			Description: description,
			URL:         linkURL,
		}
		d.RelevanceScore = e.awesomeRelevance(name, description)
		discoveries = append(discoveries, d)
	}
	return discoveries, nil
}

func (e *Engine) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(resp.Body)
}

// repoRelevance scores a GitHub repo: 0.5 base, star tiers, language match,
// recency, MCP boost, and matching topics. Capped at 1.0.
func (e *Engine) repoRelevance(d Discovery) float64 {
	score := 0.5

	if d.Stars > 1000 {
		score += 0.2
	} else if d.Stars > 100 {
		score += 0.1
	}

	if d.Language != "" && e.stackHas(d.Language) {
		score += 0.15
	}

	if !d.UpdatedAt.IsZero() {
		age := e.now().Sub(d.UpdatedAt)
		if age < 30*24*time.Hour {
			score += 0.1
		} else if age < 90*24*time.Hour {
			score += 0.05
		}
	}

	if d.Type == "mcp_server" {
		score += 0.1
	}

	for _, topic := range d.Topics {
		if e.stackHas(topic) {
			score += 0.05
		}
	}

	return capScore(score)
}

// npmRelevance uses the registry's own quality and popularity scores plus
// keyword matches against the stack.
func (e *Engine) npmRelevance(quality, popularity float64, keywords []string) float64 {
	score := 0.5
	score += quality * 0.2
	score += popularity * 0.2
	for _, k := range keywords {
		if e.stackHas(k) {
			score += 0.05
		}
	}
	return capScore(score)
}

// awesomeRelevance uses a lower base since list items carry no signal
// beyond their text.
func (e *Engine) awesomeRelevance(name, description string) float64 {
	score := 0.4
	text := strings.ToLower(name + " " + description)
	for _, term := range e.context.Stack {
		if strings.Contains(text, strings.ToLower(term)) {
			score += 0.1
		}
	}
	return capScore(score)
}

func (e *Engine) stackHas(term string) bool {
	term = strings.ToLower(term)
	for _, s := range e.context.Stack {
		if strings.ToLower(s) == term {
			return true
		}
	}
	return false
}

func capScore(score float64) float64 {
	if score > 1.0 {
		return 1.0
	}
	return score
}

// filterAndDeduplicate drops low-relevance results and duplicates by URL or
// case-insensitive name. First occurrence wins.
func filterAndDeduplicate(discoveries []Discovery) []Discovery {
	seenURLs := map[string]bool{}
	seenNames := map[string]bool{}
	var filtered []Discovery

	for _, d := range discoveries {
		if seenURLs[d.URL] || seenNames[strings.ToLower(d.Name)] {
			continue
		}
		if d.RelevanceScore < minRelevance {
			continue
		}
		seenURLs[d.URL] = true
		seenNames[strings.ToLower(d.Name)] = true
		filtered = append(filtered, d)
	}

	return filtered
}

// CreateDiscoveryCard promotes a discovery into a proposed improvement card
// and persists it. Action type and effort follow a fixed lookup by
// discovery type.
func (e *Engine) CreateDiscoveryCard(d Discovery, goalID *string) (*improvement.Card, error) {
	var actionType improvement.ActionType
	var effort improvement.EffortLevel
	var details string

	switch d.Type {
	case "mcp_server":
		actionType = improvement.ActionToolInstall
		effort = improvement.EffortTrivial
		details = "Install MCP server: " + d.Name
	case "npm_package":
		actionType = improvement.ActionToolInstall
		effort = improvement.EffortSmall
		details = "npm install " + d.Name
	case "github_repo":
		actionType = improvement.ActionCodeChange
		effort = improvement.EffortMedium
		details = "Review and potentially integrate: " + d.URL
	default:
		actionType = improvement.ActionConfigChange
		effort = improvement.EffortSmall
		details = "Review: " + d.URL
	}

	score := d.RelevanceScore
	evidence := improvement.CardEvidence{
		Examples:       []string{d.URL, "source: " + d.Source},
		RelevanceScore: &score,
	}
	if d.Stars > 0 {
		evidence.Metrics = map[string]float64{"stars": float64(d.Stars)}
	}

	var command *string
	if d.InstallCommand != "" {
		cmd := d.InstallCommand
		command = &cmd
	}

	card := improvement.NewCard(
		improvement.CardDiscovery,
		"Discovery: "+d.Name,
		d.Description,
		evidence,
		improvement.SuggestedAction{
			Type:    actionType,
			Details: details,
			Effort:  effort,
			Command: command,
		},
		goalID,
	)
	if err := e.store.SaveCard(card); err != nil {
		return nil, err
	}
	return card, nil
}

// SearchForGoal searches for discoveries to fulfill a goal and promotes the
// top targetCount into cards. Goals mentioning MCP restrict the search to
// MCP sources.
func (e *Engine) SearchForGoal(ctx context.Context, goalTarget string, targetCount int) ([]*improvement.Card, error) {
	if targetCount <= 0 {
		return nil, nil
	}

	var sourceTypes []SourceType
	if strings.Contains(strings.ToLower(goalTarget), "mcp") {
		sourceTypes = []SourceType{SourceMCPServers}
	}

	// Fetch extra so filtering still leaves enough to promote
	discoveries, err := e.Discover(ctx, sourceTypes, "", targetCount*2)
	if err != nil {
		return nil, err
	}

	var cards []*improvement.Card
	for i, d := range discoveries {
		if i >= targetCount {
			break
		}
		card, err := e.CreateDiscoveryCard(d, nil)
		if err != nil {
			return cards, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}
