// Package discovery searches curated external sources for tools, MCP
// servers, and packages relevant to a project's tech stack, and promotes the
// best results into improvement cards.
package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// SourceType classifies a discovery source.
type SourceType string

const (
	SourceMCPServers   SourceType = "mcp_servers"
	SourceGitHubRepos  SourceType = "github_repos"
	SourceNPMPackages  SourceType = "npm_packages"
	SourcePyPIPackages SourceType = "pypi_packages"
	SourceAwesomeLists SourceType = "awesome_lists"
)

// Source is one curated place to discover tools and packages.
type Source struct {
	Name         string
	Type         SourceType
	URL          string
	Description  string
	APIURL       string
	RequiresAuth bool
}

// DefaultSources returns the curated source table. It is constructed once at
// startup and injected into the engine, never referenced as a global.
func DefaultSources() []Source {
	return []Source{
		// MCP server sources
		{
			Name:        "Official MCP Servers",
			Type:        SourceMCPServers,
			URL:         "https://github.com/modelcontextprotocol/servers",
			Description: "Official Model Context Protocol server implementations",
			APIURL:      "https://api.github.com/repos/modelcontextprotocol/servers/contents",
		},
		{
			Name:        "MCP Server Topic",
			Type:        SourceMCPServers,
			URL:         "https://github.com/topics/mcp-server",
			Description: "GitHub repos tagged with mcp-server topic",
			APIURL:      "https://api.github.com/search/repositories?q=topic:mcp-server",
		},
		{
			Name:        "Awesome MCP Servers",
			Type:        SourceAwesomeLists,
			URL:         "https://github.com/punkpeye/awesome-mcp-servers",
			Description: "Curated list of MCP servers",
			APIURL:      "https://raw.githubusercontent.com/punkpeye/awesome-mcp-servers/main/README.md",
		},
		// GitHub repository sources
		{
			Name:        "GitHub Trending",
			Type:        SourceGitHubRepos,
			URL:         "https://github.com/trending",
			Description: "Trending GitHub repositories",
			APIURL:      "https://api.github.com/search/repositories?q=stars:>100&sort=stars",
		},
		{
			Name:        "Claude Code Topic",
			Type:        SourceGitHubRepos,
			URL:         "https://github.com/topics/claude-code",
			Description: "GitHub repos tagged with claude-code topic",
			APIURL:      "https://api.github.com/search/repositories?q=topic:claude-code",
		},
		{
			Name:        "AI Coding Assistants",
			Type:        SourceGitHubRepos,
			URL:         "https://github.com/topics/ai-coding-assistant",
			Description: "AI coding assistant tools and plugins",
			APIURL:      "https://api.github.com/search/repositories?q=topic:ai-coding-assistant",
		},
		// npm
		{
			Name:        "npm Search",
			Type:        SourceNPMPackages,
			URL:         "https://www.npmjs.com/search",
			Description: "Search npm packages",
			APIURL:      "https://registry.npmjs.org/-/v1/search",
		},
		// PyPI
		{
			Name:        "PyPI Search",
			Type:        SourcePyPIPackages,
			URL:         "https://pypi.org/search",
			Description: "Search PyPI packages",
			APIURL:      "https://pypi.org/pypi",
		},
		// Awesome lists for various stacks
		{
			Name:        "Awesome Claude",
			Type:        SourceAwesomeLists,
			URL:         "https://github.com/anthropics/anthropic-cookbook",
			Description: "Anthropic's cookbook with Claude examples",
			APIURL:      "https://api.github.com/repos/anthropics/anthropic-cookbook/contents",
		},
		{
			Name:        "Awesome React",
			Type:        SourceAwesomeLists,
			URL:         "https://github.com/enaqx/awesome-react",
			Description: "Curated list of React resources",
			APIURL:      "https://raw.githubusercontent.com/enaqx/awesome-react/master/README.md",
		},
		{
			Name:        "Awesome Python",
			Type:        SourceAwesomeLists,
			URL:         "https://github.com/vinta/awesome-python",
			Description: "Curated list of Python resources",
			APIURL:      "https://raw.githubusercontent.com/vinta/awesome-python/master/README.md",
		},
		{
			Name:        "Awesome TypeScript",
			Type:        SourceAwesomeLists,
			URL:         "https://github.com/dzharii/awesome-typescript",
			Description: "Curated list of TypeScript resources",
			APIURL:      "https://raw.githubusercontent.com/dzharii/awesome-typescript/master/README.md",
		},
	}
}

// FilterByType returns the sources matching any of the given types.
func FilterByType(sources []Source, types ...SourceType) []Source {
	var out []Source
	for _, s := range sources {
		for _, t := range types {
			if s.Type == t {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// RelevantSources selects the sources worth querying for a given tech
// stack: MCP and GitHub sources always, package registries and awesome
// lists only when the stack calls for them.
func RelevantSources(sources []Source, stack []string) []Source {
	stackSet := map[string]bool{}
	for _, s := range stack {
		stackSet[strings.ToLower(s)] = true
	}
	hasAny := func(terms ...string) bool {
		for _, t := range terms {
			if stackSet[t] {
				return true
			}
		}
		return false
	}

	var out []Source
	for _, s := range sources {
		switch s.Type {
		case SourceMCPServers, SourceGitHubRepos:
			out = append(out, s)
		case SourceNPMPackages:
			if hasAny("node", "npm", "react", "typescript", "javascript") {
				out = append(out, s)
			}
		case SourcePyPIPackages:
			if hasAny("python", "pip", "django", "flask", "fastapi") {
				out = append(out, s)
			}
		case SourceAwesomeLists:
			nameLower := strings.ToLower(s.Name)
			for term := range stackSet {
				if strings.Contains(nameLower, term) {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}

// ProjectContext describes a project for relevance filtering.
type ProjectContext struct {
	Path       string
	Name       string
	Stack      []string
	Frameworks []string
	HasGitHub  bool
}

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// DetectProjectContext analyzes a project directory for its tech stack:
// package.json, requirements.txt, pyproject.toml, go.mod, and a .github
// directory. All detection is best-effort.
func DetectProjectContext(projectDir string) *ProjectContext {
	ctx := &ProjectContext{
		Path: projectDir,
		Name: filepath.Base(projectDir),
	}

	if data, err := os.ReadFile(filepath.Join(projectDir, "package.json")); err == nil {
		ctx.Stack = append(ctx.Stack, "node")
		var pkg packageJSON
		if json.Unmarshal(data, &pkg) == nil {
			deps := map[string]bool{}
			for name := range pkg.Dependencies {
				deps[name] = true
			}
			for name := range pkg.DevDependencies {
				deps[name] = true
			}
			if deps["react"] {
				ctx.Stack = append(ctx.Stack, "react")
				ctx.Frameworks = append(ctx.Frameworks, "react")
			}
			if deps["vue"] {
				ctx.Stack = append(ctx.Stack, "vue")
				ctx.Frameworks = append(ctx.Frameworks, "vue")
			}
			if deps["next"] {
				ctx.Stack = append(ctx.Stack, "nextjs")
				ctx.Frameworks = append(ctx.Frameworks, "nextjs")
			}
			if deps["typescript"] {
				ctx.Stack = append(ctx.Stack, "typescript")
			}
			if deps["electron"] {
				ctx.Stack = append(ctx.Stack, "electron")
				ctx.Frameworks = append(ctx.Frameworks, "electron")
			}
		}
	}

	if data, err := os.ReadFile(filepath.Join(projectDir, "requirements.txt")); err == nil {
		ctx.Stack = append(ctx.Stack, "python")
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			name := line
			for _, sep := range []string{"==", ">=", "<=", "~=", ">"} {
				if idx := strings.Index(name, sep); idx >= 0 {
					name = name[:idx]
				}
			}
			switch strings.TrimSpace(name) {
			case "django":
				ctx.Frameworks = append(ctx.Frameworks, "django")
			case "flask":
				ctx.Frameworks = append(ctx.Frameworks, "flask")
			case "fastapi":
				ctx.Frameworks = append(ctx.Frameworks, "fastapi")
			}
		}
	}

	if _, err := os.Stat(filepath.Join(projectDir, "pyproject.toml")); err == nil {
		if !contains(ctx.Stack, "python") {
			ctx.Stack = append(ctx.Stack, "python")
		}
	}

	if _, err := os.Stat(filepath.Join(projectDir, "go.mod")); err == nil {
		ctx.Stack = append(ctx.Stack, "go")
	}

	if _, err := os.Stat(filepath.Join(projectDir, ".github")); err == nil {
		ctx.HasGitHub = true
	}

	return ctx
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
