package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterByType(t *testing.T) {
	sources := DefaultSources()

	mcp := FilterByType(sources, SourceMCPServers)
	require.Len(t, mcp, 2)
	for _, s := range mcp {
		assert.Equal(t, SourceMCPServers, s.Type)
	}

	npm := FilterByType(sources, SourceNPMPackages)
	require.Len(t, npm, 1)
	assert.Equal(t, "npm Search", npm[0].Name)

	both := FilterByType(sources, SourceMCPServers, SourceNPMPackages)
	assert.Len(t, both, 3)

	assert.Empty(t, FilterByType(nil, SourceMCPServers))
}

func TestRelevantSources(t *testing.T) {
	sources := DefaultSources()

	tests := []struct {
		name  string
		stack []string
		check func(t *testing.T, out []Source)
	}{
		{
			"empty stack keeps only mcp and github",
			nil,
			func(t *testing.T, out []Source) {
				require.Len(t, out, 5)
				for _, s := range out {
					assert.Contains(t, []SourceType{SourceMCPServers, SourceGitHubRepos}, s.Type)
				}
			},
		},
		{
			"typescript stack adds npm and its awesome list",
			[]string{"typescript"},
			func(t *testing.T, out []Source) {
				var names []string
				for _, s := range out {
					names = append(names, s.Name)
				}
				assert.Contains(t, names, "npm Search")
				assert.Contains(t, names, "Awesome TypeScript")
				assert.NotContains(t, names, "PyPI Search")
				assert.NotContains(t, names, "Awesome Python")
			},
		},
		{
			"python stack adds pypi and its awesome list",
			[]string{"python"},
			func(t *testing.T, out []Source) {
				var names []string
				for _, s := range out {
					names = append(names, s.Name)
				}
				assert.Contains(t, names, "PyPI Search")
				assert.Contains(t, names, "Awesome Python")
				assert.NotContains(t, names, "npm Search")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, RelevantSources(sources, tt.stack))
		})
	}
}

func TestDetectProjectContext(t *testing.T) {
	dir := t.TempDir()

	pkg := `{
		"dependencies": {"react": "^18.0.0", "next": "14.0.0"},
		"devDependencies": {"typescript": "^5.0.0"}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"),
		[]byte("# deps\ndjango==4.2\nrequests>=2.0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/x\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".github"), 0o755))

	ctx := DetectProjectContext(dir)

	assert.Equal(t, filepath.Base(dir), ctx.Name)
	assert.True(t, ctx.HasGitHub)

	wantStack := []string{"node", "react", "nextjs", "typescript", "python", "go"}
	if diff := cmp.Diff(wantStack, ctx.Stack); diff != "" {
		t.Errorf("stack mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, ctx.Frameworks, "react")
	assert.Contains(t, ctx.Frameworks, "nextjs")
	assert.Contains(t, ctx.Frameworks, "django")
}

func TestDetectProjectContextEmptyDir(t *testing.T) {
	ctx := DetectProjectContext(t.TempDir())
	assert.Empty(t, ctx.Stack)
	assert.Empty(t, ctx.Frameworks)
	assert.False(t, ctx.HasGitHub)
}
