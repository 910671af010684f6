package router

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CK-Technology/ghostpanel/internal/util"
)

func gpanelRules() []Rule {
	return []Rule{
		{Pattern: "/api/containers/*", Pool: "bolt"},
		{Pattern: "/api/images/*", Pool: "bolt"},
		{Pattern: "/api/system/stats", Pool: "agent"},
		{Pattern: "/api/system/*", Pool: "bolt"},
		{Pattern: "/api/stats", Pool: InternalStatsPool},
		{Pattern: "/*", Pool: "static"},
	}
}

func TestNewTableRejectsInvalidPatterns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
	}{
		{"empty", ""},
		{"relative", "api/*"},
		{"infix glob", "/api/*/stats"},
		{"bare glob", "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewTable([]Rule{{Pattern: tt.pattern, Pool: "p"}})
			assert.Error(t, err)
		})
	}
}

func TestTableMatch(t *testing.T) {
	t.Parallel()

	table, err := NewTable(gpanelRules())
	require.NoError(t, err)

	tests := []struct {
		path string
		pool string
	}{
		{"/api/containers", "bolt"},
		{"/api/containers/abc123", "bolt"},
		{"/api/containers/abc123/logs", "bolt"},
		{"/api/images/nginx", "bolt"},
		{"/api/system/stats", "agent"},
		{"/api/system/info", "bolt"},
		{"/api/stats", InternalStatsPool},
		{"/", "static"},
		{"/index.html", "static"},
		{"/api", "static"},
		{"/api/volumes", "static"},
		// Prefix boundaries: no partial-segment matches.
		{"/api/containersX", "static"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			rule, err := table.Match(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.pool, rule.Pool)
		})
	}
}

func TestTableMatchNormalizesTrailingSlash(t *testing.T) {
	t.Parallel()

	table, err := NewTable(gpanelRules())
	require.NoError(t, err)

	rule, err := table.Match("/api/system/stats/")
	require.NoError(t, err)
	assert.Equal(t, "agent", rule.Pool)

	rule, err = table.Match("/")
	require.NoError(t, err)
	assert.Equal(t, "static", rule.Pool)
}

func TestTableMatchIsCaseSensitive(t *testing.T) {
	t.Parallel()

	table, err := NewTable(gpanelRules())
	require.NoError(t, err)

	rule, err := table.Match("/API/containers/abc")
	require.NoError(t, err)
	assert.Equal(t, "static", rule.Pool)
}

func TestTablePrecedence(t *testing.T) {
	t.Parallel()

	// Three overlapping rules: the most specific prefix wins, the
	// catch-all takes the rest.
	table, err := NewTable([]Rule{
		{Pattern: "/*", Pool: "c"},
		{Pattern: "/api/*", Pool: "b"},
		{Pattern: "/api/containers/*", Pool: "a"},
	})
	require.NoError(t, err)

	tests := []struct {
		path string
		pool string
	}{
		{"/api/containers/123", "a"},
		{"/api/images", "b"},
		{"/foo", "c"},
	}

	for _, tt := range tests {
		rule, err := table.Match(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.pool, rule.Pool, "path %s", tt.path)
	}
}

func TestTableExactBeatsPrefix(t *testing.T) {
	t.Parallel()

	table, err := NewTable([]Rule{
		{Pattern: "/api/system/*", Pool: "prefix"},
		{Pattern: "/api/system/stats", Pool: "exact"},
		{Pattern: "/*", Pool: "rest"},
	})
	require.NoError(t, err)

	rule, err := table.Match("/api/system/stats")
	require.NoError(t, err)
	assert.Equal(t, "exact", rule.Pool)
}

func TestTableOrderBreaksTies(t *testing.T) {
	t.Parallel()

	// Two identical prefixes: the first configured rule wins.
	table, err := NewTable([]Rule{
		{Pattern: "/api/x/*", Pool: "first"},
		{Pattern: "/api/x/*", Pool: "second"},
		{Pattern: "/*", Pool: "rest"},
	})
	require.NoError(t, err)

	rule, err := table.Match("/api/x/1")
	require.NoError(t, err)
	assert.Equal(t, "first", rule.Pool)
}

func TestTableMatchIsDeterministic(t *testing.T) {
	t.Parallel()

	table, err := NewTable(gpanelRules())
	require.NoError(t, err)

	first, err := table.Match("/api/containers/abc")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		rule, err := table.Match("/api/containers/abc")
		require.NoError(t, err)
		assert.Equal(t, first, rule)
	}
}

func TestTableCatchAllTotality(t *testing.T) {
	t.Parallel()

	table, err := NewTable(gpanelRules())
	require.NoError(t, err)
	require.True(t, table.HasCatchAll())

	// Every syntactically odd path still resolves.
	paths := []string{
		"/", "//", "/..", "/%2e%2e", "/a", "/a/b/c/d/e/f",
		"/api", "/API", "/favicon.ico", "/.well-known/anything",
	}
	for _, p := range paths {
		rule, err := table.Match(p)
		require.NoError(t, err, "path %s", p)
		require.NotNil(t, rule)
	}
}

func TestTableWithoutCatchAllReturnsRoutingError(t *testing.T) {
	t.Parallel()

	table, err := NewTable([]Rule{{Pattern: "/api/*", Pool: "a"}})
	require.NoError(t, err)
	assert.False(t, table.HasCatchAll())

	_, err = table.Match("/other")
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrNoRoute)
}

func TestRuleIsInternal(t *testing.T) {
	t.Parallel()

	assert.True(t, (&Rule{Pool: InternalStatsPool}).IsInternal())
	assert.False(t, (&Rule{Pool: "bolt"}).IsInternal())
}

func TestTableRulesOrder(t *testing.T) {
	t.Parallel()

	table, err := NewTable(gpanelRules())
	require.NoError(t, err)

	rules := table.Rules()
	require.Len(t, rules, 6)
	// Exact rules first, catch-all last.
	assert.NotContains(t, rules[0].Pattern, "*")
	assert.Equal(t, CatchAllPattern, rules[len(rules)-1].Pattern)
}

func BenchmarkTableMatch(b *testing.B) {
	table, err := NewTable(gpanelRules())
	if err != nil {
		b.Fatal(err)
	}

	paths := make([]string, 16)
	for i := range paths {
		paths[i] = fmt.Sprintf("/api/containers/%d/logs", i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = table.Match(paths[i%len(paths)])
	}
}
