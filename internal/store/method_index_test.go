package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextreichler/threadViewer/internal/models"
)

var vocabulary = []string{
	"com.jiuqi.nr.entity.search",
	"com.jiuqi.nr.task.query",
	"org.slf4j.LoggerFactory.getLogger",
	"com.jiuqi.np.definition.facade.FieldDefine.create",
	"java.lang.Thread.run",
}

func names(matches []models.MethodMatch) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Name
	}
	return out
}

func indexedStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := newTestStore(t)
	require.NoError(t, s.IndexMethods("ws", append(vocabulary, vocabulary[0], "")))
	require.NoError(t, s.IndexMethods("other", []string{"com.jiuqi.nr.other.search"}))
	return s
}

func TestSearchMethods_FullText(t *testing.T) {
	s := indexedStore(t)

	got, err := s.SearchMethods("ws", "query", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.jiuqi.nr.task.query"}, names(got))

	got, err = s.SearchMethods("ws", "LOGGER", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"org.slf4j.LoggerFactory.getLogger"}, names(got))

	got, err = s.SearchMethods("ws", "search", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.jiuqi.nr.entity.search"}, names(got), "other workspaces are excluded")

	got, err = s.SearchMethods("ws", "jiuqi", 0, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSearchMethods_ShortQuery(t *testing.T) {
	s := indexedStore(t)
	got, err := s.SearchMethods("ws", "co", 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	for _, m := range got {
		assert.Contains(t, m.Name, "co")
	}
}

func TestSearchMethods_Wildcard(t *testing.T) {
	s := indexedStore(t)

	got, err := s.SearchMethods("ws", "com*nr*", 0, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"com.jiuqi.nr.entity.search", "com.jiuqi.nr.task.query"}, names(got))

	got, err = s.SearchMethods("ws", "java.lang.Thread.ru?", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"java.lang.Thread.run"}, names(got))

	got, err = s.SearchMethods("ws", "java.lang.Thread.run*", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got, "trailing star needs at least one more character")
}

func TestSearchMethods_Fuzzy(t *testing.T) {
	s := indexedStore(t)

	got, err := s.SearchMethods("ws", "qeury", 2, 0)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "com.jiuqi.nr.task.query", got[0].Name)
	assert.Equal(t, 2, got[0].Distance)

	got, err = s.SearchMethods("ws", "rnu", 1, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.SearchMethods("ws", "creat", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.jiuqi.np.definition.facade.FieldDefine.create"}, names(got))
}

func TestSearchMethods_Empty(t *testing.T) {
	s := indexedStore(t)
	got, err := s.SearchMethods("ws", "   ", 0, 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBuildFTSQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"query", `"query"`},
		{"foo bar", `"foo" "bar"`},
		{"foo OR bar", `"foo" OR "bar"`},
		{"AND foo", `"foo"`},
		{"NOT foo", `"foo"`},
		{"foo AND", `"foo"`},
		{"foo AND AND bar", `"foo" AND "bar"`},
		{`"a b"`, `"a b"`},
		{`say"hi`, `"say""hi"`},
		{"(foo", `( "foo" )`},
		{"foo ()", `"foo"`},
		{"foo AND (", `"foo"`},
		{"name:run", `"run"`},
		{"foo)", `"foo"`},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, buildFTSQuery(tc.in), "input %q", tc.in)
	}
}
