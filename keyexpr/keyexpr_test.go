package keyexpr

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uprpc/uri"
)

func TestResolverKey(t *testing.T) {
	r := NewResolver("local")
	source := uri.UUri{AuthorityName: "client", UeID: 0x0001_10AB, UeVersionMajor: 1}
	sink := uri.UUri{AuthorityName: "server", UeID: 0x2002, UeVersionMajor: 2, ResourceID: 0x7FFF}

	assert.Equal(t, "up/client/10AB/1/1/0/server/2002/0/2/7FFF", r.Key(source, &sink))
	assert.Equal(t, "up/client/10AB/1/1/0/{}/{}/{}/{}/{}", r.Key(source, nil))
}

func TestResolverLocalAuthority(t *testing.T) {
	r := NewResolver("vehicle")
	source := uri.UUri{UeID: 1, UeVersionMajor: 1}
	sink := uri.UUri{UeID: 2, UeVersionMajor: 1, ResourceID: 3}
	assert.Equal(t, "up/vehicle/1/0/1/0/vehicle/2/0/1/3", r.Key(source, &sink))
}

func TestResolverWildcards(t *testing.T) {
	r := NewResolver("local")
	sink := uri.UUri{AuthorityName: "server", UeID: 0x2002, UeVersionMajor: 2, ResourceID: 0x7FFF}
	assert.Equal(t, "up/*/*/*/*/*/server/2002/0/2/7FFF", r.Key(uri.Any(), &sink))
}

func TestIntersects(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/*/c", "a/b/c", true},
		{"a/*/c", "a/b/x/c", false},
		{"a/**", "a/b/c", true},
		{"a/**", "a", true},
		{"a/**/c", "a/c", true},
		{"a/**/c", "a/b/x/c", true},
		{"a/**/c", "a/b/x/d", false},
		{"**", "anything/at/all", true},
		{"a/*", "a", false},
		{"a/*/c", "a/**", true},
		{"a/b", "a/b/c", false},
		{"up/*/*/*/*/*/server/2002/0/2/7FFF", "up/client/10AB/1/1/0/server/2002/0/2/7FFF", true},
		{"up/*/*/*/*/*/server/2002/0/2/7FFE", "up/client/10AB/1/1/0/server/2002/0/2/7FFF", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Intersects(tc.a, tc.b), "%s ∩ %s", tc.a, tc.b)
		assert.Equal(t, tc.want, Intersects(tc.b, tc.a), "%s ∩ %s", tc.b, tc.a)
	}
}

func TestSpecificity(t *testing.T) {
	assert.Equal(t, 3, Specificity("a/b/c"))
	assert.Equal(t, 2, Specificity("a/*/c"))
	assert.Equal(t, 1, Specificity("a/**"))
	assert.Greater(t,
		Specificity("up/client/10AB/1/1/0/server/2002/0/2/7FFF"),
		Specificity("up/*/*/*/*/*/server/2002/0/2/7FFF"))
}

func TestIsWildAndValidate(t *testing.T) {
	assert.False(t, IsWild("a/b"))
	assert.True(t, IsWild("a/*"))
	assert.True(t, IsWild("**"))

	require.NoError(t, Validate("up/*/x/**"))
	assert.Error(t, Validate(""))
	assert.Error(t, Validate("a//b"))
	assert.Error(t, Validate("a/b*/c"))
	assert.Error(t, Validate("a/**/**/b"))
	assert.Error(t, Validate("**/**"))
	require.NoError(t, Validate("**/a/**"))
}

func TestIntersectsManyDoubleWilds(t *testing.T) {
	key := "up/client/10AB/0/1/0/server/2002/0/2/7FFF"
	long := strings.Repeat("a/", 40) + "b"

	cases := []struct {
		expr, key string
		want      bool
	}{
		{strings.Repeat("**/", 24) + "X", key, false},
		{strings.Repeat("**/", 24) + "7FFF", key, true},
		{strings.Repeat("**/a/", 20) + "X", long, false},
		{strings.Repeat("**/a/", 20) + "b", long, true},
	}
	for _, tc := range cases {
		start := time.Now()
		assert.Equal(t, tc.want, Intersects(tc.expr, tc.key), tc.expr)
		assert.Equal(t, tc.want, Intersects(tc.key, tc.expr), tc.expr)
		assert.Less(t, time.Since(start), 100*time.Millisecond, tc.expr)
	}
}

func TestBestMatch(t *testing.T) {
	key := "up/client/10AB/1/1/0/server/2002/0/2/7FFF"
	exprs := []string{
		"up/**",
		"up/*/*/*/*/*/server/2002/0/2/7FFF",
		"up/*/*/*/*/*/server/2002/0/2/1",
		"up/client/10AB/1/1/0/server/2002/0/2/7FFF",
		"up/client/10AB/1/1/0/server/2002/0/2/7FFF",
	}
	assert.Equal(t, 3, BestMatch(exprs, key))
	assert.Equal(t, 1, BestMatch(exprs[:3], key))
	assert.Equal(t, 0, BestMatch(exprs[:1], key))
	assert.Equal(t, -1, BestMatch(exprs[2:3], key))
	assert.Equal(t, -1, BestMatch(nil, key))

	assert.Equal(t, []int{0, 1, 3, 4}, Matching(exprs, key))
	assert.Empty(t, Matching(exprs[2:3], key))
}
