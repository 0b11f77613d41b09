package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
)

func TestNamesAreDescribed(t *testing.T) {
	names := Names()
	assert.Len(t, names, len(registry))
	assert.IsNonDecreasing(t, names)
	for _, name := range names {
		assert.NotEmpty(t, Describe(name), name)
	}
}

func TestLoadKeepsOrder(t *testing.T) {
	specs, err := config.ParseHooks([]byte(`
line_endings:
restrict_branches:
  - {policy: allow, type: update, branch: master, user: ".*"}
deny_non_ff: ["refs/heads/master"]
`))
	require.NoError(t, err)

	te := newEnv(&fakeRepo{}, nil)
	checks, err := Load(specs, StaticParams{"user_name": "karl"}, te.Env)
	require.NoError(t, err)

	var names []string
	for _, c := range checks {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"line_endings", "restrict_branches", "deny_non_ff"}, names)
	assert.Equal(t, "karl", checks[1].(*restrictBranches).env.Pusher())
}

func TestLoadUnknownCheck(t *testing.T) {
	specs, err := config.ParseHooks([]byte("line_endings:\nno_such_hook:\n"))
	require.NoError(t, err)

	te := newEnv(&fakeRepo{}, nil)
	_, err = Load(specs, StaticParams{}, te.Env)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConfiguration))
	assert.Equal(t, "could not load check 'no_such_hook': no such check", err.Error())
}

func TestLoadFailures(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing parameter", "email_mention:\n"},
		{"undecodable settings", "deny_non_ff: {refs: master}\n"},
		{"bad pattern", "deny_non_ff: [\"(\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := config.ParseHooks([]byte(tt.doc))
			require.NoError(t, err)

			te := newEnv(&fakeRepo{}, nil)
			_, err = Load(specs, StaticParams{}, te.Env)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.CodeConfiguration))
		})
	}
}

func TestStaticParamsCopies(t *testing.T) {
	src := StaticParams{"a": "1"}
	p, err := src.ForCheck("x")
	require.NoError(t, err)
	p["a"] = "2"
	assert.Equal(t, "1", src["a"])
}
