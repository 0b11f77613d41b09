package cli

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/model"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, want := range []string{"pre-receive", "update", "review", "checks", "history", "version"} {
		if !names[want] {
			t.Errorf("root command missing subcommand %q", want)
		}
	}
}

func TestVersionOutput(t *testing.T) {
	// version vars are set via ldflags; in tests they have their defaults
	if version != "dev" {
		t.Errorf("expected default version %q, got %q", "dev", version)
	}
	out, _, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "refgate dev (commit none, built unknown)\n", out)
}

// resetFlags puts every flag back to its default; rootCmd is shared by all
// tests.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

// site lays out an INI file, a conf directory holding hooks.yaml and a git
// repository with one commit. It returns the INI path, the repository and
// the commit id.
func site(t *testing.T, hooks string) (string, string, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	base := t.TempDir()
	t.Setenv("HOME", base)
	t.Setenv("XDG_CONFIG_HOME", base)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_AUTHOR_NAME", "Karl Tester")
	t.Setenv("GIT_AUTHOR_EMAIL", "karl@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "Karl Tester")
	t.Setenv("GIT_COMMITTER_EMAIL", "karl@example.com")

	ini := filepath.Join(base, "refgate.ini")
	require.NoError(t, os.WriteFile(ini, []byte("[DEFAULT]\nuser_name = karl\nlog_level = debug\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "conf", "hooks.yaml"), []byte(hooks), 0o644))

	dir := filepath.Join(base, "repo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	git := func(args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
		return strings.TrimSpace(string(out))
	}
	git("init", "-q")
	git("commit", "-q", "--allow-empty", "-m", "initial")
	return ini, dir, git("rev-parse", "HEAD")
}

const allowKarl = `restrict_branches:
  - {policy: allow, type: create, branch: "feature/", user: karl}
`

func TestPreReceiveDefaultDeny(t *testing.T) {
	ini, dir, head := site(t, allowKarl)

	in := model.NullID + " " + head + " refs/heads/master\n"
	out, _, err := run(t, in, "--ini", ini, "--repo", dir, "pre-receive", "hooks.yaml")
	require.ErrorIs(t, err, errDenied)
	assert.Equal(t, 1, apperr.ExitCodeOf(err))
	assert.Equal(t, "[refs/heads/master @ "+head+"]: Error: You have no permission to create refs/heads/master\n", out)

	logData, err := os.ReadFile(filepath.Join(filepath.Dir(ini), "refgate.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "evaluated")
}

func TestPreReceivePermits(t *testing.T) {
	ini, dir, head := site(t, allowKarl)

	in := model.NullID + " " + head + " refs/heads/feature/x\n"
	out, _, err := run(t, in, "--ini", ini, "--repo", dir, "pre-receive", "hooks.yaml")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPreReceiveMalformedInput(t *testing.T) {
	ini, dir, _ := site(t, allowKarl)

	_, _, err := run(t, "not a ref update\n", "--ini", ini, "--repo", dir, "pre-receive", "hooks.yaml")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInput))
	assert.Contains(t, err.Error(), "input line 1")
}

func TestPreReceiveUnknownCheck(t *testing.T) {
	ini, dir, head := site(t, "no_such_check: {}\n")

	in := model.NullID + " " + head + " refs/heads/master\n"
	_, _, err := run(t, in, "--ini", ini, "--repo", dir, "pre-receive", "hooks.yaml")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConfiguration))
	assert.Contains(t, err.Error(), "could not load check 'no_such_check'")
}

func TestUpdateHookArguments(t *testing.T) {
	ini, dir, head := site(t, allowKarl)

	out, _, err := run(t, "", "--ini", ini, "--repo", dir, "update", "hooks.yaml", "refs/heads/master", model.NullID, head)
	require.ErrorIs(t, err, errDenied)
	assert.Contains(t, out, "no permission to create refs/heads/master")

	_, _, err = run(t, "", "--ini", ini, "--repo", dir, "update", "hooks.yaml", "refs/heads/master", "zz", head)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInput))
}

func TestReviewPlain(t *testing.T) {
	ini, dir, head := site(t, allowKarl)

	in := model.NullID + " " + head + " refs/heads/master\n" +
		model.NullID + " " + head + " refs/heads/feature/y\n"
	out, _, err := run(t, in, "--ini", ini, "--repo", dir, "review", "--plain", "hooks.yaml")
	require.ErrorIs(t, err, errDenied)
	assert.Equal(t, "[refs/heads/master @ "+head+"]: Error: You have no permission to create refs/heads/master\n", out)
}

func TestChecksList(t *testing.T) {
	out, _, err := run(t, "", "checks")
	require.NoError(t, err)
	for _, name := range []string{"restrict_branches", "merge_check", "pep8hook"} {
		assert.Contains(t, out, name)
	}
}

func TestChecksValidatesConfiguration(t *testing.T) {
	ini, dir, _ := site(t, allowKarl+"deny_non_ff: [\"refs/heads/master\"]\n")

	out, _, err := run(t, "", "--ini", ini, "--repo", dir, "checks", "hooks.yaml")
	require.NoError(t, err)
	assert.Equal(t, " 1. restrict_branches\n 2. deny_non_ff\nhooks.yaml: 2 check(s) loaded\n", out)
}

func TestHistoryRequiresJournal(t *testing.T) {
	ini, dir, _ := site(t, allowKarl)

	_, _, err := run(t, "", "--ini", ini, "--repo", dir, "history")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConfiguration))
}

func TestJournalRecordsPreReceive(t *testing.T) {
	ini, dir, head := site(t, allowKarl)
	dsn := "file:" + filepath.Join(filepath.Dir(ini), "journal.db")

	in := model.NullID + " " + head + " refs/heads/master\n"
	_, _, err := run(t, in, "--ini", ini, "--repo", dir, "--journal", dsn, "pre-receive", "hooks.yaml")
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED=0") {
		t.Skip("sqlite3 driver built without cgo")
	}
	require.ErrorIs(t, err, errDenied)

	out, _, err := run(t, "", "--ini", ini, "--repo", dir, "--journal", dsn, "history", "refs/heads/master")
	require.NoError(t, err)
	assert.Contains(t, out, "deny")
	assert.Contains(t, out, "restrict_branches: [refs/heads/master @ "+head+"]: Error: You have no permission to create refs/heads/master")
}
