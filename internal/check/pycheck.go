package check

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"mvdan.cc/sh/v3/shell"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/diff"
	"github.com/sprite-ai/refgate/internal/model"
)

const defaultStyleCommand = "pycodestyle"

// findingPattern matches one line of checker output: path:line:col: text.
var findingPattern = regexp.MustCompile(`^(.+?):(\d+):(\d+): (.*)$`)

// Runner executes a style checker in dir and returns its standard output.
// A non-zero exit caused by findings is not an error.
type Runner func(ctx context.Context, dir string, args []string) ([]byte, error)

// pyCheck runs a Python style checker over the Python files each commit
// touches and denies when it reports on a line the commit added or changed.
type pyCheck struct {
	env  Env
	name string
	args []string
	run  Runner
}

func newPyCheck(env Env, spec config.HookSpec) (Check, error) {
	return buildPyCheck(env, spec, "")
}

// newPep8Hook is pycheck with the checker configuration taken from the
// ini_file parameter.
func newPep8Hook(env Env, spec config.HookSpec) (Check, error) {
	if err := env.Params.Require(spec.Name, "ini_file"); err != nil {
		return nil, err
	}
	return buildPyCheck(env, spec, env.Params.Get("ini_file"))
}

func buildPyCheck(env Env, spec config.HookSpec, iniFile string) (Check, error) {
	command := env.Params.Get("style_command")
	if command == "" {
		command = defaultStyleCommand
	}
	args, err := shell.Fields(command, env.Params.Get)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeConfiguration, "%s: style_command %q", spec.Name, command)
	}
	if len(args) == 0 {
		return nil, apperr.Configuration("%s: style_command is empty", spec.Name)
	}
	if iniFile != "" {
		args = append(args, "--config="+iniFile)
	}
	return &pyCheck{env: env, name: spec.Name, args: args, run: execRunner}, nil
}

func (c *pyCheck) Name() string { return c.name }

func (c *pyCheck) Check(ctx context.Context, upd model.RefUpdate) (model.Verdict, error) {
	if upd.IsDelete() {
		return model.Permit(), nil
	}
	commits, err := c.env.Repo.CommitsIntroducedBy(ctx, upd)
	if err != nil {
		return model.Verdict{}, err
	}

	verdict := model.Permit()
	for _, commit := range commits {
		c.env.Log.Debug().Str("commit", short(commit.ID)).Msg("checking commit")
		findings, err := c.checkCommit(ctx, commit.ID)
		if err != nil {
			return model.Verdict{}, err
		}
		for _, f := range findings {
			verdict.Permit = false
			verdict.Add(commit.ID, f)
		}
	}
	return verdict, nil
}

// checkCommit writes the commit's Python files to a scratch directory, runs
// the checker there and keeps the findings on touched lines.
func (c *pyCheck) checkCommit(ctx context.Context, commitID string) ([]string, error) {
	changes, err := c.env.Repo.FilesChangedIn(ctx, commitID, ".py")
	if err != nil {
		return nil, err
	}
	var live []model.FileChange
	for _, ch := range changes {
		if ch.Status == model.StatusDeleted {
			c.env.Log.Debug().Str("path", ch.Path).Msg("deleted, skip")
			continue
		}
		live = append(live, ch)
	}
	if len(live) == 0 {
		return nil, nil
	}

	raw, err := c.env.Repo.CommitPatch(ctx, commitID)
	if err != nil {
		return nil, err
	}
	ds, err := diff.Parse(raw)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeRepository, "parsing patch of %s", short(commitID))
	}
	touched := ds.TouchedLines()

	dir, err := os.MkdirTemp("", "refgate-pycheck-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	var paths []string
	for _, ch := range live {
		if len(touched[ch.Path]) == 0 {
			continue
		}
		data, err := c.env.Repo.BlobContents(ctx, ch.NewBlob)
		if err != nil {
			return nil, err
		}
		dst := filepath.Join(dir, filepath.FromSlash(ch.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, ch.Path)
	}
	if len(paths) == 0 {
		return nil, nil
	}
	sort.Strings(paths)

	args := append(append(append([]string{}, c.args...), "--"), paths...)
	out, err := c.run(ctx, dir, args)
	if err != nil {
		return nil, err
	}
	return selectFindings(out, touched), nil
}

// selectFindings keeps the checker output lines that point at touched lines.
func selectFindings(out []byte, touched map[string][]int) []string {
	var kept []string
	for _, line := range bytes.Split(out, []byte("\n")) {
		m := findingPattern.FindSubmatch(bytes.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(string(m[2]))
		if err != nil {
			continue
		}
		path := filepath.ToSlash(string(m[1]))
		for _, t := range touched[path] {
			if t == n {
				kept = append(kept, string(m[0]))
				break
			}
		}
	}
	return kept
}

func execRunner(ctx context.Context, dir string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return stdout.Bytes(), nil
	}
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeExternalService, "running %s: %s", args[0], bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
