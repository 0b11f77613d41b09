// Package repo inspects a git repository by running the git command line.
package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/model"
)

// Error is a failed git invocation.
type Error struct {
	Args     []string
	Stderr   string
	ExitCode int
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = fmt.Sprintf("exit status %d", e.ExitCode)
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

// Repo runs git commands against the repository at Dir.
type Repo struct {
	Dir string
	Log zerolog.Logger

	emptyTree string
}

// New returns a Repo rooted at dir.
func New(dir string, log zerolog.Logger) *Repo {
	return &Repo{Dir: dir, Log: log}
}

type runOpts struct {
	env   []string
	stdin []byte
}

// git runs a git subcommand and returns its stdout. Any non-zero exit is
// returned as a repository error wrapping *Error.
func (r *Repo) git(ctx context.Context, args ...string) ([]byte, error) {
	return r.gitWith(ctx, runOpts{}, args...)
}

func (r *Repo) gitWith(ctx context.Context, opts runOpts, args ...string) ([]byte, error) {
	r.Log.Debug().Strs("args", args).Msg("run git")

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	if len(opts.env) > 0 {
		cmd.Env = append(os.Environ(), opts.env...)
	}
	if opts.stdin != nil {
		cmd.Stdin = bytes.NewReader(opts.stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		gerr := &Error{Args: args, Stderr: stderr.String(), ExitCode: -1}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			gerr.ExitCode = exitErr.ExitCode()
		} else if gerr.Stderr == "" {
			gerr.Stderr = err.Error()
		}
		return nil, apperr.Wrap(gerr, apperr.CodeRepository, "repository command failed")
	}
	return stdout.Bytes(), nil
}

// exitCode extracts the git exit status from an error returned by git.
func exitCode(err error) int {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.ExitCode
	}
	return -1
}

// EmptyTree returns the id of the empty tree object in this repository's
// hash format.
func (r *Repo) EmptyTree(ctx context.Context) (string, error) {
	if r.emptyTree != "" {
		return r.emptyTree, nil
	}
	out, err := r.gitWith(ctx, runOpts{stdin: []byte{}}, "hash-object", "-t", "tree", "--stdin")
	if err != nil {
		return "", err
	}
	r.emptyTree = strings.TrimSpace(string(out))
	return r.emptyTree, nil
}

// BlobContents returns the contents of a blob.
func (r *Repo) BlobContents(ctx context.Context, blobID string) ([]byte, error) {
	return r.git(ctx, "cat-file", "blob", blobID)
}

// RefExists reports whether ref resolves to an object.
func (r *Repo) RefExists(ctx context.Context, ref string) (bool, error) {
	_, err := r.git(ctx, "rev-parse", "--verify", "--quiet", ref)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

// Refs lists every ref in the repository.
func (r *Repo) Refs(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, "for-each-ref", "--format=%(refname)")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// IsFastForward reports whether moving a ref from oldID to newID rewrites no
// history: no commit reachable from oldID is unreachable from newID.
// Creating a ref is always a fast-forward.
func (r *Repo) IsFastForward(ctx context.Context, oldID, newID string) (bool, error) {
	if model.IsNull(oldID) {
		return true, nil
	}
	out, err := r.git(ctx, "rev-list", "--max-count=1", newID+".."+oldID)
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(out)) == 0, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	if model.IsNull(ancestor) || model.IsNull(descendant) {
		return false, nil
	}
	_, err := r.git(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

// BranchesContaining returns the short names of local branches whose tips
// reach commitID.
func (r *Repo) BranchesContaining(ctx context.Context, commitID string) ([]string, error) {
	out, err := r.git(ctx, "for-each-ref", "--format=%(refname:short)", "--contains", commitID, "refs/heads/")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func splitLines(out []byte) []string {
	var lines []string
	for _, l := range strings.Split(string(out), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
