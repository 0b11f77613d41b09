package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sprite-ai/refgate/internal/model"
)

// FilesChangedIn lists the paths commitID changed relative to its first
// parent (the empty tree for a root commit). A merge therefore reports only
// what it introduced on top of the mainline. With exts, only paths ending in
// one of them are returned.
func (r *Repo) FilesChangedIn(ctx context.Context, commitID string, exts ...string) ([]model.FileChange, error) {
	base, err := r.firstParent(ctx, commitID)
	if err != nil {
		return nil, err
	}
	return r.diffTree(ctx, base, commitID, exts)
}

// FilesChangedBetween returns the net effect of moving from oldID to newID
// as a map of path to new blob id. Deleted paths are omitted.
func (r *Repo) FilesChangedBetween(ctx context.Context, oldID, newID string, exts ...string) (map[string]string, error) {
	if model.IsNull(oldID) {
		tree, err := r.EmptyTree(ctx)
		if err != nil {
			return nil, err
		}
		oldID = tree
	}
	changes, err := r.diffTree(ctx, oldID, newID, exts)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(changes))
	for _, c := range changes {
		if c.Status == model.StatusDeleted {
			continue
		}
		files[c.Path] = c.NewBlob
	}
	return files, nil
}

// CommitPatch returns the zero-context patch of commitID against its first
// parent.
func (r *Repo) CommitPatch(ctx context.Context, commitID string) (string, error) {
	base, err := r.firstParent(ctx, commitID)
	if err != nil {
		return "", err
	}
	out, err := r.git(ctx, "diff", "-U0", "--no-color", "--no-renames", "--no-ext-diff", base, commitID, "--")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (r *Repo) firstParent(ctx context.Context, commitID string) (string, error) {
	out, err := r.git(ctx, "rev-list", "--parents", "-n", "1", commitID)
	if err != nil {
		return "", err
	}
	ids := strings.Fields(string(out))
	if len(ids) < 2 {
		return r.EmptyTree(ctx)
	}
	return ids[1], nil
}

// diffTree runs a raw, NUL-separated tree diff with rename detection off.
func (r *Repo) diffTree(ctx context.Context, from, to string, exts []string) ([]model.FileChange, error) {
	out, err := r.git(ctx, "diff-tree", "-r", "-z", "--no-renames", "--no-abbrev", from, to)
	if err != nil {
		return nil, err
	}
	changes, err := parseRawDiff(string(out))
	if err != nil {
		return nil, err
	}
	if len(exts) == 0 {
		return changes, nil
	}
	filtered := changes[:0]
	for _, c := range changes {
		if hasExtension(c.Path, exts) {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// parseRawDiff parses `git diff-tree -z` raw output:
// ":<mode> <mode> <old> <new> <status>\0<path>\0" repeated.
func parseRawDiff(out string) ([]model.FileChange, error) {
	var changes []model.FileChange
	parts := strings.Split(out, "\x00")
	for i := 0; i < len(parts); i++ {
		meta := parts[i]
		if meta == "" || !strings.HasPrefix(meta, ":") {
			continue
		}
		if i+1 >= len(parts) {
			return nil, fmt.Errorf("raw diff entry without path: %q", meta)
		}
		path := parts[i+1]
		i++

		fields := strings.Fields(meta[1:])
		if len(fields) != 5 {
			return nil, fmt.Errorf("unexpected raw diff entry: %q", meta)
		}
		// Submodule entries point at commits, not blobs.
		if fields[0] == "160000" || fields[1] == "160000" {
			continue
		}
		c := model.FileChange{Path: path, OldBlob: fields[2], NewBlob: fields[3]}
		switch fields[4][0] {
		case 'A':
			c.Status = model.StatusAdded
		case 'D':
			c.Status = model.StatusDeleted
			c.NewBlob = model.NullID
		default:
			c.Status = model.StatusModified
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func hasExtension(path string, exts []string) bool {
	for _, e := range exts {
		if strings.HasSuffix(path, e) {
			return true
		}
	}
	return false
}

// PathAttribute returns the value of a gitattributes attribute for path as
// declared in commitID's tree: "set", "unset", "unspecified" or a value.
func (r *Repo) PathAttribute(ctx context.Context, commitID, path, attr string) (string, error) {
	attrs, err := r.PathAttributes(ctx, commitID, attr, path)
	if err != nil {
		return "", err
	}
	return attrs[path], nil
}

// PathAttributes queries attr for many paths with one throw-away index built
// from commitID's tree. The index lives in a private temp directory that is
// removed on every return path, so concurrent hook processes never share it.
func (r *Repo) PathAttributes(ctx context.Context, commitID, attr string, paths ...string) (map[string]string, error) {
	attrs := make(map[string]string, len(paths))
	if len(paths) == 0 {
		return attrs, nil
	}

	dir, err := os.MkdirTemp("", "refgate-index-")
	if err != nil {
		return nil, fmt.Errorf("creating scoped index dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			r.Log.Warn().Err(rmErr).Str("dir", dir).Msg("could not remove scoped index")
		}
	}()
	index := filepath.Join(dir, "index")

	if _, err := r.git(ctx, "read-tree", "--index-output="+index, commitID); err != nil {
		return nil, err
	}

	args := append([]string{"check-attr", "--cached", "-z", attr, "--"}, paths...)
	out, err := r.gitWith(ctx, runOpts{env: []string{"GIT_INDEX_FILE=" + index}}, args...)
	if err != nil {
		return nil, err
	}

	// -z output: <path>\0<attr>\0<value>\0 ...
	fields := strings.Split(string(out), "\x00")
	for i := 0; i+2 < len(fields); i += 3 {
		if fields[i+1] != attr {
			return nil, fmt.Errorf("check-attr returned attribute %q, asked for %q", fields[i+1], attr)
		}
		attrs[fields[i]] = fields[i+2]
	}
	for _, p := range paths {
		if _, ok := attrs[p]; !ok {
			attrs[p] = "unspecified"
		}
	}
	r.Log.Debug().Str("commit", commitID).Str("attr", attr).Interface("values", attrs).Msg("path attributes")
	return attrs, nil
}
