package check

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/model"
)

// pyIndent denies Python files where some lines are indented with a tab and
// others with a space. Settings may list the file extensions to inspect.
type pyIndent struct {
	env  Env
	exts []string
}

func newPyIndent(env Env, spec config.HookSpec) (Check, error) {
	var exts []string
	if err := spec.Decode(&exts); err != nil {
		return nil, err
	}
	if len(exts) == 0 {
		exts = []string{".py"}
	}
	return &pyIndent{env: env, exts: exts}, nil
}

func (c *pyIndent) Name() string { return "py_indent" }

func (c *pyIndent) Check(ctx context.Context, upd model.RefUpdate) (model.Verdict, error) {
	if upd.IsDelete() {
		return model.Permit(), nil
	}

	files, err := c.env.Repo.FilesChangedBetween(ctx, upd.OldID, upd.NewID, c.exts...)
	if err != nil {
		return model.Verdict{}, err
	}

	v := model.Permit()
	for _, path := range sortedKeys(files) {
		content, err := c.env.Repo.BlobContents(ctx, files[path])
		if err != nil {
			return model.Verdict{}, err
		}
		mixed := HasMixedIndentation(content)
		c.env.Log.Debug().Str("path", path).Bool("mixed", mixed).Msg("indentation")
		if mixed {
			v.Permit = false
			v.Add(upd.NewID, fmt.Sprintf("Error: file '%s' has mixed indentation", path))
		}
	}
	return v, nil
}

// HasMixedIndentation reports whether one line of content starts with a tab
// and another with a space.
func HasMixedIndentation(content []byte) bool {
	var tab, space bool
	for _, line := range bytes.Split(content, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, []byte("\t")):
			tab = true
		case bytes.HasPrefix(line, []byte(" ")):
			space = true
		}
		if tab && space {
			return true
		}
	}
	return false
}
