package check

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/model"
)

// lineEndings denies files that mix CRLF and bare LF line endings. Files
// with a "text" attribute are normalized by git and are not inspected, nor
// are binary files.
type lineEndings struct {
	env Env
}

func newLineEndings(env Env, _ config.HookSpec) (Check, error) {
	return &lineEndings{env: env}, nil
}

func (c *lineEndings) Name() string { return "line_endings" }

func (c *lineEndings) Check(ctx context.Context, upd model.RefUpdate) (model.Verdict, error) {
	if upd.IsDelete() {
		return model.Permit(), nil
	}

	files, err := c.env.Repo.FilesChangedBetween(ctx, upd.OldID, upd.NewID)
	if err != nil {
		return model.Verdict{}, err
	}
	paths := sortedKeys(files)
	if len(paths) == 0 {
		return model.Permit(), nil
	}

	attrs, err := c.env.Repo.PathAttributes(ctx, upd.NewID, "text", paths...)
	if err != nil {
		return model.Verdict{}, err
	}

	v := model.Permit()
	for _, path := range paths {
		if attrs[path] != "unspecified" {
			c.env.Log.Debug().Str("path", path).Str("text", attrs[path]).Msg("normalized by attributes, skip")
			continue
		}
		content, err := c.env.Repo.BlobContents(ctx, files[path])
		if err != nil {
			return model.Verdict{}, err
		}
		if IsBinary(content) {
			c.env.Log.Debug().Str("path", path).Msg("binary, skip")
			continue
		}
		mixed := HasMixedLineEndings(content)
		c.env.Log.Debug().Str("path", path).Bool("mixed", mixed).Msg("line endings")
		if mixed {
			v.Permit = false
			v.Add(upd.NewID, fmt.Sprintf("Error: file '%s' has mixed line endings (CRLF/LF)", path))
		}
	}
	return v, nil
}

// HasMixedLineEndings reports whether content has both CRLF and bare LF.
func HasMixedLineEndings(content []byte) bool {
	crlf := bytes.Count(content, []byte("\r\n"))
	if crlf == 0 {
		return false
	}
	return bytes.Count(content, []byte("\n")) > crlf
}

// binarySniffLen is how much of a blob git inspects to tell binary from text.
const binarySniffLen = 8000

// IsBinary reports whether content looks binary to git: a NUL byte within
// its first binarySniffLen bytes.
func IsBinary(content []byte) bool {
	if len(content) > binarySniffLen {
		content = content[:binarySniffLen]
	}
	return bytes.IndexByte(content, 0) >= 0
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
