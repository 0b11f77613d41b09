package check

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/model"
)

func TestDenyNonFF(t *testing.T) {
	repo := &fakeRepo{nonFF: true}
	te := newEnv(repo, config.Params{})
	c := te.build(t, "deny_non_ff: [\"refs/heads/master\", \"refs/heads/release/\"]\n")

	v := run(t, c, update("refs/heads/master", id("b"), id("a")))
	assert.False(t, v.Permit)
	assert.Equal(t, []model.Message{{At: id("a"), Text: NonFFMessage}}, v.Messages)
	assert.True(t, strings.HasPrefix(NonFFMessage, "Cannot push a non-fast-forward reference\n"))

	v = run(t, c, update("refs/heads/release/2.0", id("b"), id("a")))
	assert.False(t, v.Permit)

	v = run(t, c, update("refs/heads/topic", id("b"), id("a")))
	assert.True(t, v.Permit, "unguarded ref")

	v = run(t, c, update("refs/heads/master", id("b"), model.NullID))
	assert.True(t, v.Permit, "deletion")

	repo.nonFF = false
	v = run(t, c, update("refs/heads/master", id("b"), id("a")))
	assert.True(t, v.Permit)
}

func TestDenyNonFFBadPattern(t *testing.T) {
	te := newEnv(&fakeRepo{}, config.Params{})
	_, err := newDenyNonFF(te.Env, hook(t, "deny_non_ff: [\"refs/(heads\"]\n"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConfiguration))
}

func TestCheckErrorsPropagate(t *testing.T) {
	boom := errors.New("git died")
	te := newEnv(&fakeRepo{nonFF: true, err: boom}, config.Params{})
	c := te.build(t, "deny_non_ff: [\".*\"]\n")
	_, err := c.Check(context.Background(), update("refs/heads/master", id("b"), id("a")))
	assert.ErrorIs(t, err, boom)
}

func TestCopyright(t *testing.T) {
	c1 := commit(id("1"), "add files")
	repo := &fakeRepo{
		exclusive: []model.CommitRecord{c1},
		files: map[string][]model.FileChange{c1.ID: {
			{Path: "good.c", Status: model.StatusAdded, NewBlob: id("c")},
			{Path: "bad.c", Status: model.StatusModified, NewBlob: id("d")},
			{Path: "plain.txt", Status: model.StatusModified, NewBlob: id("e")},
			{Path: "gone.c", Status: model.StatusDeleted, NewBlob: model.NullID},
		}},
		blobs: map[string]string{
			id("c"): "/* Copyright (c) 2024 Example Corp. All rights reserved. */\n",
			id("d"): "/* Copyright (c) 2019 Example Corp. All rights reserved. */\n",
			id("e"): "no notice here\n",
		},
	}
	te := newEnv(repo, config.Params{})
	c := te.build(t, `copyright:
  - start: "Copyright \\(c\\)"
    full: "Copyright \\(c\\) %Y Example Corp\\. All rights reserved\\."
`)

	v := run(t, c, update("refs/heads/master", id("b"), id("a")))
	assert.False(t, v.Permit)
	require.Len(t, v.Messages, 2)
	assert.Equal(t, model.Message{At: c1.ID, Text: "Error: Bad copyright in file 'bad.c'!"}, v.Messages[0])
	assert.Equal(t, id("a"), v.Messages[1].At)
	assert.Equal(t, "Please update the copyright strings to match one of the following:\n\n\t- Copyright \\(c\\) 2024 Example Corp\\. All rights reserved\\.\n",
		v.Messages[1].Text)
}

func TestCopyrightIncompleteEntry(t *testing.T) {
	te := newEnv(&fakeRepo{}, config.Params{})
	_, err := newCopyright(te.Env, hook(t, "copyright:\n  - start: x\n"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConfiguration))
}

func TestLineEndings(t *testing.T) {
	repo := &fakeRepo{
		between: map[string]string{
			"mixed.txt":  id("1"),
			"crlf.txt":   id("2"),
			"normal.txt": id("3"),
			"auto.txt":   id("1"),
			"logo.png":   id("4"),
		},
		attrs: map[string]map[string]string{"text": {"auto.txt": "auto"}},
		blobs: map[string]string{
			id("1"): "one\r\ntwo\nthree\r\n",
			id("2"): "one\r\ntwo\r\n",
			id("3"): "one\ntwo\n",
			id("4"): pngHeader,
		},
	}
	te := newEnv(repo, config.Params{})
	c := te.build(t, "line_endings:\n")

	v := run(t, c, update("refs/heads/master", id("b"), id("a")))
	assert.False(t, v.Permit)
	assert.Equal(t, []model.Message{{At: id("a"), Text: "Error: file 'mixed.txt' has mixed line endings (CRLF/LF)"}}, v.Messages)
}

// pngHeader is the signature and IHDR chunk of a 1x1 PNG. The signature
// holds both CRLF and a bare LF.
const pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00"

func TestIsBinary(t *testing.T) {
	assert.True(t, IsBinary([]byte(pngHeader)))
	assert.True(t, HasMixedLineEndings([]byte(pngHeader)))
	assert.False(t, IsBinary([]byte("one\r\ntwo\n")))
	assert.False(t, IsBinary(nil))
	late := append([]byte(strings.Repeat("a", binarySniffLen)), 0)
	assert.False(t, IsBinary(late), "only the first 8000 bytes are inspected")
}

func TestHasMixedLineEndings(t *testing.T) {
	assert.False(t, HasMixedLineEndings(nil))
	assert.False(t, HasMixedLineEndings([]byte("a\nb\n")))
	assert.False(t, HasMixedLineEndings([]byte("a\r\nb\r\n")))
	assert.True(t, HasMixedLineEndings([]byte("a\r\nb\n")))
	assert.False(t, HasMixedLineEndings([]byte("a\rb\n")), "bare CR is not CRLF")
}

func TestPyIndent(t *testing.T) {
	repo := &fakeRepo{
		between: map[string]string{
			"mixed.py":  id("1"),
			"tabs.py":   id("2"),
			"notes.txt": id("1"),
		},
		blobs: map[string]string{
			id("1"): "def f():\n\treturn 1\n\ndef g():\n    return 2\n",
			id("2"): "def f():\n\treturn 1\n",
		},
	}
	te := newEnv(repo, config.Params{})

	v := run(t, te.build(t, "py_indent:\n"), update("refs/heads/master", id("b"), id("a")))
	assert.Equal(t, []string{"Error: file 'mixed.py' has mixed indentation"}, texts(v))

	v = run(t, te.build(t, "py_indent: [\".py\", \".txt\"]\n"), update("refs/heads/master", id("b"), id("a")))
	assert.Equal(t, []string{
		"Error: file 'mixed.py' has mixed indentation",
		"Error: file 'notes.txt' has mixed indentation",
	}, texts(v))
}

func TestRejectMerge(t *testing.T) {
	p1, p2 := id("1"), id("2")
	merge := commit(id("e"), "Merge branch 'master' of server into master", p1, p2)
	upd := update("refs/heads/master", id("f"), id("e"))

	t.Run("same branch merge", func(t *testing.T) {
		repo := &fakeRepo{
			introduced: []model.CommitRecord{merge},
			branches:   map[string][]string{p2: {"master"}},
		}
		te := newEnv(repo, config.Params{})
		v := run(t, te.build(t, "rejectmerge:\n"), upd)
		assert.False(t, v.Permit)
		require.Len(t, v.Messages, 1)
		assert.Equal(t, merge.ID, v.Messages[0].At)
		text := v.Messages[0].Text
		assert.True(t, strings.HasPrefix(text, "Merging a remote branch onto a local branch is prohibited"))
		assert.Contains(t, text, "\tcommit "+merge.ID)
		assert.Contains(t, text, "\tMerge: 1111111 2222222")
		assert.Contains(t, text, "\tAuthor: Karl Tester <karl@example.com>")
		assert.Contains(t, text, "\tgit pull --rebase origin master")
	})

	t.Run("first parent already on the branch", func(t *testing.T) {
		repo := &fakeRepo{
			introduced: []model.CommitRecord{merge},
			branches:   map[string][]string{p2: {"master"}},
			ancestors:  map[string]bool{p1 + " " + id("f"): true},
		}
		te := newEnv(repo, config.Params{})
		assert.True(t, run(t, te.build(t, "rejectmerge:\n"), upd).Permit)
	})

	t.Run("merge of another branch", func(t *testing.T) {
		repo := &fakeRepo{
			introduced: []model.CommitRecord{merge},
			branches:   map[string][]string{p1: {"master"}, p2: {"feature"}},
		}
		te := newEnv(repo, config.Params{})
		assert.True(t, run(t, te.build(t, "rejectmerge:\n"), upd).Permit)
	})

	t.Run("no merges", func(t *testing.T) {
		repo := &fakeRepo{introduced: []model.CommitRecord{commit(id("c"), "plain", p1)}}
		te := newEnv(repo, config.Params{})
		assert.True(t, run(t, te.build(t, "rejectmerge:\n"), upd).Permit)
	})
}
