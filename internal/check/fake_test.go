package check

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/hostapi"
	"github.com/sprite-ai/refgate/internal/mail"
	"github.com/sprite-ai/refgate/internal/model"
)

// fakeRepo is an in-memory Inspector.
type fakeRepo struct {
	exclusive  []model.CommitRecord
	introduced []model.CommitRecord
	files      map[string][]model.FileChange
	between    map[string]string
	attrs      map[string]map[string]string // attr -> path -> value
	blobs      map[string]string
	nonFF      bool
	ancestors  map[string]bool // "ancestor descendant"
	branches   map[string][]string
	patches    map[string]string
	err        error
}

func (f *fakeRepo) CommitsExclusiveTo(context.Context, model.RefUpdate) ([]model.CommitRecord, error) {
	return f.exclusive, f.err
}

func (f *fakeRepo) CommitsIntroducedBy(context.Context, model.RefUpdate) ([]model.CommitRecord, error) {
	if f.introduced == nil {
		return f.exclusive, f.err
	}
	return f.introduced, f.err
}

func (f *fakeRepo) FilesChangedIn(_ context.Context, commitID string, exts ...string) ([]model.FileChange, error) {
	var out []model.FileChange
	for _, ch := range f.files[commitID] {
		if matchesExt(ch.Path, exts) {
			out = append(out, ch)
		}
	}
	return out, f.err
}

func (f *fakeRepo) FilesChangedBetween(_ context.Context, _, _ string, exts ...string) (map[string]string, error) {
	out := map[string]string{}
	for p, blob := range f.between {
		if matchesExt(p, exts) {
			out[p] = blob
		}
	}
	return out, f.err
}

func (f *fakeRepo) PathAttributes(_ context.Context, _, attr string, paths ...string) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range paths {
		v, ok := f.attrs[attr][p]
		if !ok {
			v = "unspecified"
		}
		out[p] = v
	}
	return out, f.err
}

func (f *fakeRepo) BlobContents(_ context.Context, blobID string) ([]byte, error) {
	return []byte(f.blobs[blobID]), f.err
}

func (f *fakeRepo) IsFastForward(context.Context, string, string) (bool, error) {
	return !f.nonFF, f.err
}

func (f *fakeRepo) IsAncestor(_ context.Context, ancestor, descendant string) (bool, error) {
	return f.ancestors[ancestor+" "+descendant], f.err
}

func (f *fakeRepo) BranchesContaining(_ context.Context, commitID string) ([]string, error) {
	return f.branches[commitID], f.err
}

func (f *fakeRepo) CommitPatch(_ context.Context, commitID string) (string, error) {
	return f.patches[commitID], f.err
}

func matchesExt(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	for _, e := range exts {
		if filepath.Ext(path) == e {
			return true
		}
	}
	return false
}

// fakeHost serves canned pull requests and users.
type fakeHost struct {
	pr       *hostapi.PullRequest
	prErr    error
	users    map[string]bool
	userErr  error
	lookedUp []string
}

func (h *fakeHost) PullRequest(context.Context, string, string, string) (*hostapi.PullRequest, error) {
	return h.pr, h.prErr
}

func (h *fakeHost) User(_ context.Context, slug string) (*hostapi.User, error) {
	h.lookedUp = append(h.lookedUp, slug)
	if h.userErr != nil {
		return nil, h.userErr
	}
	if !h.users[slug] {
		return nil, hostapi.ErrNotFound
	}
	return &hostapi.User{Slug: slug, EmailAddress: slug + "@example.com"}, nil
}

func id(c string) string { return strings.Repeat(c, 40) }

func update(ref, oldID, newID string) model.RefUpdate {
	return model.RefUpdate{Ref: ref, OldID: oldID, NewID: newID}
}

func commit(sha, message string, parents ...string) model.CommitRecord {
	return model.CommitRecord{
		ID:          sha,
		Parents:     parents,
		AuthorName:  "Karl Tester",
		AuthorEmail: "karl@example.com",
		AuthoredAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Subject:     strings.SplitN(message, "\n", 2)[0],
		Message:     message,
	}
}

// hook parses a single-entry hook document.
func hook(t *testing.T, doc string) config.HookSpec {
	t.Helper()
	specs, err := config.ParseHooks([]byte(doc))
	require.NoError(t, err)
	require.Len(t, specs, 1)
	return specs[0]
}

type testEnv struct {
	Env
	repo *fakeRepo
	mail *mail.Recorder
	host *fakeHost
}

func newEnv(repo *fakeRepo, params config.Params) *testEnv {
	te := &testEnv{repo: repo, mail: &mail.Recorder{}, host: &fakeHost{}}
	te.Env = Env{
		Repo:    repo,
		Params:  params,
		Log:     zerolog.Nop(),
		Mailer:  te.mail.Factory(),
		HostAPI: func(config.Params) (PullRequests, error) { return te.host, nil },
		Now:     func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
	return te
}

// build constructs a registered check from a one-entry hook document.
func (te *testEnv) build(t *testing.T, doc string) Check {
	t.Helper()
	spec := hook(t, doc)
	c, err := registry[spec.Name](te.Env, spec)
	require.NoError(t, err)
	return c
}

func run(t *testing.T, c Check, upd model.RefUpdate) model.Verdict {
	t.Helper()
	v, err := c.Check(context.Background(), upd)
	require.NoError(t, err)
	return v
}

func texts(v model.Verdict) []string {
	out := make([]string, len(v.Messages))
	for i, m := range v.Messages {
		out[i] = m.Text
	}
	return out
}
