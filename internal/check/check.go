// Package check defines the policy check contract, the registry that builds
// checks from the hook configuration, and every built-in check.
package check

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/rs/zerolog"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/hostapi"
	"github.com/sprite-ai/refgate/internal/mail"
	"github.com/sprite-ai/refgate/internal/model"
)

// Check evaluates one ref update.
type Check interface {
	Name() string
	Check(ctx context.Context, upd model.RefUpdate) (model.Verdict, error)
}

// Inspector is the repository view checks consume. *repo.Repo implements it.
type Inspector interface {
	CommitsExclusiveTo(ctx context.Context, upd model.RefUpdate) ([]model.CommitRecord, error)
	CommitsIntroducedBy(ctx context.Context, upd model.RefUpdate) ([]model.CommitRecord, error)
	FilesChangedIn(ctx context.Context, commitID string, exts ...string) ([]model.FileChange, error)
	FilesChangedBetween(ctx context.Context, oldID, newID string, exts ...string) (map[string]string, error)
	PathAttributes(ctx context.Context, commitID, attr string, paths ...string) (map[string]string, error)
	BlobContents(ctx context.Context, blobID string) ([]byte, error)
	IsFastForward(ctx context.Context, oldID, newID string) (bool, error)
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
	BranchesContaining(ctx context.Context, commitID string) ([]string, error)
	CommitPatch(ctx context.Context, commitID string) (string, error)
}

// PullRequests is the part of the code host API the approval gate needs.
type PullRequests interface {
	PullRequest(ctx context.Context, project, repo, id string) (*hostapi.PullRequest, error)
	User(ctx context.Context, slug string) (*hostapi.User, error)
}

// Env is everything a check may depend on. It is assembled once by the
// caller; the loader hands each check a copy carrying that check's
// parameters.
type Env struct {
	Repo   Inspector
	Params config.Params
	Log    zerolog.Logger

	// Mailer builds the notification sender for a check's parameters.
	Mailer mail.Factory
	// HostAPI builds a code host client for a check's parameters.
	HostAPI func(config.Params) (PullRequests, error)
	// Now is the clock, time.Now when nil.
	Now func() time.Time
}

// Pusher is the identity of the user performing the push.
func (e Env) Pusher() string {
	if p := e.Params.Get("pusher"); p != "" {
		return p
	}
	return e.Params.Get("user_name")
}

func (e Env) mailer() (mail.Sender, error) {
	if e.Mailer == nil {
		return nil, apperr.Configuration("no mail transport configured")
	}
	return e.Mailer(e.Params)
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// anchored compiles pattern so that it must match at the start of the
// input, the way rules have always been written.
func anchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + pattern + `)`)
}

// wrap folds text to width columns, breaking on spaces.
func wrap(text string, width int) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}
	return strings.Split(ansi.Wordwrap(text, width, ""), "\n")
}

// indent prefixes every line of lines with prefix and joins them.
func indent(lines []string, prefix string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(prefix)
		b.WriteString(l)
	}
	return b.String()
}

// gitDate formats t the way git log prints author dates by default.
func gitDate(t time.Time) string {
	return t.Format("Mon Jan 2 15:04:05 2006 -0700")
}

func short(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
