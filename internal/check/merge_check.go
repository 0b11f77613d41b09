package check

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/hostapi"
	"github.com/sprite-ai/refgate/internal/model"
)

const mergeCheckWidth = 80

// mergeCheck requires the owners of changed files (the "owners" attribute)
// to have approved the pull request being merged. The pusher's own approval
// is never required, but co-owners of the same file still have to approve. Owners that are not users of the code host, such as
// mailing lists, are ignored.
type mergeCheck struct {
	env Env
	api PullRequests
}

var mergeCheckParams = []string{"base_url", "proj_key", "repo_name", "pull_id", "pusher", "user_name", "user_passwd"}

func newMergeCheck(env Env, spec config.HookSpec) (Check, error) {
	if err := env.Params.Require(spec.Name, mergeCheckParams...); err != nil {
		return nil, err
	}
	if env.HostAPI == nil {
		return nil, apperr.Configuration("%s: no code host client configured", spec.Name)
	}
	api, err := env.HostAPI(env.Params)
	if err != nil {
		return nil, err
	}
	return &mergeCheck{env: env, api: api}, nil
}

func (c *mergeCheck) Name() string { return "merge_check" }

// unapproved is an owned path still waiting for its owner.
type unapproved struct {
	commit, owner, path string
}

func (c *mergeCheck) Check(ctx context.Context, upd model.RefUpdate) (model.Verdict, error) {
	if upd.IsDelete() {
		return model.Permit(), nil
	}
	p := c.env.Params

	pr, err := c.api.PullRequest(ctx, p.Get("proj_key"), p.Get("repo_name"), p.Get("pull_id"))
	if err != nil {
		c.env.Log.Error().Err(err).Msg("failed to fetch pull request")
		return model.Verdict{}, err
	}
	approved := map[string]bool{}
	for _, email := range pr.ApprovedReviewers() {
		approved[email] = true
	}
	c.env.Log.Debug().Strs("approved", pr.ApprovedReviewers()).Msg("pull request reviewers")

	missing, err := c.unapproved(ctx, upd, approved)
	if err != nil {
		return model.Verdict{}, err
	}
	if len(missing) == 0 {
		c.env.Log.Debug().Msg("all approved or no approval required")
		return model.Permit(), nil
	}
	return model.Deny(upd.NewID, approvalReport(missing)), nil
}

func (c *mergeCheck) unapproved(ctx context.Context, upd model.RefUpdate, approved map[string]bool) ([]unapproved, error) {
	commits, err := c.env.Repo.CommitsExclusiveTo(ctx, upd)
	if err != nil {
		return nil, err
	}
	pusher := c.env.Params.Get("pusher")
	known := map[string]bool{}

	var missing []unapproved
	for _, commit := range commits {
		changes, err := c.env.Repo.FilesChangedIn(ctx, commit.ID)
		if err != nil {
			return nil, err
		}
		if len(changes) == 0 {
			continue
		}
		paths := make([]string, len(changes))
		for i, ch := range changes {
			paths[i] = ch.Path
		}
		attrs, err := c.env.Repo.PathAttributes(ctx, upd.NewID, "owners", paths...)
		if err != nil {
			return nil, err
		}

		for _, path := range paths {
			for _, owner := range splitOwners(attrs[path]) {
				if isPusher(owner, pusher) {
					continue
				}
				isUser, err := c.isUser(ctx, owner, known)
				if err != nil {
					return nil, err
				}
				if isUser && !approved[owner] {
					missing = append(missing, unapproved{commit: commit.ID, owner: owner, path: path})
				}
			}
		}
	}
	return missing, nil
}

// isUser reports whether owner is a code host user, caching answers in
// known. Only a "not found" answer makes an owner a non-user; any other
// lookup failure is returned.
func (c *mergeCheck) isUser(ctx context.Context, owner string, known map[string]bool) (bool, error) {
	if v, ok := known[owner]; ok {
		return v, nil
	}
	slug, _, _ := strings.Cut(owner, "@")
	_, err := c.api.User(ctx, slug)
	switch {
	case err == nil:
		known[owner] = true
	case errors.Is(err, hostapi.ErrNotFound):
		c.env.Log.Debug().Str("owner", owner).Msg("not a user, skip")
		known[owner] = false
	default:
		c.env.Log.Error().Err(err).Str("owner", owner).Msg("failed to fetch user")
		return false, err
	}
	return known[owner], nil
}

// approvalReport explains which owners still have to approve which files.
func approvalReport(missing []unapproved) string {
	ownerSet := map[string]bool{}
	byPath := map[string]map[string]bool{}
	for _, m := range missing {
		ownerSet[m.owner] = true
		if byPath[m.path] == nil {
			byPath[m.path] = map[string]bool{}
		}
		byPath[m.path][m.owner] = true
	}

	var lines []string
	lines = append(lines, wrap(fmt.Sprintf("This pull request must be approved by %s!", joinList(sortedSet(ownerSet), "and")), mergeCheckWidth)...)
	lines = append(lines, wrap("Changes to the following files must be approved by their owners as specified in .gitattributes. "+
		"Please add those people to the pull request reviewers if you haven't done so and wait for them to approve.", mergeCheckWidth)...)
	lines = append(lines, "", "List of files that require approval:")

	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		lines = append(lines, wrap(fmt.Sprintf("%s by %s", p, joinList(sortedSet(byPath[p]), "or")), mergeCheckWidth)...)
	}
	return strings.Join(lines, "\n")
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// joinList joins items as "a, b and c".
func joinList(items []string, conj string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " " + conj + " " + items[len(items)-1]
}
