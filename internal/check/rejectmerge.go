package check

import (
	"context"
	"fmt"
	"strings"

	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/model"
)

const rejectMergeWidth = 120

// rejectMerge denies merges whose parents all live on the branch being
// pushed, as produced by "git pull" without --rebase on a stale local
// branch. A merge is let through when its first parent is already part of
// the branch on the server, which is the direction a deliberate merge of
// that branch into itself would take.
type rejectMerge struct {
	env Env
}

func newRejectMerge(env Env, _ config.HookSpec) (Check, error) {
	return &rejectMerge{env: env}, nil
}

func (c *rejectMerge) Name() string { return "rejectmerge" }

func (c *rejectMerge) Check(ctx context.Context, upd model.RefUpdate) (model.Verdict, error) {
	if upd.IsDelete() {
		return model.Permit(), nil
	}

	commits, err := c.env.Repo.CommitsIntroducedBy(ctx, upd)
	if err != nil {
		return model.Verdict{}, err
	}

	branch := upd.BranchName()
	v := model.Permit()
	for _, commit := range commits {
		if !commit.IsMerge() {
			continue
		}
		log := c.env.Log.With().Str("commit", short(commit.ID)).Logger()
		log.Debug().Strs("parents", commit.Parents).Msg("found merge")

		branches := map[string]bool{}
		for _, parent := range commit.Parents {
			containing, err := c.env.Repo.BranchesContaining(ctx, parent)
			if err != nil {
				return model.Verdict{}, err
			}
			if len(containing) == 0 {
				branches[branch] = true
			}
			for _, b := range containing {
				branches[b] = true
			}
		}
		if len(branches) > 1 {
			continue
		}
		var merged string
		for b := range branches {
			merged = b
		}
		log.Debug().Str("branch", merged).Msg("all parents are on one branch")

		onTarget, err := c.env.Repo.IsAncestor(ctx, commit.Parents[0], upd.OldID)
		if err != nil {
			return model.Verdict{}, err
		}
		if onTarget {
			continue
		}

		v.Permit = false
		v.Add(commit.ID, sameBranchMergeText(commit, merged))
		log.Info().Msg("same-branch merge")
	}
	return v, nil
}

func sameBranchMergeText(commit model.CommitRecord, branch string) string {
	lines := []string{
		"Merging a remote branch onto a local branch is prohibited when updating the remote with that local branch.",
		"",
		"\tcommit " + commit.ID,
		fmt.Sprintf("\tMerge: %s %s", short(commit.Parents[0]), short(commit.Parents[1])),
		fmt.Sprintf("\tAuthor: %s <%s>", commit.AuthorName, commit.AuthorEmail),
		"\tDate:   " + gitDate(commit.AuthoredAt),
		"\t",
	}
	for _, l := range wrap(commit.Message, rejectMergeWidth) {
		lines = append(lines, "\t"+l)
	}
	lines = append(lines, "\t")
	lines = append(lines, wrap("You must remove this merge by updating your local branch properly. Please rebase on top of the remote branch:", rejectMergeWidth)...)
	lines = append(lines, "", "\tgit pull --rebase origin "+branch, "")
	return strings.Join(lines, "\n")
}
