package check

import (
	"context"
	"regexp"
	"strings"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/model"
)

// NonFFMessage is reported when a guarded ref would lose history.
var NonFFMessage = strings.Join([]string{
	"Cannot push a non-fast-forward reference",
	"Updates were rejected because the tip of your current branch is behind",
	"its remote counterpart. Integrate the remote changes (e.g.",
	"'git pull ...') before pushing again.",
	"See the 'Note about fast-forwards' in 'git push --help' for details.",
}, "\n")

// denyNonFF rejects updates that rewrite the history of guarded refs.
// Settings: a list of regular expressions matched against the full ref name.
type denyNonFF struct {
	env  Env
	refs []*regexp.Regexp
}

func newDenyNonFF(env Env, spec config.HookSpec) (Check, error) {
	var patterns []string
	if err := spec.Decode(&patterns); err != nil {
		return nil, err
	}
	c := &denyNonFF{env: env}
	for _, p := range patterns {
		re, err := anchored(p)
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeConfiguration, "%s: ref pattern %q does not compile", spec.Name, p)
		}
		c.refs = append(c.refs, re)
	}
	return c, nil
}

func (c *denyNonFF) Name() string { return "deny_non_ff" }

func (c *denyNonFF) Check(ctx context.Context, upd model.RefUpdate) (model.Verdict, error) {
	log := c.env.Log.With().Str("ref", upd.Ref).Logger()
	if upd.IsDelete() {
		log.Debug().Msg("deleting the ref, skip")
		return model.Permit(), nil
	}

	for _, re := range c.refs {
		if !re.MatchString(upd.Ref) {
			continue
		}
		log.Debug().Str("pattern", re.String()).Msg("matched")
		ff, err := c.env.Repo.IsFastForward(ctx, upd.OldID, upd.NewID)
		if err != nil {
			return model.Verdict{}, err
		}
		log.Debug().Bool("fast_forward", ff).Msg("checked")
		if !ff {
			return model.Deny(upd.NewID, NonFFMessage), nil
		}
		break
	}
	return model.Permit(), nil
}
