package check

import (
	"context"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/model"
)

// Deletion handling for restrict_branches.
const (
	// DeletionsGate evaluates a deletion against the rules as an update.
	DeletionsGate = "gate"
	// DeletionsPermit admits every deletion without consulting the rules.
	DeletionsPermit = "permit"
)

// aclRule is one validated branch rule.
type aclRule struct {
	allow  bool
	create bool
	branch *regexp.Regexp
	user   *regexp.Regexp
}

// restrictBranches is a branch ACL. Rules are applied top to bottom and the
// last one matching the branch, the pusher and the kind of update decides.
// Nothing matching means deny.
//
// Settings are either a list of rules
//
//	[{"policy": "allow", "type": "create", "branch": "feature/", "user": ".*"}]
//
// or a mapping {"rules": [...], "deletions": "gate" | "permit"}.
type restrictBranches struct {
	env       Env
	rules     []aclRule
	deletions string
}

type restrictSettings struct {
	Rules     []yaml.Node `yaml:"rules"`
	Deletions string      `yaml:"deletions"`
}

func newRestrictBranches(env Env, spec config.HookSpec) (Check, error) {
	var settings restrictSettings
	switch spec.Settings.Kind {
	case yaml.MappingNode:
		if err := spec.Decode(&settings); err != nil {
			return nil, err
		}
	default:
		if err := spec.Decode(&settings.Rules); err != nil {
			return nil, err
		}
	}

	c := &restrictBranches{env: env, deletions: settings.Deletions}
	switch c.deletions {
	case "":
		c.deletions = DeletionsGate
	case DeletionsGate, DeletionsPermit:
	default:
		return nil, apperr.Configuration("%s: 'deletions' must be '%s' or '%s', got '%s'",
			spec.Name, DeletionsGate, DeletionsPermit, settings.Deletions)
	}

	for i, node := range settings.Rules {
		rule, err := parseRule(node)
		if err != nil {
			env.Log.Warn().Err(err).Int("rule", i).Int("line", node.Line).Msg("skipping malformed rule")
			continue
		}
		c.rules = append(c.rules, rule)
	}
	return c, nil
}

// parseRule validates one rule. Problems are returned as malformed rule
// errors; the caller skips the rule.
func parseRule(node yaml.Node) (aclRule, error) {
	var raw map[string]string
	if err := node.Decode(&raw); err != nil {
		return aclRule{}, apperr.Wrap(err, apperr.CodeMalformedRule, "rule is not a mapping of strings")
	}

	var rule aclRule
	switch policy, ok := raw["policy"]; {
	case !ok:
		return rule, apperr.New(apperr.CodeMalformedRule, "'policy' not in rule")
	case policy == "allow":
		rule.allow = true
	case policy == "deny":
	default:
		return rule, apperr.Newf(apperr.CodeMalformedRule, "'policy' set to '%s'; must be either 'allow' or 'deny'", policy)
	}

	switch typ, ok := raw["type"]; {
	case !ok:
		return rule, apperr.New(apperr.CodeMalformedRule, "'type' not in rule")
	case typ == "create":
		rule.create = true
	case typ == "update":
	default:
		return rule, apperr.Newf(apperr.CodeMalformedRule, "'type' set to '%s'; must be either 'create' or 'update'", typ)
	}

	branch, ok := raw["branch"]
	if !ok {
		return rule, apperr.New(apperr.CodeMalformedRule, "'branch' not in rule")
	}
	user, ok := raw["user"]
	if !ok {
		if user, ok = raw["pusher"]; !ok {
			return rule, apperr.New(apperr.CodeMalformedRule, "'user' not in rule")
		}
	}

	var err error
	if rule.branch, err = anchored(branch); err != nil {
		return rule, apperr.Wrapf(err, apperr.CodeMalformedRule, "branch regexp '%s' does not compile", branch)
	}
	if rule.user, err = anchored(user); err != nil {
		return rule, apperr.Wrapf(err, apperr.CodeMalformedRule, "user regexp '%s' does not compile", user)
	}
	return rule, nil
}

func (c *restrictBranches) Name() string { return "restrict_branches" }

func (c *restrictBranches) Check(_ context.Context, upd model.RefUpdate) (model.Verdict, error) {
	pusher := c.env.Pusher()
	log := c.env.Log.With().Str("ref", upd.Ref).Str("pusher", pusher).Logger()

	if upd.IsDelete() && c.deletions == DeletionsPermit {
		log.Debug().Msg("deleting the ref, permitted by settings")
		return model.Permit(), nil
	}

	create := upd.IsCreate()
	branch := upd.BranchName()

	permit := false
	for i, rule := range c.rules {
		if !rule.branch.MatchString(branch) {
			continue
		}
		if !rule.user.MatchString(pusher) {
			continue
		}
		if rule.create != create {
			continue
		}
		permit = rule.allow
		log.Debug().Int("rule", i).Bool("permit", permit).Msg("rule matched")
	}

	if permit {
		return model.Permit(), nil
	}
	action := "update"
	if create {
		action = "create"
	}
	return model.Deny(upd.Tip(), fmt.Sprintf("Error: You have no permission to %s %s", action, upd.Ref)), nil
}
