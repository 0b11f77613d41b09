package check

import (
	"sort"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
)

// Factory builds a check from its environment and hook configuration entry.
// Settings are decoded and validated here, so a broken configuration fails
// before any update is evaluated.
type Factory func(env Env, spec config.HookSpec) (Check, error)

// registry maps the names used in hook configuration files to factories.
var registry = map[string]Factory{
	"deny_non_ff":       newDenyNonFF,
	"restrict_branches": newRestrictBranches,
	"copyright":         newCopyright,
	"line_endings":      newLineEndings,
	"py_indent":         newPyIndent,
	"rejectmerge":       newRejectMerge,
	"merge_check":       newMergeCheck,
	"email_mention":     newEmailMention,
	"notify":            newNotify,
	"pycheck":           newPyCheck,
	"pep8hook":          newPep8Hook,
}

// descriptions are shown by "refgate checks".
var descriptions = map[string]string{
	"deny_non_ff":       "deny non-fast-forward updates of matching refs",
	"restrict_branches": "allow or deny branch creation and updates per user",
	"copyright":         "require complete copyright strings in changed files",
	"line_endings":      "deny files mixing CRLF and LF line endings",
	"py_indent":         "deny Python files mixing tab and space indentation",
	"rejectmerge":       "deny merges of a branch into itself",
	"merge_check":       "require file owners to approve the pull request",
	"email_mention":     "mail users @mentioned in commit messages",
	"notify":            "mail file owners about changes to their files",
	"pycheck":           "run a style checker on touched Python lines",
	"pep8hook":          "pycheck using the ini_file style configuration",
}

// Names returns the registered check names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a one-line description of a registered check.
func Describe(name string) string {
	return descriptions[name]
}

// ParamSource yields the parameters for a named check. *config.Config
// implements it.
type ParamSource interface {
	ForCheck(name string) (config.Params, error)
}

// Load builds the checks named in specs, in order. Each check gets env with
// Params replaced by its merged parameters. The first failure aborts: an
// unknown name, undecodable settings or a missing parameter is a
// configuration error.
func Load(specs []config.HookSpec, params ParamSource, env Env) ([]Check, error) {
	checks := make([]Check, 0, len(specs))
	for _, spec := range specs {
		factory, ok := registry[spec.Name]
		if !ok {
			env.Log.Error().Str("check", spec.Name).Msg("unknown check")
			return nil, apperr.Configuration("could not load check '%s': no such check", spec.Name)
		}

		p, err := params.ForCheck(spec.Name)
		if err != nil {
			return nil, err
		}
		checkEnv := env
		checkEnv.Params = p
		checkEnv.Log = env.Log.With().Str("check", spec.Name).Logger()

		c, err := factory(checkEnv, spec)
		if err != nil {
			env.Log.Error().Err(err).Str("check", spec.Name).Msg("could not load check")
			if apperr.CodeOf(err) == "" {
				err = apperr.Wrapf(err, apperr.CodeConfiguration, "could not load check '%s'", spec.Name)
			}
			return nil, err
		}
		checkEnv.Log.Debug().Msg("loaded")
		checks = append(checks, c)
	}
	return checks, nil
}

// StaticParams is a ParamSource returning the same parameters for every
// check.
type StaticParams config.Params

// ForCheck implements ParamSource.
func (s StaticParams) ForCheck(string) (config.Params, error) {
	return config.Params(s).Merge(nil), nil
}
