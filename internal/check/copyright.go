package check

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/model"
)

type copyrightPair struct {
	Start string `yaml:"start"`
	Full  string `yaml:"full"`
}

type compiledCopyright struct {
	start, full *regexp.Regexp
	template    string
}

// copyright requires every changed file that contains the start of a
// copyright notice to contain the complete notice. %Y in either pattern is
// the current year.
type copyright struct {
	env   Env
	pairs []compiledCopyright
}

func newCopyright(env Env, spec config.HookSpec) (Check, error) {
	var pairs []copyrightPair
	if err := spec.Decode(&pairs); err != nil {
		return nil, err
	}
	year := strconv.Itoa(env.now().Year())

	c := &copyright{env: env}
	for i, p := range pairs {
		if p.Start == "" || p.Full == "" {
			return nil, apperr.Configuration("%s: entry %d needs both 'start' and 'full'", spec.Name, i)
		}
		start := strings.ReplaceAll(p.Start, "%Y", year)
		full := strings.ReplaceAll(p.Full, "%Y", year)
		startRe, err := regexp.Compile(start)
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeConfiguration, "%s: start pattern %q does not compile", spec.Name, start)
		}
		fullRe, err := regexp.Compile(full)
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeConfiguration, "%s: full pattern %q does not compile", spec.Name, full)
		}
		c.pairs = append(c.pairs, compiledCopyright{start: startRe, full: fullRe, template: full})
	}
	return c, nil
}

func (c *copyright) Name() string { return "copyright" }

func (c *copyright) Check(ctx context.Context, upd model.RefUpdate) (model.Verdict, error) {
	if len(c.pairs) == 0 || upd.IsDelete() {
		return model.Permit(), nil
	}

	commits, err := c.env.Repo.CommitsIntroducedBy(ctx, upd)
	if err != nil {
		return model.Verdict{}, err
	}

	v := model.Permit()
	for _, commit := range commits {
		files, err := c.env.Repo.FilesChangedIn(ctx, commit.ID)
		if err != nil {
			return model.Verdict{}, err
		}
		for _, f := range files {
			if f.Status == model.StatusDeleted {
				continue
			}
			content, err := c.env.Repo.BlobContents(ctx, f.NewBlob)
			if err != nil {
				return model.Verdict{}, err
			}
			ok := c.good(content)
			c.env.Log.Debug().Str("commit", short(commit.ID)).Str("path", f.Path).Bool("permit", ok).Msg("copyright")
			if !ok {
				v.Permit = false
				v.Add(commit.ID, fmt.Sprintf("Error: Bad copyright in file '%s'!", f.Path))
			}
		}
	}

	if !v.Permit {
		templates := make([]string, len(c.pairs))
		for i, p := range c.pairs {
			templates[i] = p.template
		}
		v.Add(upd.NewID, "Please update the copyright strings to match one of the following:\n\n\t- "+
			strings.Join(templates, "\n\t- ")+"\n")
	}
	return v, nil
}

// good reports whether every notice that starts in content is complete.
func (c *copyright) good(content []byte) bool {
	for _, p := range c.pairs {
		if p.start.Match(content) && !p.full.Match(content) {
			return false
		}
	}
	return true
}
