package check

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/diff"
	"github.com/sprite-ai/refgate/internal/mail"
	"github.com/sprite-ai/refgate/internal/model"
)

const notifyMessageLimit = 100

// notifySettings are optional. Refs limits notifications to matching refs;
// ExcerptLines, when positive, adds a highlighted patch excerpt of each
// owned file to the mail.
type notifySettings struct {
	Refs         []string `yaml:"refs"`
	ExcerptLines int      `yaml:"excerpt_lines"`
}

// notify mails the owners of changed files, as declared by the "owners"
// attribute (comma separated addresses) in .gitattributes. Owners pushing
// their own files are not notified. It never denies.
type notify struct {
	env      Env
	sender   mail.Sender
	refs     []*regexp.Regexp
	excerpts int
}

// ownedChange is one owned path changed by one commit.
type ownedChange struct {
	owner  string
	commit model.CommitRecord
	change model.FileChange
}

var notifyParams = []string{"base_url", "proj_key", "repo_name", "smtp_from"}

func newNotify(env Env, spec config.HookSpec) (Check, error) {
	var settings notifySettings
	if spec.Settings.Kind == yaml.SequenceNode {
		if err := spec.Decode(&settings.Refs); err != nil {
			return nil, err
		}
	} else if err := spec.Decode(&settings); err != nil {
		return nil, err
	}
	if err := env.Params.Require(spec.Name, notifyParams...); err != nil {
		return nil, err
	}

	c := &notify{env: env, excerpts: settings.ExcerptLines}
	for _, p := range settings.Refs {
		re, err := anchored(p)
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeConfiguration, "%s: ref pattern %q does not compile", spec.Name, p)
		}
		c.refs = append(c.refs, re)
	}
	sender, err := env.mailer()
	if err != nil {
		return nil, err
	}
	c.sender = sender
	return c, nil
}

func (c *notify) Name() string { return "notify" }

func (c *notify) Check(ctx context.Context, upd model.RefUpdate) (model.Verdict, error) {
	if upd.IsDelete() || !c.wants(upd.Ref) {
		return model.Permit(), nil
	}

	bodies, err := c.compose(ctx, upd)
	if err != nil {
		return model.Verdict{}, err
	}
	if len(bodies) == 0 {
		return model.Permit(), nil
	}

	p := c.env.Params
	batch := mail.Batch{
		From:    p.Get("smtp_from"),
		Subject: fmt.Sprintf("%s/%s - Hook notify: Files you own were modified", p.Get("proj_key"), p.Get("repo_name")),
		Bodies:  bodies,
	}
	if err := c.sender.Send(ctx, batch); err != nil {
		c.env.Log.Warn().Err(err).Strs("to", batch.Recipients()).Msg("could not send owner notification")
	}
	return model.Permit(), nil
}

func (c *notify) wants(ref string) bool {
	if len(c.refs) == 0 {
		return true
	}
	for _, re := range c.refs {
		if re.MatchString(ref) {
			return true
		}
	}
	return false
}

// owned lists every owned path changed by the commits of upd, in commit
// order, skipping owners who are the pusher.
func (c *notify) owned(ctx context.Context, upd model.RefUpdate) ([]ownedChange, error) {
	commits, err := c.env.Repo.CommitsExclusiveTo(ctx, upd)
	if err != nil {
		return nil, err
	}
	pusher := c.env.Pusher()

	var owned []ownedChange
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
		for _, ch := range changes {
			for _, owner := range splitOwners(attrs[ch.Path]) {
				if isPusher(owner, pusher) {
					c.env.Log.Debug().Str("owner", owner).Str("path", ch.Path).Msg("pusher owns the file, skip")
					continue
				}
				owned = append(owned, ownedChange{owner: owner, commit: commit, change: ch})
			}
		}
	}
	return owned, nil
}

// compose builds one mail body per owner: the owner's changed files grouped
// by commit.
func (c *notify) compose(ctx context.Context, upd model.RefUpdate) (map[string]string, error) {
	owned, err := c.owned(ctx, upd)
	if err != nil {
		return nil, err
	}

	var owners []string
	byOwner := map[string][]ownedChange{}
	for _, o := range owned {
		if _, ok := byOwner[o.owner]; !ok {
			owners = append(owners, o.owner)
		}
		byOwner[o.owner] = append(byOwner[o.owner], o)
	}

	patches := map[string]*diff.DiffSet{}
	bodies := make(map[string]string, len(owners))
	for _, owner := range owners {
		var b strings.Builder
		fmt.Fprintf(&b, "<b>Branch:</b> %s\n", html.EscapeString(upd.BranchName()))
		fmt.Fprintf(&b, "<b>By user:</b> %s\n\n", html.EscapeString(c.env.Pusher()))

		changes := byOwner[owner]
		for i := 0; i < len(changes); {
			commit := changes[i].commit
			writeCommitHeader(&b, c.env.Params, commit)

			msg := []rune(commit.Message)
			cut := len(msg) > notifyMessageLimit
			if cut {
				msg = msg[:notifyMessageLimit]
			}
			b.WriteString(indent(wrap(html.EscapeString(string(msg)), 70), "\t"))
			if cut {
				b.WriteString("...")
			}
			b.WriteString("\n\n")

			j := i
			for ; j < len(changes) && changes[j].commit.ID == commit.ID; j++ {
				fmt.Fprintf(&b, "\t%s  %s\n", changes[j].change.Status, html.EscapeString(changes[j].change.Path))
			}
			b.WriteString("\n\n")

			if c.excerpts > 0 {
				if err := c.writeExcerpts(ctx, &b, patches, changes[i:j]); err != nil {
					return nil, err
				}
			}
			i = j
		}
		bodies[owner] = b.String()
	}
	return bodies, nil
}

// writeExcerpts appends the highlighted patch of each change, reusing
// parsed commit patches across owners.
func (c *notify) writeExcerpts(ctx context.Context, b *strings.Builder, patches map[string]*diff.DiffSet, changes []ownedChange) error {
	commitID := changes[0].commit.ID
	ds, ok := patches[commitID]
	if !ok {
		raw, err := c.env.Repo.CommitPatch(ctx, commitID)
		if err != nil {
			return err
		}
		if ds, err = diff.Parse(raw); err != nil {
			c.env.Log.Warn().Err(err).Str("commit", short(commitID)).Msg("could not parse patch, no excerpts")
			ds = &diff.DiffSet{}
		}
		patches[commitID] = ds
	}
	for _, ch := range changes {
		f := ds.File(ch.change.Path)
		if f == nil || f.IsBinary {
			continue
		}
		text, cut := f.Excerpt(c.excerpts)
		fmt.Fprintf(b, "<b>%s</b>\n", html.EscapeString(ch.change.Path))
		b.WriteString(diff.HighlightHTML("diff", text))
		if cut {
			b.WriteString("...\n")
		}
		b.WriteString("\n")
	}
	return nil
}

func splitOwners(attr string) []string {
	if attr == "" || attr == "unspecified" || attr == "unset" || attr == "set" {
		return nil
	}
	var owners []string
	for _, o := range strings.Split(attr, ",") {
		if o = strings.TrimSpace(o); o != "" {
			owners = append(owners, o)
		}
	}
	return owners
}

// isPusher reports whether owner, an address or a bare name, denotes pusher.
func isPusher(owner, pusher string) bool {
	if pusher == "" {
		return false
	}
	if strings.EqualFold(owner, pusher) {
		return true
	}
	local, _, ok := strings.Cut(owner, "@")
	return ok && strings.EqualFold(local, pusher)
}
