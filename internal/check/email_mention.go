package check

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/mail"
	"github.com/sprite-ai/refgate/internal/model"
)

// mentionPattern finds @username tokens. The @ must start the text or
// follow a non-word character, so plain email addresses do not count, and
// a trailing dot is not part of the name.
var mentionPattern = regexp.MustCompile(`(?:\W+|^)@(\w[\w.]*\w|\w)`)

// Mentions returns the usernames mentioned in text, in order, without
// duplicates.
func Mentions(text string) []string {
	var users []string
	seen := map[string]bool{}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			users = append(users, m[1])
		}
	}
	return users
}

// emailMention mails users mentioned in commit messages at
// <user>@<email_domain>. It never denies; mail failures are logged.
type emailMention struct {
	env    Env
	sender mail.Sender
}

var emailMentionParams = []string{"user_name", "base_url", "proj_key", "repo_name", "smtp_from", "email_domain"}

func newEmailMention(env Env, spec config.HookSpec) (Check, error) {
	if err := env.Params.Require(spec.Name, emailMentionParams...); err != nil {
		return nil, err
	}
	sender, err := env.mailer()
	if err != nil {
		return nil, err
	}
	return &emailMention{env: env, sender: sender}, nil
}

func (c *emailMention) Name() string { return "email_mention" }

func (c *emailMention) Check(ctx context.Context, upd model.RefUpdate) (model.Verdict, error) {
	if upd.IsDelete() {
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
		Subject: fmt.Sprintf("%s/%s - Hook email-mention: You were mentioned in a commit message", p.Get("proj_key"), p.Get("repo_name")),
		Bodies:  bodies,
	}
	if err := c.sender.Send(ctx, batch); err != nil {
		c.env.Log.Warn().Err(err).Strs("to", batch.Recipients()).Msg("could not send mention mail")
	}
	return model.Permit(), nil
}

// compose builds one mail body per mentioned user.
func (c *emailMention) compose(ctx context.Context, upd model.RefUpdate) (map[string]string, error) {
	commits, err := c.env.Repo.CommitsExclusiveTo(ctx, upd)
	if err != nil {
		return nil, err
	}

	byUser := map[string][]model.CommitRecord{}
	for _, commit := range commits {
		for _, user := range Mentions(commit.Message) {
			byUser[user] = append(byUser[user], commit)
		}
	}
	if len(byUser) == 0 {
		return nil, nil
	}

	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Strings(users)

	p := c.env.Params
	bodies := make(map[string]string, len(users))
	for _, user := range users {
		var b strings.Builder
		fmt.Fprintf(&b, "<b>Branch:</b> %s\n", html.EscapeString(upd.BranchName()))
		fmt.Fprintf(&b, "<b>By user:</b> %s\n\n", html.EscapeString(c.env.Pusher()))
		for _, commit := range byUser[user] {
			writeCommitHeader(&b, p, commit)
			b.WriteString(indent(wrap(html.EscapeString(commit.Message), 70), "\t"))
			b.WriteString("\n\n")
		}
		bodies[user+"@"+p.Get("email_domain")] = b.String()
	}
	return bodies, nil
}

// writeCommitHeader writes the commit id with a link to the code host, the
// author and the date.
func writeCommitHeader(b *strings.Builder, p config.Params, commit model.CommitRecord) {
	link := fmt.Sprintf("%s/projects/%s/repos/%s/commits/%s",
		strings.TrimRight(p.Get("base_url"), "/"), p.Get("proj_key"), p.Get("repo_name"), commit.ID)
	fmt.Fprintf(b, "Commit: %s (<a href=\"%s\">View in Stash</a>)\n", commit.ID, html.EscapeString(link))
	fmt.Fprintf(b, "Author: %s %s\n", html.EscapeString(commit.AuthorName), html.EscapeString(commit.AuthorEmail))
	fmt.Fprintf(b, "Date: %s\n\n", gitDate(commit.AuthoredAt))
}
