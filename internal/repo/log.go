package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sprite-ai/refgate/internal/model"
)

// Field and record separators for the log format: ASCII unit and record
// separators never occur in names, emails or ids.
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

var logFormat = "--format=" + strings.Join([]string{"%H", "%P", "%an", "%ae", "%aI", "%B"}, "%x1f") + "%x1e"

// CommitsExclusiveTo returns the commits reachable from the update's new tip
// that no other ref in the repository reaches: the commits this push is the
// first to expose. Order is git log's (newest first).
func (r *Repo) CommitsExclusiveTo(ctx context.Context, upd model.RefUpdate) ([]model.CommitRecord, error) {
	if upd.IsDelete() {
		return nil, nil
	}
	refs, err := r.Refs(ctx)
	if err != nil {
		return nil, err
	}
	var others []string
	for _, ref := range refs {
		if ref != upd.Ref {
			others = append(others, ref)
		}
	}
	return r.log(ctx, upd, others)
}

// CommitsIntroducedBy returns the commits reachable from the new tip and not
// from the old one, regardless of what other refs reach.
func (r *Repo) CommitsIntroducedBy(ctx context.Context, upd model.RefUpdate) ([]model.CommitRecord, error) {
	if upd.IsDelete() {
		return nil, nil
	}
	return r.log(ctx, upd, nil)
}

func (r *Repo) log(ctx context.Context, upd model.RefUpdate, exclude []string) ([]model.CommitRecord, error) {
	args := []string{"log", logFormat, upd.NewID}
	var not []string
	if !upd.IsCreate() {
		not = append(not, upd.OldID)
	}
	not = append(not, exclude...)
	if len(not) > 0 {
		args = append(args, "--not")
		args = append(args, not...)
	}
	args = append(args, "--")

	out, err := r.git(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseLog(string(out))
}

// parseLog parses output produced with logFormat.
func parseLog(out string) ([]model.CommitRecord, error) {
	var commits []model.CommitRecord
	for _, rec := range strings.Split(out, recordSep) {
		rec = strings.TrimLeft(rec, "\r\n")
		if rec == "" {
			continue
		}
		fields := strings.SplitN(rec, fieldSep, 6)
		if len(fields) != 6 {
			return nil, fmt.Errorf("unexpected git log record: %q", rec)
		}
		at, err := time.Parse(time.RFC3339, fields[4])
		if err != nil {
			return nil, fmt.Errorf("parsing author date of %s: %w", fields[0], err)
		}
		message := strings.TrimRight(fields[5], "\n")
		subject, _, _ := strings.Cut(message, "\n")
		commits = append(commits, model.CommitRecord{
			ID:          fields[0],
			Parents:     strings.Fields(fields[1]),
			AuthorName:  fields[2],
			AuthorEmail: fields[3],
			AuthoredAt:  at,
			Subject:     subject,
			Message:     message,
		})
	}
	return commits, nil
}
