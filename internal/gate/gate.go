// Package gate evaluates ref updates against the loaded checks and reports
// the combined verdict.
package gate

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/check"
	"github.com/sprite-ai/refgate/internal/model"
)

// CheckResult is the verdict of one check on one update.
type CheckResult struct {
	Name     string
	Verdict  model.Verdict
	Duration time.Duration
}

// Result is the combined outcome of every check on one update.
type Result struct {
	Update  model.RefUpdate
	Verdict model.Verdict
	Checks  []CheckResult
}

// Entries returns the transcript lines of the result, in check order.
func (r Result) Entries() []model.Entry {
	entries := make([]model.Entry, len(r.Verdict.Messages))
	for i, m := range r.Verdict.Messages {
		entries[i] = model.Entry{Ref: r.Update.Ref, Message: m}
	}
	return entries
}

// Recorder keeps a record of evaluated updates.
type Recorder interface {
	Record(ctx context.Context, res Result) error
}

// Evaluator runs Checks over ref updates.
type Evaluator struct {
	Checks []check.Check
	Log    zerolog.Logger
	// Journal, when set, records every evaluated update. Recording
	// failures are logged and do not change the verdict.
	Journal Recorder
}

// Evaluate runs every check on upd in order. All checks run even after one
// denies; the verdict is permitted only if every check permits. A check
// error aborts the evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, upd model.RefUpdate) (Result, error) {
	log := e.Log.With().Str("ref", upd.Ref).Str("old", upd.OldID).Str("new", upd.NewID).Logger()
	log.Debug().Msg("evaluating update")

	res := Result{Update: upd, Verdict: model.Permit()}
	for _, c := range e.Checks {
		start := time.Now()
		v, err := c.Check(ctx, upd)
		if err != nil {
			log.Error().Err(err).Str("check", c.Name()).Msg("check failed")
			code := apperr.CodeOf(err)
			if code == "" {
				code = apperr.CodeRepository
			}
			return Result{}, apperr.Wrapf(err, code, "check '%s' on %s", c.Name(), upd.Ref)
		}
		elapsed := time.Since(start)
		log.Debug().Str("check", c.Name()).Bool("permit", v.Permit).Dur("took", elapsed).Msg("check done")

		res.Checks = append(res.Checks, CheckResult{Name: c.Name(), Verdict: v, Duration: elapsed})
		res.Verdict = res.Verdict.Merge(v)
	}
	log.Info().Bool("permit", res.Verdict.Permit).Int("messages", len(res.Verdict.Messages)).Msg("evaluated")
	return res, nil
}

// Run evaluates one update per input line in the pre-receive format
// "<old> <new> <ref>", printing each result as soon as it is known. Blank
// lines are skipped. It reports whether every update is permitted. A
// malformed line or a failing check stops the run.
func (e *Evaluator) Run(ctx context.Context, in io.Reader, out Printer) (bool, error) {
	permit := true
	sc := bufio.NewScanner(in)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		upd, err := model.ParseRefUpdate(text)
		if err != nil {
			return false, apperr.Wrapf(err, apperr.CodeInput, "input line %d", line)
		}
		ok, err := e.RunOne(ctx, upd, out)
		if err != nil {
			return false, err
		}
		permit = permit && ok
	}
	if err := sc.Err(); err != nil {
		return false, apperr.Wrap(err, apperr.CodeInput, "reading updates")
	}
	return permit, nil
}

// RunOne evaluates a single update, prints it and records it in the
// journal.
func (e *Evaluator) RunOne(ctx context.Context, upd model.RefUpdate, out Printer) (bool, error) {
	res, err := e.Evaluate(ctx, upd)
	if err != nil {
		return false, err
	}
	if err := out.Print(res); err != nil {
		return false, err
	}
	if e.Journal != nil {
		if err := e.Journal.Record(ctx, res); err != nil {
			e.Log.Warn().Err(err).Str("ref", upd.Ref).Msg("could not record decision")
		}
	}
	return res.Verdict.Permit, nil
}

// ReadUpdates parses every update in in without evaluating them.
func ReadUpdates(in io.Reader) ([]model.RefUpdate, error) {
	var updates []model.RefUpdate
	sc := bufio.NewScanner(in)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		upd, err := model.ParseRefUpdate(text)
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeInput, "input line %d", line)
		}
		updates = append(updates, upd)
	}
	if err := sc.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInput, "reading updates")
	}
	return updates, nil
}
