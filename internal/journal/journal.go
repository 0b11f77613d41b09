// Package journal keeps a SQLite record of every evaluated ref update and
// the messages each check produced for it.
package journal

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/gate"
)

const driver = "sqlite3"

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	evaluated_at TEXT    NOT NULL,
	ref          TEXT    NOT NULL,
	old_id       TEXT    NOT NULL,
	new_id       TEXT    NOT NULL,
	permit       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	decision_id INTEGER NOT NULL REFERENCES decisions(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	check_name  TEXT    NOT NULL,
	at          TEXT    NOT NULL,
	text        TEXT    NOT NULL,
	PRIMARY KEY (decision_id, seq)
);
CREATE INDEX IF NOT EXISTS decisions_ref ON decisions(ref, evaluated_at);
`

// Journal is a decision log backed by SQLite. It implements gate.Recorder.
type Journal struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// Decision is one recorded evaluation.
type Decision struct {
	ID          int64
	EvaluatedAt time.Time
	Ref         string
	OldID       string
	NewID       string
	Permit      bool
	Messages    []Message
}

// Message is one recorded check message.
type Message struct {
	Check string
	At    string
	Text  string
}

// Open opens or creates the journal at dsn, e.g.
// "file:/var/lib/refgate/journal.db?_busy_timeout=5000".
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Journal, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfiguration, "opening journal")
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperr.Wrapf(err, apperr.CodeConfiguration, "opening journal %s", dsn)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, apperr.Wrap(err, apperr.CodeConfiguration, "creating journal schema")
	}
	log.Debug().Str("dsn", dsn).Msg("journal opened")
	return &Journal{db: db, log: log, now: time.Now}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record implements gate.Recorder.
func (j *Journal) Record(ctx context.Context, res gate.Result) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upd := res.Update
	r, err := tx.ExecContext(ctx,
		`INSERT INTO decisions (evaluated_at, ref, old_id, new_id, permit) VALUES (?, ?, ?, ?, ?)`,
		j.now().UTC().Format(time.RFC3339Nano), upd.Ref, upd.OldID, upd.NewID, res.Verdict.Permit)
	if err != nil {
		return err
	}
	id, err := r.LastInsertId()
	if err != nil {
		return err
	}

	seq := 0
	for _, c := range res.Checks {
		for _, m := range c.Verdict.Messages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (decision_id, seq, check_name, at, text) VALUES (?, ?, ?, ?, ?)`,
				id, seq, c.Name, m.At, m.Text); err != nil {
				return err
			}
			seq++
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	j.log.Debug().Int64("decision", id).Str("ref", upd.Ref).Msg("recorded")
	return nil
}

// Recent returns up to limit decisions, newest first. An empty ref selects
// every ref.
func (j *Journal) Recent(ctx context.Context, ref string, limit int) ([]Decision, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, evaluated_at, ref, old_id, new_id, permit FROM decisions
		 WHERE ? = '' OR ref = ?
		 ORDER BY id DESC LIMIT ?`, ref, ref, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []Decision
	for rows.Next() {
		var d Decision
		var at string
		if err := rows.Scan(&d.ID, &at, &d.Ref, &d.OldID, &d.NewID, &d.Permit); err != nil {
			return nil, err
		}
		if d.EvaluatedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range decisions {
		if decisions[i].Messages, err = j.messages(ctx, decisions[i].ID); err != nil {
			return nil, err
		}
	}
	return decisions, nil
}

func (j *Journal) messages(ctx context.Context, decisionID int64) ([]Message, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT check_name, at, text FROM messages WHERE decision_id = ? ORDER BY seq`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Check, &m.At, &m.Text); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
