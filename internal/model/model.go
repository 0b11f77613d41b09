// Package model defines the core data types shared across refgate.
package model

import (
	"fmt"
	"strings"
	"time"
)

// NullID is the object id git uses for a missing side of a ref update.
const NullID = "0000000000000000000000000000000000000000"

const headsPrefix = "refs/heads/"

// RefUpdate is one branch's movement during a push.
type RefUpdate struct {
	Ref   string // fully qualified, e.g. refs/heads/master
	OldID string
	NewID string
}

// ParseRefUpdate parses a pre-receive input line: "<old> <new> <ref>".
func ParseRefUpdate(line string) (RefUpdate, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return RefUpdate{}, fmt.Errorf("expected '<old> <new> <ref>', got %q", line)
	}
	upd := RefUpdate{OldID: fields[0], NewID: fields[1], Ref: fields[2]}
	if !isObjectID(upd.OldID) || !isObjectID(upd.NewID) {
		return RefUpdate{}, fmt.Errorf("invalid object id in %q", line)
	}
	return upd, nil
}

func isObjectID(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// IsNull reports whether id is the all-zero object id.
func IsNull(id string) bool {
	return id != "" && strings.Trim(id, "0") == ""
}

// IsCreate reports whether the update creates the ref.
func (u RefUpdate) IsCreate() bool { return IsNull(u.OldID) }

// IsDelete reports whether the update deletes the ref.
func (u RefUpdate) IsDelete() bool { return IsNull(u.NewID) }

// BranchName returns the ref name without the refs/heads/ prefix.
func (u RefUpdate) BranchName() string {
	return strings.TrimPrefix(u.Ref, headsPrefix)
}

// Tip returns the object a message about the whole update should point at:
// the new tip, or the old one when the ref is deleted.
func (u RefUpdate) Tip() string {
	if u.IsDelete() {
		return u.OldID
	}
	return u.NewID
}

func (u RefUpdate) String() string {
	return fmt.Sprintf("%s %s..%s", u.Ref, short(u.OldID), short(u.NewID))
}

func short(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

// CommitRecord is a commit as reported by the log traversal.
type CommitRecord struct {
	ID          string
	Parents     []string
	AuthorName  string
	AuthorEmail string
	AuthoredAt  time.Time
	Subject     string
	Message     string // full message, subject included
}

// IsMerge reports whether the commit has two or more parents.
func (c CommitRecord) IsMerge() bool { return len(c.Parents) > 1 }

// ChangeStatus is the kind of change a commit made to a path.
type ChangeStatus int

const (
	StatusModified ChangeStatus = iota
	StatusAdded
	StatusDeleted
)

func (s ChangeStatus) String() string {
	switch s {
	case StatusAdded:
		return "A"
	case StatusDeleted:
		return "D"
	case StatusModified:
		return "M"
	default:
		return "?"
	}
}

// FileChange is a single path touched by a commit or a diff.
type FileChange struct {
	Path    string
	Status  ChangeStatus
	OldBlob string
	NewBlob string // NullID for deletions
}

// Message is a diagnostic tied to the object it is about.
type Message struct {
	At   string // commit or ref tip id
	Text string
}

// Verdict is the outcome of one check, or of several combined.
type Verdict struct {
	Permit   bool
	Messages []Message
}

// Permit returns an admitting verdict with no messages.
func Permit() Verdict { return Verdict{Permit: true} }

// Deny returns a denying verdict with a single message.
func Deny(at, text string) Verdict {
	return Verdict{Permit: false, Messages: []Message{{At: at, Text: text}}}
}

// Add appends a message without changing the verdict.
func (v *Verdict) Add(at, text string) {
	v.Messages = append(v.Messages, Message{At: at, Text: text})
}

// Merge combines other into v: permits are ANDed, messages appended in order.
func (v Verdict) Merge(other Verdict) Verdict {
	msgs := make([]Message, 0, len(v.Messages)+len(other.Messages))
	msgs = append(msgs, v.Messages...)
	msgs = append(msgs, other.Messages...)
	return Verdict{Permit: v.Permit && other.Permit, Messages: msgs}
}

// Entry is a transcript line: a message together with the ref it belongs to.
type Entry struct {
	Ref     string
	Message Message
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s @ %s]: %s", e.Ref, e.Message.At, e.Message.Text)
}
