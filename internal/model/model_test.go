package model

import (
	"strings"
	"testing"
)

const (
	idA = "1111111111111111111111111111111111111111"
	idB = "2222222222222222222222222222222222222222"
)

func TestParseRefUpdate(t *testing.T) {
	tests := []struct {
		line    string
		want    RefUpdate
		wantErr bool
	}{
		{idA + " " + idB + " refs/heads/master", RefUpdate{Ref: "refs/heads/master", OldID: idA, NewID: idB}, false},
		{"  " + NullID + "\t" + idB + "  refs/heads/feature/x ", RefUpdate{Ref: "refs/heads/feature/x", OldID: NullID, NewID: idB}, false},
		{idA + " " + idB, RefUpdate{}, true},
		{"zz " + idB + " refs/heads/master", RefUpdate{}, true},
		{idA + " " + idB + " refs/heads/a extra", RefUpdate{}, true},
	}
	for _, tt := range tests {
		got, err := ParseRefUpdate(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRefUpdate(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRefUpdate(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestRefUpdateKinds(t *testing.T) {
	create := RefUpdate{Ref: "refs/heads/release/1.0", OldID: NullID, NewID: idA}
	if !create.IsCreate() || create.IsDelete() {
		t.Errorf("%v: expected create", create)
	}
	if create.BranchName() != "release/1.0" {
		t.Errorf("BranchName() = %q", create.BranchName())
	}
	if create.Tip() != idA {
		t.Errorf("Tip() = %q, want new id", create.Tip())
	}

	del := RefUpdate{Ref: "refs/heads/old", OldID: idB, NewID: NullID}
	if !del.IsDelete() || del.IsCreate() {
		t.Errorf("%v: expected delete", del)
	}
	if del.Tip() != idB {
		t.Errorf("Tip() = %q, want old id for deletion", del.Tip())
	}
}

func TestVerdictMerge(t *testing.T) {
	v := Permit()
	v = v.Merge(Deny(idA, "first"))
	v = v.Merge(Verdict{Permit: true, Messages: []Message{{At: idB, Text: "second"}}})

	if v.Permit {
		t.Error("expected AND of permits to deny")
	}
	var texts []string
	for _, m := range v.Messages {
		texts = append(texts, m.Text)
	}
	if got := strings.Join(texts, ","); got != "first,second" {
		t.Errorf("messages = %q, want execution order", got)
	}
}

func TestEntryString(t *testing.T) {
	e := Entry{Ref: "refs/heads/master", Message: Message{At: idA, Text: "Error: nope"}}
	want := "[refs/heads/master @ " + idA + "]: Error: nope"
	if e.String() != want {
		t.Errorf("String() = %q, want %q", e.String(), want)
	}
}

func TestChangeStatusString(t *testing.T) {
	tests := []struct {
		s    ChangeStatus
		want string
	}{
		{StatusAdded, "A"},
		{StatusModified, "M"},
		{StatusDeleted, "D"},
		{ChangeStatus(9), "?"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("ChangeStatus(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
