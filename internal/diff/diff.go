// Package diff parses unified patches into structured representations.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// File represents a single file in a patch with its parsed fragments.
type File struct {
	OldName      string
	NewName      string
	IsNew        bool
	IsDeleted    bool
	IsBinary     bool
	Fragments    []*gitdiff.TextFragment
	AddedLines   int
	DeletedLines int
}

// Name returns the display name for the file.
func (f *File) Name() string {
	if f.IsDeleted {
		return f.OldName
	}
	if f.NewName != "" {
		return f.NewName
	}
	return f.OldName
}

// Touched returns the new-side line numbers of every added line, ascending.
func (f *File) Touched() []int {
	var lines []int
	for _, frag := range f.Fragments {
		n := int(frag.NewPosition)
		for _, line := range frag.Lines {
			switch line.Op {
			case gitdiff.OpAdd:
				lines = append(lines, n)
				n++
			case gitdiff.OpContext:
				n++
			}
		}
	}
	return lines
}

// DiffSet holds the parsed patch for all files.
type DiffSet struct {
	Files []*File
	Raw   string // the raw unified diff text
}

// Stats returns aggregate statistics.
func (ds *DiffSet) Stats() (files, added, deleted int) {
	files = len(ds.Files)
	for _, f := range ds.Files {
		added += f.AddedLines
		deleted += f.DeletedLines
	}
	return
}

// File returns the entry for path, or nil.
func (ds *DiffSet) File(path string) *File {
	for _, f := range ds.Files {
		if f.Name() == path {
			return f
		}
	}
	return nil
}

// TouchedLines maps each surviving file to the new-side numbers of the
// lines the patch added or changed. Deleted and binary files are left out.
func (ds *DiffSet) TouchedLines() map[string][]int {
	touched := make(map[string][]int, len(ds.Files))
	for _, f := range ds.Files {
		if f.IsDeleted || f.IsBinary {
			continue
		}
		if lines := f.Touched(); len(lines) > 0 {
			touched[f.Name()] = lines
		}
	}
	return touched
}

// Paths returns the names of the files in the set, sorted.
func (ds *DiffSet) Paths() []string {
	paths := make([]string, 0, len(ds.Files))
	for _, f := range ds.Files {
		paths = append(paths, f.Name())
	}
	sort.Strings(paths)
	return paths
}

// Parse reads a unified diff string and returns a DiffSet.
func Parse(raw string) (*DiffSet, error) {
	parsed, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	ds := &DiffSet{Raw: raw}
	for _, f := range parsed {
		df := &File{
			OldName:   f.OldName,
			NewName:   f.NewName,
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
			IsBinary:  f.IsBinary,
		}

		for _, frag := range f.TextFragments {
			df.Fragments = append(df.Fragments, frag)
			for _, line := range frag.Lines {
				switch line.Op {
				case gitdiff.OpAdd:
					df.AddedLines++
				case gitdiff.OpDelete:
					df.DeletedLines++
				}
			}
		}

		ds.Files = append(ds.Files, df)
	}

	return ds, nil
}

// Excerpt renders the fragments of f as unified diff text, capped at max
// lines (0 means no cap). The second result reports whether it was cut.
func (f *File) Excerpt(max int) (string, bool) {
	var b strings.Builder
	n := 0
	for _, frag := range f.Fragments {
		b.WriteString(HunkHeader(frag))
		b.WriteByte('\n')
		for _, line := range frag.Lines {
			if max > 0 && n >= max {
				return b.String(), true
			}
			b.WriteString(line.Op.String())
			b.WriteString(strings.TrimRight(line.Line, "\r\n"))
			b.WriteByte('\n')
			n++
		}
	}
	return b.String(), false
}

// HunkHeader formats the "@@ -a,b +c,d @@" line of a fragment.
func HunkHeader(frag *gitdiff.TextFragment) string {
	old := fmt.Sprintf("-%d", frag.OldPosition)
	if frag.OldLines != 1 {
		old += fmt.Sprintf(",%d", frag.OldLines)
	}
	new := fmt.Sprintf("+%d", frag.NewPosition)
	if frag.NewLines != 1 {
		new += fmt.Sprintf(",%d", frag.NewLines)
	}

	header := fmt.Sprintf("@@ %s %s @@", old, new)
	if frag.Comment != "" {
		header += " " + frag.Comment
	}
	return header
}
