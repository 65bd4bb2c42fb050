// pkg/elfpatch/walk.go
package elfpatch

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/arc-language/reloc/internal/logger"
)

// RefusedFile records a file whose interpreter could not be relocated
type RefusedFile struct {
	Path        string `yaml:"path"`
	Reason      string `yaml:"reason"`
	Interpreter string `yaml:"interpreter"`
}

// Stats aggregates outcomes across a tree
type Stats struct {
	Patched        int           `yaml:"patched"`
	AlreadyPatched int           `yaml:"already_patched"`
	NotApplicable  int           `yaml:"not_applicable"`
	Refused        int           `yaml:"refused"`
	RefusedFiles   []RefusedFile `yaml:"refused_files,omitempty"`
}

// Add counts one outcome. path is recorded for refusals.
func (s *Stats) Add(path string, o Outcome) {
	switch o.Kind {
	case Patched:
		if o.Already {
			s.AlreadyPatched++
		} else {
			s.Patched++
		}
	case Refused:
		s.Refused++
		s.RefusedFiles = append(s.RefusedFiles, RefusedFile{Path: path, Reason: o.Reason, Interpreter: o.Old})
	default:
		s.NotApplicable++
	}
}

// Total returns the number of files inspected
func (s *Stats) Total() int {
	return s.Patched + s.AlreadyPatched + s.NotApplicable + s.Refused
}

// RefusedByReason counts refusals per reason
func (s *Stats) RefusedByReason() map[string]int {
	m := make(map[string]int)
	for _, r := range s.RefusedFiles {
		m[r.Reason]++
	}
	return m
}

// Walk rewrites every regular file below root in lexical order. Paths in
// the returned stats are relative to root. Symbolic links are not followed; the file
// they point to is visited on its own.
func (r *Rewriter) Walk(ctx context.Context, root string) (*Stats, error) {
	log := logger.FromContext(ctx)
	stats := &Stats{}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := r.RewriteInterpreter(p)
		if err != nil {
			return err
		}

		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		stats.Add(rel, out)

		switch {
		case out.Kind == Refused:
			log.Debugw("interpreter not relocated", "file", rel, "reason", out.Reason, "interpreter", out.Old)
		case out.Kind == Patched && !out.Already:
			log.Debugw("interpreter relocated", "file", rel, "from", out.Old, "to", out.New)
		}
		return nil
	})
	return stats, err
}
