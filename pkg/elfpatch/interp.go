// pkg/elfpatch/interp.go
package elfpatch

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind is the result class of a rewrite attempt
type Kind int

const (
	NotApplicable Kind = iota // not an ELF, no interpreter, or not under the source prefix
	Patched                   // interpreter now points under the destination prefix
	Refused                   // relocation needed but unsafe
)

func (k Kind) String() string {
	switch k {
	case Patched:
		return "patched"
	case Refused:
		return "refused"
	default:
		return "not-applicable"
	}
}

// Refusal reasons
const (
	ReasonCapacityExceeded = "capacity-exceeded"
	ReasonTargetNotStaged  = "target-not-staged"
)

// Outcome describes what happened to one file
type Outcome struct {
	Kind     Kind
	Reason   string // set for Refused, informational otherwise
	Already  bool   // Patched without writing because the interpreter was already relocated
	Old      string // interpreter found in the file
	New      string // interpreter written (or that would have been written)
	Capacity int    // size of the interpreter field including the NUL
}

var elfMagic = []byte(elf.ELFMAG)

// Rewriter rewrites interpreters from SourcePrefix to DestPrefix.
// StagingRoot is the directory that will become DestPrefix on the target;
// a rewritten interpreter must already exist below it.
type Rewriter struct {
	SourcePrefix string
	DestPrefix   string
	StagingRoot  string
}

// RewriteInterpreter inspects path and rewrites its interpreter in place
// when it points under SourcePrefix. The file length and every byte outside
// the interpreter field are preserved. Errors are returned only for I/O
// failures; everything else is reported through the Outcome.
func (r *Rewriter) RewriteInterpreter(path string) (Outcome, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return Outcome{}, err
	}
	if !fi.Mode().IsRegular() {
		return Outcome{Kind: NotApplicable, Reason: "not a regular file"}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Outcome{}, err
	}
	defer f.Close()

	ok, err := sniff(f)
	if err != nil || !ok {
		return Outcome{Kind: NotApplicable, Reason: "not an ELF file"}, err
	}

	field, err := readInterp(f)
	if err != nil {
		return Outcome{Kind: NotApplicable, Reason: err.Error()}, nil
	}
	if field == nil {
		return Outcome{Kind: NotApplicable, Reason: "no interpreter"}, nil
	}

	out := Outcome{Old: field.interp, Capacity: int(field.size)}

	// When one prefix contains the other, the longer match decides which
	// side the interpreter belongs to.
	inSource := underPrefix(field.interp, r.SourcePrefix)
	inDest := underPrefix(field.interp, r.DestPrefix)
	if inDest && (!inSource || len(r.DestPrefix) > len(r.SourcePrefix)) {
		out.Kind = Patched
		out.Already = true
		out.New = field.interp
		return out, nil
	}
	if !inSource {
		out.Kind = NotApplicable
		out.Reason = "interpreter outside source prefix"
		return out, nil
	}

	suffix := strings.TrimPrefix(field.interp, r.SourcePrefix)
	out.New = r.DestPrefix + suffix

	if uint64(len(out.New))+1 > field.size {
		out.Kind = Refused
		out.Reason = ReasonCapacityExceeded
		return out, nil
	}
	if !r.staged(suffix) {
		out.Kind = Refused
		out.Reason = ReasonTargetNotStaged
		return out, nil
	}

	buf := make([]byte, field.size)
	copy(buf, out.New)
	if err := writeAt(path, fi.Mode().Perm(), buf, int64(field.offset)); err != nil {
		return out, fmt.Errorf("writing interpreter of %s: %w", path, err)
	}

	out.Kind = Patched
	return out, nil
}

// staged reports whether StagingRoot+suffix exists and, after resolving
// links, stays inside the staging root
func (r *Rewriter) staged(suffix string) bool {
	root, err := filepath.EvalSymlinks(r.StagingRoot)
	if err != nil {
		return false
	}
	target, err := filepath.EvalSymlinks(filepath.Join(r.StagingRoot, filepath.FromSlash(suffix)))
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	fi, err := os.Stat(target)
	return err == nil && fi.Mode().IsRegular()
}

type interpField struct {
	interp string
	offset uint64
	size   uint64
}

func sniff(r io.ReaderAt) (bool, error) {
	magic := make([]byte, len(elfMagic))
	n, err := r.ReadAt(magic, 0)
	if n < len(magic) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return false, err
	}
	return bytes.Equal(magic, elfMagic), nil
}

// readInterp returns the PT_INTERP field of an executable or shared
// object, or nil when there is none
func readInterp(r io.ReaderAt) (*interpField, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("unparsable ELF: %w", err)
	}

	if ef.Type != elf.ET_EXEC && ef.Type != elf.ET_DYN {
		return nil, nil
	}

	for _, p := range ef.Progs {
		if p.Type != elf.PT_INTERP {
			continue
		}
		if p.Filesz == 0 {
			return nil, fmt.Errorf("empty interpreter segment")
		}
		data := make([]byte, p.Filesz)
		if _, err := io.ReadFull(p.Open(), data); err != nil {
			return nil, fmt.Errorf("reading interpreter: %w", err)
		}
		if i := bytes.IndexByte(data, 0); i >= 0 {
			data = data[:i]
		}
		return &interpField{interp: string(data), offset: p.Off, size: p.Filesz}, nil
	}
	return nil, nil
}

// writeAt overwrites len(buf) bytes at off, making the file temporarily
// writable if needed. Store copies are usually read-only.
func writeAt(path string, perm os.FileMode, buf []byte, off int64) error {
	if perm&0200 == 0 {
		if err := os.Chmod(path, perm|0200); err != nil {
			return err
		}
		defer os.Chmod(path, perm)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, off); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// underPrefix reports whether p equals prefix or lies below it
func underPrefix(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	return p == prefix || strings.HasPrefix(p, strings.TrimSuffix(prefix, "/")+"/")
}

// Interpreter returns the interpreter recorded in path, or "" when the file
// is not a dynamically linked ELF executable or shared object
func Interpreter(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if ok, err := sniff(f); err != nil || !ok {
		return "", err
	}
	field, err := readInterp(f)
	if err != nil || field == nil {
		return "", err
	}
	return field.interp, nil
}
