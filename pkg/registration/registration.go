// pkg/registration/registration.go
package registration

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/arc-language/reloc/pkg/core"
)

// ErrNotTopological indicates an entry references one that comes later
var ErrNotTopological = errors.New("registration is not in topological order")

// Entry is one artifact's record in the registration
type Entry struct {
	ID         core.ArtifactID
	NarHash    string
	NarSize    int64
	Deriver    core.ArtifactID
	References []core.ArtifactID
}

// FromInfo builds an entry from resolver metadata
func FromInfo(info *core.ArtifactInfo) Entry {
	return Entry{
		ID:         info.ID,
		NarHash:    info.NarHash,
		NarSize:    info.Size,
		Deriver:    info.Deriver,
		References: append([]core.ArtifactID(nil), info.References...),
	}
}

// Write serializes entries in the format read by `nix-store --load-db`,
// rendering every identity under storeDir. Entries are written in the
// order given.
func Write(w io.Writer, storeDir string, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		fmt.Fprintln(bw, e.ID.Path(storeDir))
		fmt.Fprintln(bw, e.NarHash)
		fmt.Fprintln(bw, e.NarSize)
		if e.Deriver != "" {
			fmt.Fprintln(bw, e.Deriver.Path(storeDir))
		} else {
			fmt.Fprintln(bw)
		}
		fmt.Fprintln(bw, len(e.References))
		for _, ref := range e.References {
			fmt.Fprintln(bw, ref.Path(storeDir))
		}
	}
	return bw.Flush()
}

// Read parses a registration. It returns the store directory the paths
// were rendered under (empty for an empty registration) and the entries
// in file order.
func Read(r io.Reader) (string, []Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		line++
		return strings.TrimRight(sc.Text(), "\r"), true
	}

	var (
		storeDir string
		entries  []Entry
	)

	parseID := func(p string) (core.ArtifactID, error) {
		dir := path.Dir(p)
		if storeDir == "" {
			storeDir = dir
		} else if dir != storeDir {
			return "", fmt.Errorf("line %d: %s is not under %s", line, p, storeDir)
		}
		return core.ParseArtifactID(p)
	}

	for {
		p, ok := next()
		if !ok {
			break
		}
		if p == "" {
			continue
		}

		id, err := parseID(p)
		if err != nil {
			return "", nil, err
		}
		e := Entry{ID: id}

		hash, ok1 := next()
		size, ok2 := next()
		deriver, ok3 := next()
		count, ok4 := next()
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return "", nil, fmt.Errorf("truncated record for %s", p)
		}

		e.NarHash = hash
		if e.NarSize, err = strconv.ParseInt(size, 10, 64); err != nil {
			return "", nil, fmt.Errorf("line %d: invalid size %q: %w", line-2, size, err)
		}
		if deriver != "" {
			if e.Deriver, err = core.ParseArtifactID(deriver); err != nil {
				return "", nil, fmt.Errorf("line %d: %w", line-1, err)
			}
		}
		n, err := strconv.Atoi(count)
		if err != nil || n < 0 {
			return "", nil, fmt.Errorf("line %d: invalid reference count %q", line, count)
		}
		for i := 0; i < n; i++ {
			ref, ok := next()
			if !ok {
				return "", nil, fmt.Errorf("truncated references for %s", p)
			}
			refID, err := parseID(ref)
			if err != nil {
				return "", nil, err
			}
			e.References = append(e.References, refID)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return "", nil, fmt.Errorf("reading registration: %w", err)
	}

	return storeDir, entries, nil
}

// Validate checks that entries are unique, complete and topologically
// ordered: every reference is the entry itself or an earlier entry.
func Validate(entries []Entry) error {
	seen := make(map[core.ArtifactID]bool, len(entries))
	all := make(map[core.ArtifactID]bool, len(entries))
	for _, e := range entries {
		if all[e.ID] {
			return fmt.Errorf("duplicate registration entry %s", e.ID)
		}
		all[e.ID] = true
	}

	for _, e := range entries {
		for _, ref := range e.References {
			if ref == e.ID || seen[ref] {
				continue
			}
			if all[ref] {
				return &core.Error{Op: "validate", Artifact: e.ID, Err: fmt.Errorf("%w: %s appears later", ErrNotTopological, ref)}
			}
			return &core.Error{Op: "validate", Artifact: e.ID, Err: fmt.Errorf("%w: %s is not registered", core.ErrUnresolvedDependency, ref)}
		}
		seen[e.ID] = true
	}
	return nil
}

// IDs returns the identities of entries in order
func IDs(entries []Entry) []core.ArtifactID {
	ids := make([]core.ArtifactID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
