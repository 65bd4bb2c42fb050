// pkg/closure/closure.go
package closure

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/arc-language/reloc/pkg/core"
	"github.com/arc-language/reloc/pkg/registration"
)

// Closure is the transitive dependency set of a root set
type Closure struct {
	Roots        []core.ArtifactID    // Requested artifacts, sorted
	Artifacts    []core.ArtifactID    // Every member, dependencies first
	Registration []registration.Entry // One entry per member, same order as Artifacts
}

// Len returns the number of artifacts in the closure
func (c *Closure) Len() int {
	return len(c.Artifacts)
}

// IsRoot reports whether id was explicitly requested
func (c *Closure) IsRoot(id core.ArtifactID) bool {
	i := sort.Search(len(c.Roots), func(i int) bool { return c.Roots[i] >= id })
	return i < len(c.Roots) && c.Roots[i] == id
}

type color uint8

const (
	white color = iota // not visited
	grey               // on the current path
	black              // finished
)

// frame is one node on the explicit DFS stack
type frame struct {
	info *core.ArtifactInfo
	deps []core.ArtifactID // sorted, self references removed
	next int               // index of the next dependency to visit
}

// Compute walks the dependency relation from roots and returns the
// closure in topological order (every artifact after its dependencies).
// Roots and references are visited in sorted order, so equal inputs give
// identical output. The walk keeps its own stack instead of recursing.
func Compute(ctx context.Context, resolver core.Resolver, roots []core.ArtifactID) (*Closure, error) {
	if len(roots) == 0 {
		return nil, &core.Error{Op: "compute closure", Err: core.ErrEmptyClosure}
	}

	sortedRoots := sortedUnique(roots)
	colors := make(map[core.ArtifactID]color)
	c := &Closure{Roots: sortedRoots}

	var stack []*frame

	push := func(id, referrer core.ArtifactID) error {
		info, err := resolver.Resolve(ctx, id)
		if err != nil {
			if referrer != "" && errors.Is(err, core.ErrUnresolvedDependency) {
				err = fmt.Errorf("%w (referenced by %s)", err, referrer)
			}
			return &core.Error{Op: "resolve", Artifact: id, Err: err}
		}
		if info.ID == "" {
			info.ID = id
		}
		colors[id] = grey
		stack = append(stack, &frame{info: info, deps: dependencies(info)})
		return nil
	}

	for _, root := range sortedRoots {
		if colors[root] != white {
			continue
		}
		if err := push(root, ""); err != nil {
			return nil, err
		}

		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			top := stack[len(stack)-1]
			if top.next == len(top.deps) {
				stack = stack[:len(stack)-1]
				colors[top.info.ID] = black
				c.Artifacts = append(c.Artifacts, top.info.ID)
				c.Registration = append(c.Registration, registration.FromInfo(top.info))
				continue
			}

			dep := top.deps[top.next]
			top.next++

			switch colors[dep] {
			case black:
				continue
			case grey:
				return nil, &core.Error{
					Op:       "compute closure",
					Artifact: dep,
					Err:      fmt.Errorf("%w: %s", core.ErrCycleDetected, cyclePath(stack, dep)),
				}
			}

			if err := push(dep, top.info.ID); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

// dependencies returns the sorted direct dependencies without self references
func dependencies(info *core.ArtifactInfo) []core.ArtifactID {
	deps := make([]core.ArtifactID, 0, len(info.References))
	for _, ref := range info.References {
		if ref != info.ID {
			deps = append(deps, ref)
		}
	}
	return sortedUnique(deps)
}

func sortedUnique(ids []core.ArtifactID) []core.ArtifactID {
	out := append([]core.ArtifactID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

// cyclePath renders the stack from the first occurrence of dep back to dep
func cyclePath(stack []*frame, dep core.ArtifactID) string {
	var parts []string
	for _, f := range stack {
		if f.info.ID == dep || len(parts) > 0 {
			parts = append(parts, f.info.ID.String())
		}
	}
	parts = append(parts, dep.String())
	return strings.Join(parts, " -> ")
}
