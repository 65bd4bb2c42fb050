// pkg/pipeline/stages.go
package pipeline

import (
	"fmt"
	"strings"

	"github.com/arc-language/reloc/pkg/core"
	"github.com/arc-language/reloc/pkg/platform"
)

// StageRoots collects the roots of an architecture: the ones listed
// directly plus those of every stage from arch.Stage back to the raw
// stage it was bootstrapped from. The chain is walked iteratively so its
// depth is bounded only by the number of stages configured.
func StageRoots(arch *core.ArchConfig) ([]core.ArtifactID, error) {
	var raw []string
	raw = append(raw, arch.Roots...)

	visited := make(map[string]bool)
	var chain []string
	for name := arch.Stage; name != ""; {
		if visited[name] {
			return nil, fmt.Errorf("%w: stage chain %s -> %s", core.ErrCycleDetected, strings.Join(chain, " -> "), name)
		}
		visited[name] = true
		chain = append(chain, name)

		stage, ok := arch.Stages[name]
		if !ok || stage == nil {
			return nil, fmt.Errorf("%w: unknown stage %q", core.ErrInvalidConfig, name)
		}
		raw = append(raw, stage.Roots...)
		if stage.Raw {
			break
		}
		if stage.From == "" {
			return nil, fmt.Errorf("%w: stage %q is neither raw nor built from another stage", core.ErrInvalidConfig, name)
		}
		name = stage.From
	}

	return parseRoots(raw)
}

// parseRoots converts store paths or base names to identities, keeping
// the first occurrence of each
func parseRoots(raw []string) ([]core.ArtifactID, error) {
	seen := make(map[core.ArtifactID]bool, len(raw))
	ids := make([]core.ArtifactID, 0, len(raw))
	for _, s := range raw {
		id, err := core.ParseArtifactID(s)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// StageChain returns the stage names walked for arch, starting stage
// first. The walk stops at the raw stage, an unknown stage or a repeat.
func (p *Pipeline) StageChain(arch platform.Arch) []string {
	ac := p.archConfig(arch)
	if ac == nil {
		return nil
	}
	var names []string
	seen := make(map[string]bool)
	for name := ac.Stage; name != "" && !seen[name]; {
		seen[name] = true
		names = append(names, name)
		stage, ok := ac.Stages[name]
		if !ok || stage == nil || stage.Raw {
			break
		}
		name = stage.From
	}
	return names
}
