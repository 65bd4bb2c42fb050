// pkg/platform/arch.go
package platform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arc-language/reloc/pkg/core"
)

// Arch is a target machine architecture as reported by uname -m
type Arch string

const (
	ArchAarch64 Arch = "aarch64"
	ArchX8664   Arch = "x86_64"
	ArchI686    Arch = "i686"
	ArchArmv7l  Arch = "armv7l"
)

// AllArchs contains every architecture an archive can be built for
var AllArchs = []Arch{
	ArchAarch64,
	ArchArmv7l,
	ArchI686,
	ArchX8664,
}

// machineAliases maps uname machine strings and GOARCH values onto Arch
var machineAliases = map[string]Arch{
	"aarch64": ArchAarch64,
	"arm64":   ArchAarch64,
	"armv8":   ArchAarch64,
	"x86_64":  ArchX8664,
	"amd64":   ArchX8664,
	"i386":    ArchI686,
	"i486":    ArchI686,
	"i586":    ArchI686,
	"i686":    ArchI686,
	"386":     ArchI686,
	"armv7l":  ArchArmv7l,
	"armv8l":  ArchArmv7l, // 32-bit userland on a 64-bit kernel
	"arm":     ArchArmv7l,
}

// ParseArch converts a selector or machine name to an Arch
func ParseArch(s string) (Arch, error) {
	a, ok := machineAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownArchitecture, s)
	}
	return a, nil
}

// Aliases returns the machine names ParseArch accepts for each
// architecture, sorted
func Aliases() map[Arch][]string {
	out := make(map[Arch][]string, len(AllArchs))
	for name, a := range machineAliases {
		out[a] = append(out[a], name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

// String returns the string representation of the architecture
func (a Arch) String() string {
	return string(a)
}

// System returns the Nix system double for the architecture
func (a Arch) System() string {
	return string(a) + "-linux"
}

// IsValid checks if the architecture is a known architecture
func (a Arch) IsValid() bool {
	for _, valid := range AllArchs {
		if a == valid {
			return true
		}
	}
	return false
}

// SortArchs sorts architectures by name and removes duplicates
func SortArchs(archs []Arch) []Arch {
	seen := make(map[Arch]bool, len(archs))
	out := make([]Arch, 0, len(archs))
	for _, a := range archs {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
