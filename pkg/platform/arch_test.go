package platform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arc-language/reloc/pkg/core"
)

func TestParseArch(t *testing.T) {
	t.Parallel()

	tests := map[string]Arch{
		"aarch64": ArchAarch64,
		"arm64":   ArchAarch64,
		"ARM64":   ArchAarch64,
		"amd64":   ArchX8664,
		" x86_64": ArchX8664,
		"i586":    ArchI686,
		"armv8l":  ArchArmv7l,
		"armv7l":  ArchArmv7l,
	}
	for in, want := range tests {
		got, err := ParseArch(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
		require.True(t, got.IsValid())
	}

	_, err := ParseArch("riscv64")
	require.ErrorIs(t, err, core.ErrUnknownArchitecture)
}

func TestArchSystem(t *testing.T) {
	t.Parallel()

	require.Equal(t, "aarch64-linux", ArchAarch64.System())
	require.Equal(t, "i686-linux", ArchI686.System())
}

func TestSortArchs(t *testing.T) {
	t.Parallel()

	got := SortArchs([]Arch{ArchX8664, ArchAarch64, ArchX8664, ArchI686})
	require.Equal(t, []Arch{ArchAarch64, ArchI686, ArchX8664}, got)
	require.False(t, Arch("sparc").IsValid())
}

func TestDetect(t *testing.T) {
	t.Parallel()

	a, err := Detect()
	require.NoError(t, err)
	require.True(t, a.IsValid())
}

func TestAliasesRoundTrip(t *testing.T) {
	t.Parallel()

	aliases := Aliases()
	require.Len(t, aliases, len(AllArchs))
	require.Contains(t, aliases[ArchArmv7l], "armv8l")
	for arch, names := range aliases {
		require.Contains(t, names, arch.String())
		for _, name := range names {
			got, err := ParseArch(name)
			require.NoError(t, err, name)
			require.Equal(t, arch, got, name)
		}
	}
}
