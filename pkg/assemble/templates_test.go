package assemble

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arc-language/reloc/pkg/install"
	"github.com/arc-language/reloc/pkg/platform"
)

func TestMachineCasesCoverAliases(t *testing.T) {
	t.Parallel()

	cases := machineCases()
	require.Len(t, cases, len(platform.AllArchs))
	require.Contains(t, cases, machineCase{Pattern: "arm|armv7l|armv8l", Arch: "armv7l"})
	require.Contains(t, cases, machineCase{Pattern: "aarch64|arm64|armv8", Arch: "aarch64"})
}

// runInstallScript renders the install script for arch into a bundle
// directory and runs it with uname reporting machine
func runInstallScript(t *testing.T, arch platform.Arch, machine string) (string, string, error) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	root := t.TempDir()
	paths := install.PathsFor(filepath.Join(root, "nix"), "")
	data := templateData{
		Name:      "nix-bootstrap",
		Arch:      arch.String(),
		System:    arch.System(),
		Paths:     paths,
		FirstRoot: string(hello),
		NixConf:   install.NixConf(paths),
		EnvScript: install.EnvScript(paths),
		Machines:  machineCases(),
	}
	script, err := execute(installScript, data)
	require.NoError(t, err)

	bundle := filepath.Join(root, "bundle")
	require.NoError(t, os.MkdirAll(filepath.Join(bundle, "store"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "registration"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "install"), script, 0755))

	stub := filepath.Join(root, "stub")
	require.NoError(t, os.MkdirAll(stub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stub, "uname"), []byte("#!/bin/sh\necho "+machine+"\n"), 0755))

	cmd := exec.Command("/bin/sh", filepath.Join(bundle, "install"))
	cmd.Env = append(os.Environ(), "PATH="+stub+string(os.PathListSeparator)+os.Getenv("PATH"))
	out, err := cmd.CombinedOutput()
	return paths.ConfDir, string(out), err
}

func TestInstallScriptMachineMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		arch    platform.Arch
		machine string
		ok      bool
	}{
		{"armv8l userland is armv7l", platform.ArchArmv7l, "armv8l", true},
		{"armv8l is not aarch64", platform.ArchAarch64, "armv8l", false},
		{"arm64", platform.ArchAarch64, "arm64", true},
		{"amd64", platform.ArchX8664, "amd64", true},
		{"i586", platform.ArchI686, "i586", true},
		{"aarch64 on x86_64", platform.ArchAarch64, "x86_64", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conf, out, err := runInstallScript(t, tt.arch, tt.machine)
			if !tt.ok {
				require.Error(t, err)
				require.Contains(t, out, "this archive is for "+tt.arch.String())
				require.NoFileExists(t, filepath.Join(conf, "nix.conf"))
				return
			}
			require.NoError(t, err, out)
			require.FileExists(t, filepath.Join(conf, "nix.conf"))

			// the Go installer agrees with the script
			got, err := platform.ParseArch(tt.machine)
			require.NoError(t, err)
			require.Equal(t, tt.arch, got)
		})
	}
}
