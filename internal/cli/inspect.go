// internal/cli/inspect.go
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arc-language/reloc/pkg/archive"
	"github.com/arc-language/reloc/pkg/manifest"
)

var inspectRaw bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive|directory|manifest>",
	Short: "Show the manifest of a relocated archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectRaw, "raw", false, "print manifest.yaml as stored")
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := readManifest(args[0])
	if err != nil {
		return err
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if inspectRaw {
		_, err := out.Write(data)
		return err
	}

	fmt.Fprintf(out, "Name:        %s\n", m.Name)
	fmt.Fprintf(out, "Arch:        %s (%s)\n", m.Arch, m.System)
	fmt.Fprintf(out, "Prefix:      %s -> %s\n", m.SourcePrefix, m.DestPrefix)
	fmt.Fprintf(out, "Artifacts:   %d (%d bytes)\n", m.Artifacts, m.NarSize)
	fmt.Fprintf(out, "Compression: %s\n", m.Compression)
	fmt.Fprintf(out, "Created:     %s by reloc %s\n", m.Created.Format("2006-01-02 15:04:05 MST"), m.Tool)
	fmt.Fprintf(out, "Roots:\n")
	for _, r := range m.Roots {
		fmt.Fprintf(out, "  %s\n", r)
	}
	s := m.Rewrite
	fmt.Fprintf(out, "Interpreters: %d patched, %d already patched, %d not applicable, %d refused\n",
		s.Patched, s.AlreadyPatched, s.NotApplicable, s.Refused)
	for _, f := range s.RefusedFiles {
		fmt.Fprintf(out, "  refused %s (%s): %s\n", f.Path, f.Reason, f.Interpreter)
	}
	return nil
}

// readManifest accepts an archive, an extracted directory or a manifest file
func readManifest(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	switch {
	case fi.IsDir():
		return os.ReadFile(filepath.Join(path, manifest.FileName))
	case strings.HasSuffix(path, ".yaml"):
		return os.ReadFile(path)
	default:
		return archive.ReadFile(path, manifest.FileName)
	}
}
