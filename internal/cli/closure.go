// internal/cli/closure.go
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arc-language/reloc/pkg/core"
	"github.com/arc-language/reloc/pkg/pipeline"
	"github.com/arc-language/reloc/pkg/registration"
)

var (
	closurePrefix string
	closureIDs    bool
)

var closureCmd = &cobra.Command{
	Use:   "closure <root>...",
	Short: "Print the closure of store paths",
	Long: `Compute the dependency closure of the given roots and print it as a
registration, dependencies first.

Examples:
  reloc closure /nix/store/...-hello-2.12.1
  reloc closure --ids /nix/store/...-hello-2.12.1
  reloc closure --prefix /data/nix /nix/store/...-hello-2.12.1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClosure,
}

func init() {
	closureCmd.Flags().StringVar(&closurePrefix, "prefix", "", "render store paths under this prefix (default is source_prefix)")
	closureCmd.Flags().BoolVar(&closureIDs, "ids", false, "print store paths only")
}

func runClosure(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	roots := make([]core.ArtifactID, 0, len(args))
	for _, a := range args {
		id, err := core.ParseArtifactID(a)
		if err != nil {
			return err
		}
		roots = append(roots, id)
	}

	store, err := pipeline.OpenStore(config)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	c, err := pipeline.New(config, store).Closure(ctx, roots)
	if err != nil {
		return err
	}

	prefix := closurePrefix
	if prefix == "" {
		prefix = config.SourcePrefix
	}
	storeDir := core.StoreDir(prefix)

	out := cmd.OutOrStdout()
	if closureIDs {
		for _, id := range c.Artifacts {
			fmt.Fprintln(out, id.Path(storeDir))
		}
		return nil
	}
	return registration.Write(out, storeDir, c.Registration)
}
