// internal/cli/install.go
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arc-language/reloc/internal/logger"
	"github.com/arc-language/reloc/pkg/install"
)

var installPrefix string

var installCmd = &cobra.Command{
	Use:   "install <archive|directory>",
	Short: "Install a relocated archive on this machine",
	Long: `Unpack an archive built by "reloc build" into its destination prefix,
load the store database and link the default profile. Running it again
resumes an interrupted installation.

Examples:
  reloc install nix-bootstrap-aarch64.tar.xz
  reloc install ./unpacked --prefix /data/data/com.termux.nix/files/nix`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVar(&installPrefix, "prefix", "", "destination prefix (default is the archive's)")
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := install.OpenBundle(ctx, args[0])
	if err != nil {
		return err
	}
	defer b.Close()

	if installPrefix != "" && installPrefix != b.Manifest.DestPrefix {
		logger.WarnKV(ctx, "installing under a prefix the archive was not built for, binaries will not start",
			"prefix", installPrefix, "built_for", b.Manifest.DestPrefix)
	}

	in := &install.Installer{Prefix: installPrefix}
	r, err := in.Install(ctx, b)
	if r != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Prefix:    %s\n", r.Prefix)
		fmt.Fprintf(out, "Step:      %s\n", r.Step)
		fmt.Fprintf(out, "Copied:    %d\n", r.Copied)
		fmt.Fprintf(out, "Skipped:   %d\n", r.Skipped)
		if len(r.Failed) > 0 {
			fmt.Fprintf(out, "Failed:    %v\n", r.Failed)
		}
		fmt.Fprintf(out, "Imported:  %t\n", r.Imported)
		if r.Profile != "" {
			fmt.Fprintf(out, "Profile:   %s\n", r.Profile)
		}
		for _, w := range r.Warnings {
			fmt.Fprintf(out, "Warning:   %s\n", w)
		}
		if r.Step == install.StepDone {
			fmt.Fprintf(out, "\nrun: . %s/env.sh\n", install.PathsFor(r.Prefix, "").ConfDir)
		}
	}
	return err
}
