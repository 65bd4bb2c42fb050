// internal/cli/build.go
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arc-language/reloc/pkg/core"
	"github.com/arc-language/reloc/pkg/pipeline"
	"github.com/arc-language/reloc/pkg/platform"
)

var (
	buildArchs       []string
	buildAll         bool
	buildRoots       []string
	buildOutput      string
	buildCompression string
	buildJobs        int
	buildKeepStaging bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build relocated archives",
	Long: `Compute the closure of the configured roots, stage it, rewrite ELF
interpreters to the destination prefix and write one archive per
architecture.

Examples:
  reloc build --all
  reloc build --arch aarch64
  reloc build --arch x86_64 --root /nix/store/...-nix-2.20.5`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringSliceVar(&buildArchs, "arch", nil, "architecture to build (repeatable)")
	buildCmd.Flags().BoolVar(&buildAll, "all", false, "build every configured architecture")
	buildCmd.Flags().StringSliceVar(&buildRoots, "root", nil, "additional root store path (repeatable)")
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "output directory")
	buildCmd.Flags().StringVar(&buildCompression, "compression", "", "archive compression (xz, zstd, gzip, lz4, none)")
	buildCmd.Flags().IntVarP(&buildJobs, "jobs", "j", 0, "parallel artifact copies")
	buildCmd.Flags().BoolVar(&buildKeepStaging, "keep-staging", false, "keep the staging tree after building")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if buildOutput != "" {
		config.OutputDir = buildOutput
	}
	if buildCompression != "" {
		config.Compression = core.Compression(buildCompression)
	}
	if buildJobs > 0 {
		config.Jobs = buildJobs
	}
	if err := config.Validate(); err != nil {
		return err
	}

	var archs []platform.Arch
	if !buildAll {
		for _, s := range buildArchs {
			a, err := platform.ParseArch(s)
			if err != nil {
				return err
			}
			archs = append(archs, a)
		}
		if len(archs) == 0 && len(buildRoots) > 0 {
			a, err := platform.Detect()
			if err != nil {
				return fmt.Errorf("detecting architecture: %w", err)
			}
			archs = append(archs, a)
		}
	}

	extra := make([]core.ArtifactID, 0, len(buildRoots))
	for _, r := range buildRoots {
		id, err := core.ParseArtifactID(r)
		if err != nil {
			return err
		}
		extra = append(extra, id)
	}

	store, err := pipeline.OpenStore(config)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	p := pipeline.New(config, store)
	p.KeepStaging = buildKeepStaging

	report, err := p.BuildAll(ctx, archs, extra...)
	if report != nil {
		out := cmd.OutOrStdout()
		for _, res := range report.Results {
			if res.Err != nil {
				fmt.Fprintf(out, "%-8s FAILED  %v\n", res.Arch, res.Err)
				continue
			}
			a := res.Result.Archive
			fmt.Fprintf(out, "%-8s ok      %s (%d artifacts, %d bytes, sha256 %s, %s)\n",
				res.Arch, a.Path, res.Result.Manifest.Artifacts, a.Size, a.SHA256, res.Duration.Round(time.Millisecond))
			if n := res.Result.Manifest.Rewrite.Refused; n > 0 {
				fmt.Fprintf(out, "         %d interpreter rewrites refused, see %s\n", n, res.Result.ManifestPath)
			}
		}
	}
	return err
}
