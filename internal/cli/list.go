// internal/cli/list.go
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arc-language/reloc/pkg/pipeline"
	"github.com/arc-language/reloc/pkg/platform"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured architectures",
	Long:  `List the architectures in the configuration with their roots and stage chains.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	host, err := platform.Detect()
	if err == nil {
		fmt.Fprintf(out, "Host: %s\n\n", host.System())
	}

	archs, err := pipeline.Architectures(config)
	if err != nil {
		return err
	}
	if len(archs) == 0 {
		fmt.Fprintln(out, "No architectures configured")
		return nil
	}

	p := pipeline.New(config, nil)
	fmt.Fprintf(out, "Architectures:\n")
	for _, a := range archs {
		marker := " "
		if a == host {
			marker = "*"
		}
		roots, err := p.Roots(a, nil)
		if err != nil {
			fmt.Fprintf(out, "  %s %-8s error: %v\n", marker, a, err)
			continue
		}
		fmt.Fprintf(out, "  %s %-8s %d roots%s\n", marker, a, len(roots), chain(p, a))
	}
	fmt.Fprintf(out, "\n* = host architecture\n")
	return nil
}

func chain(p *pipeline.Pipeline, a platform.Arch) string {
	stages := p.StageChain(a)
	if len(stages) == 0 {
		return ""
	}
	return ", stages " + strings.Join(stages, " <- ")
}
