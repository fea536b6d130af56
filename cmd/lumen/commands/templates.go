package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"lumen-pipeline/internal/pipeline"
)

func (c *CLI) newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates [text]",
		Short: "List part templates, or show the one a concept matches",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := pipeline.DefaultCatalogue()
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				t := cat.Match(args[0])
				_, err := fmt.Fprintf(out, "%s: %v\n%s\n", t.Type, t.PartNames, pipeline.CanonicalPrompt(args[0], t))
				return err
			}
			for _, typ := range cat.Types() {
				if _, err := fmt.Fprintln(out, typ); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
