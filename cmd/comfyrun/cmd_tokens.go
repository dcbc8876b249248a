package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"comfyrun/internal/tokens"
	"comfyrun/internal/workflow"
)

func newTokensCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens <workflow.json>",
		Short: "List the placeholders of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := workflow.Load(args[0])
			if err != nil {
				return err
			}
			specs := tokens.Discover(g)

			out := cmd.OutOrStdout()
			if len(specs) == 0 {
				fmt.Fprintln(out, "No placeholders found.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tMULTILINE\tPLACEHOLDER")
			for _, s := range specs {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", s.Name, s.Kind, s.Multiline, s.Raw)
			}
			return tw.Flush()
		},
	}
}
