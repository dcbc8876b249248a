package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comfyrun/internal/workflow"
)

func newListCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow files under the workflows directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = a.cfg.Workflows.Dir
			}
			names, err := workflow.NewCatalog(dir).List()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Workflows directory (default from config workflows.dir)")
	return cmd
}
