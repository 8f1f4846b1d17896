package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <query>",
		Short: "Answer a query with the reasoning/action loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, loop, _, err := setup(cmd, false, nil)
			if err != nil {
				return err
			}
			defer cancel()

			res, err := loop.Run(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			return printResult(cmd, loop, res)
		},
	}
}
