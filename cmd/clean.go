package cmd

import (
	"github.com/spf13/cobra"
	"github.com/telvos/ferry/internal/output"
	"github.com/telvos/ferry/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [path]",
		Short: "Clean up partial transfer state",
		Long:  "Remove progress records and the temp directory, for the current directory or the transfer that wrote to the given output path.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if len(args) == 0 {
				err = utils.CleanLocal()
			} else {
				err = utils.CleanFunction(args[0])
			}
			if err != nil {
				return err
			}
			output.PrintSuccess("Temporary files cleaned up")
			return nil
		},
	}
}
