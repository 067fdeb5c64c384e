package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/telvos/ferry/internal/client"
	"github.com/telvos/ferry/internal/output"
	"github.com/telvos/ferry/internal/utils"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List files offered by the ferry server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireServer(); err != nil {
				return err
			}
			tok, err := resolveToken()
			if err != nil {
				return err
			}
			serverClient := client.New(serverURL, tok, utils.NewClient(globalHTTPConfig))
			files, err := serverClient.ListFiles()
			if err != nil {
				return err
			}
			if len(files) == 0 {
				output.PrintInfo("No files available")
				return nil
			}
			output.PrintHeader(fmt.Sprintf("Files on %s", serverURL))
			for _, f := range files {
				fmt.Printf("  %s %s\n", output.FDetail(fmt.Sprintf("%-48s", f.Name)), output.FDebug(utils.FormatBytes(uint64(f.Size))))
			}
			return nil
		},
	}
}
