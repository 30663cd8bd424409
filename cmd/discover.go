package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <facet>",
	Short: "Scan the document index for unmapped values of a facet",
	Long:  "Reports raw values no alias resolves, grouped into candidate canonical entries when a suggestion provider is configured. Nothing is written.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "discover", false)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.Discover(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "discover")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, res)
		}
		formatDiscovery(os.Stdout, res)
		return nil
	},
}

func init() {
	discoverCmd.Flags().Bool("json", false, "print JSON instead of tables")
	rootCmd.AddCommand(discoverCmd)
}
