package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var facetsCmd = &cobra.Command{
	Use:   "facets",
	Short: "List facets that carry reference data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "store", false)
		if err != nil {
			return err
		}
		defer env.Close()

		facets, err := env.Engine.ListFacets(ctx)
		if err != nil {
			return eris.Wrap(err, "facets")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, facets)
		}
		formatFacets(os.Stdout, facets)
		return nil
	},
}

func init() {
	facetsCmd.Flags().Bool("json", false, "print JSON instead of a table")
	rootCmd.AddCommand(facetsCmd)
}
