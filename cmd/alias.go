package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/refdata"
)

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage aliases of a reference value",
}

var aliasAddCmd = &cobra.Command{
	Use:   "add <facet> <value-id> <alias>",
	Short: "Attach an alias to a reference value",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "store", false)
		if err != nil {
			return err
		}
		defer env.Close()

		opts, err := aliasOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		a, err := env.Engine.AddAlias(ctx, args[0], args[1], args[2], opts)
		if err != nil {
			return eris.Wrap(err, "alias add")
		}
		if a == nil {
			fmt.Println("alias matches the canonical value; nothing added")
			return nil
		}
		fmt.Println(a.ID)
		return nil
	},
}

var aliasRemoveCmd = &cobra.Command{
	Use:   "remove <facet> <value-id> <alias-id>",
	Short: "Detach an alias from a reference value",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "store", false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Engine.RemoveAlias(ctx, args[0], args[1], args[2]); err != nil {
			return eris.Wrap(err, "alias remove")
		}
		zap.L().Info("alias removed", zap.String("facet", args[0]), zap.String("alias_id", args[2]))
		return nil
	},
}

// aliasOptionsFromFlags reads --source, --method and --confidence.
func aliasOptionsFromFlags(cmd *cobra.Command) (refdata.AliasOptions, error) {
	source, _ := cmd.Flags().GetString("source")
	method, _ := cmd.Flags().GetString("method")
	opts := refdata.AliasOptions{SourceHint: source, MatchMethod: refdata.MatchMethod(method)}
	if cmd.Flags().Changed("confidence") {
		c, err := cmd.Flags().GetFloat64("confidence")
		if err != nil {
			return opts, eris.Wrap(err, "alias add: confidence")
		}
		opts.Confidence = refdata.Float(c)
	}
	return opts, nil
}

func init() {
	aliasAddCmd.Flags().String("source", "", "source hint")
	aliasAddCmd.Flags().String("method", string(refdata.MatchManual), "match method (manual, auto_matched, llm_suggested, baseline)")
	aliasAddCmd.Flags().Float64("confidence", 0, "match confidence in [0,1]")

	aliasCmd.AddCommand(aliasAddCmd, aliasRemoveCmd)
	rootCmd.AddCommand(aliasCmd)
}
