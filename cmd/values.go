package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/refdata"
)

var valuesCmd = &cobra.Command{
	Use:   "values",
	Short: "Manage the reference values of a facet",
}

// -- values list --

var valuesListCmd = &cobra.Command{
	Use:   "list <facet>",
	Short: "List active reference values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "store", false)
		if err != nil {
			return err
		}
		defer env.Close()

		includeSuggested, _ := cmd.Flags().GetBool("suggested")
		values, err := env.Engine.GetReferenceValues(ctx, args[0], includeSuggested)
		if err != nil {
			return eris.Wrap(err, "values list")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, values)
		}
		if len(values) == 0 {
			fmt.Fprintln(os.Stderr, "No reference values found.")
			return nil
		}
		formatValues(os.Stdout, values)
		return nil
	},
}

// -- values create --

var valuesCreateCmd = &cobra.Command{
	Use:   "create <facet> <canonical-value>",
	Short: "Create an active reference value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "store", false)
		if err != nil {
			return err
		}
		defer env.Close()

		label, _ := cmd.Flags().GetString("label")
		desc, _ := cmd.Flags().GetString("description")
		aliases, _ := cmd.Flags().GetStringSlice("alias")
		source, _ := cmd.Flags().GetString("source")

		v, err := env.Engine.CreateReferenceValue(ctx, args[0], refdata.CreateRequest{
			CanonicalValue: args[1],
			DisplayLabel:   label,
			Description:    desc,
			Aliases:        aliases,
			SourceHint:     source,
		})
		if err != nil {
			return eris.Wrap(err, "values create")
		}
		zap.L().Info("reference value created",
			zap.String("facet", args[0]),
			zap.String("id", v.ID),
			zap.Int("aliases", len(v.Aliases)),
		)
		fmt.Println(v.ID)
		return nil
	},
}

// -- values deactivate --

var valuesDeactivateCmd = &cobra.Command{
	Use:   "deactivate <facet> <value-id>",
	Short: "Deprecate an active reference value",
	Long:  "Marks the value deprecated and retires its aliases. Raw values it resolved become unmapped again.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !confirm(os.Stdin, os.Stderr, fmt.Sprintf("Deprecate %s in %s? Its aliases stop resolving.", args[1], args[0])) {
			return eris.New("values deactivate: not confirmed")
		}

		env, err := initEngine(ctx, "store", false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Engine.Deactivate(ctx, args[0], args[1]); err != nil {
			return eris.Wrap(err, "values deactivate")
		}
		zap.L().Info("reference value deprecated", zap.String("facet", args[0]), zap.String("id", args[1]))
		return nil
	},
}

func init() {
	valuesListCmd.Flags().Bool("suggested", false, "include suggested values")
	valuesListCmd.Flags().Bool("json", false, "print JSON instead of a table")

	valuesCreateCmd.Flags().String("label", "", "display label")
	valuesCreateCmd.Flags().String("description", "", "description")
	valuesCreateCmd.Flags().StringSlice("alias", nil, "alias text (repeatable)")
	valuesCreateCmd.Flags().String("source", "", "source hint recorded on the aliases")

	valuesDeactivateCmd.Flags().Bool("yes", false, "skip the confirmation prompt")

	valuesCmd.AddCommand(valuesListCmd, valuesCreateCmd, valuesDeactivateCmd)
	rootCmd.AddCommand(valuesCmd)
}
