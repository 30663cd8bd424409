package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/refdata"
)

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "Record and moderate suggested reference values",
}

// -- suggestions save --

var suggestionsSaveCmd = &cobra.Command{
	Use:   "save <facet>",
	Short: "Save candidate groups as suggested values",
	Long:  "Runs discovery and saves its candidate groups as suggested values, or saves the groups read from --from (a JSON array of groups).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		facet := args[0]
		from, _ := cmd.Flags().GetString("from")

		mode := "discover"
		if from != "" {
			mode = "store"
		}
		env, err := initEngine(ctx, mode, false)
		if err != nil {
			return err
		}
		defer env.Close()

		var groups []refdata.Group
		if from != "" {
			groups, err = readGroups(from)
			if err != nil {
				return err
			}
		} else {
			res, err := env.Engine.Discover(ctx, facet)
			if err != nil {
				return eris.Wrap(err, "suggestions save")
			}
			if res.Error != "" {
				return eris.Wrapf(refdata.ErrUpstreamUnavailable, "suggestions save: grouping unavailable: %s", res.Error)
			}
			groups = res.Suggestions
		}

		if len(groups) == 0 {
			zap.L().Info("no candidate groups to save", zap.String("facet", facet))
			return nil
		}
		saved, err := env.Engine.SaveSuggestions(ctx, facet, groups)
		if err != nil {
			return eris.Wrap(err, "suggestions save")
		}
		return writeJSON(os.Stdout, saved)
	},
}

// -- suggestions approve --

var suggestionsApproveCmd = &cobra.Command{
	Use:   "approve <facet> <value-id>",
	Short: "Promote a suggested value to active",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "store", false)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.Approve(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "suggestions approve")
		}
		return writeJSON(os.Stdout, res)
	},
}

// -- suggestions reject --

var suggestionsRejectCmd = &cobra.Command{
	Use:   "reject <facet> <value-id>",
	Short: "Delete a suggested value and its aliases",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "store", false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Engine.Reject(ctx, args[0], args[1]); err != nil {
			return eris.Wrap(err, "suggestions reject")
		}
		zap.L().Info("suggestion rejected", zap.String("facet", args[0]), zap.String("id", args[1]))
		return nil
	},
}

// readGroups decodes a JSON array of candidate groups from path.
func readGroups(path string) ([]refdata.Group, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var groups []refdata.Group
	if err := json.NewDecoder(f).Decode(&groups); err != nil {
		return nil, eris.Wrapf(refdata.ErrValidation, "decode groups from %s: %v", path, err)
	}
	return groups, nil
}

func init() {
	suggestionsSaveCmd.Flags().String("from", "", "JSON file of groups to save instead of running discovery")

	suggestionsCmd.AddCommand(suggestionsSaveCmd, suggestionsApproveCmd, suggestionsRejectCmd)
	rootCmd.AddCommand(suggestionsCmd)
}
