package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/baseline"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Export or import the reference-data baseline file",
}

// -- baseline export --

var baselineExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the active vocabulary to a YAML baseline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "store", false)
		if err != nil {
			return err
		}
		defer env.Close()

		facet, _ := cmd.Flags().GetString("facet")
		file, res, err := baseline.New(env.Engine).Export(ctx, facet)
		if err != nil {
			return eris.Wrap(err, "baseline export")
		}

		out, err := os.Create(args[0])
		if err != nil {
			return eris.Wrapf(err, "baseline export: create %s", args[0])
		}
		if err := baseline.Write(out, file); err != nil {
			_ = out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return eris.Wrapf(err, "baseline export: close %s", args[0])
		}

		zap.L().Info("baseline exported",
			zap.String("file", args[0]),
			zap.Int("facets", res.FacetsExported),
			zap.Int("values", res.ValuesExported),
			zap.Int("aliases", res.AliasesExported),
		)
		return nil
	},
}

// -- baseline import --

var baselineImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the covered facets with a YAML baseline",
	Long:  "Syncs fields, facets and mappings, then deletes every reference value of the facets in the file and reseeds them. Edits made since the baseline was exported are lost.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		in, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "baseline import: open %s", args[0])
		}
		defer in.Close() //nolint:errcheck
		file, err := baseline.Read(in)
		if err != nil {
			return err
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			yes = confirm(os.Stdin, os.Stderr, "Import replaces every reference value and alias of the facets in "+args[0]+". Unsaved edits will be lost. Continue?")
		}

		env, err := initEngine(ctx, "store", false)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := baseline.New(env.Engine).Import(ctx, file, baseline.ImportOptions{Confirm: yes})
		if err != nil {
			return eris.Wrap(err, "baseline import")
		}
		return writeJSON(os.Stdout, res)
	},
}

func init() {
	baselineExportCmd.Flags().String("facet", "", "export a single facet")
	baselineImportCmd.Flags().Bool("yes", false, "confirm the destructive import without prompting")

	baselineCmd.AddCommand(baselineExportCmd, baselineImportCmd)
	rootCmd.AddCommand(baselineCmd)
}
