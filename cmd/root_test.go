package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(cmd *cobra.Command) map[string]bool {
	out := make(map[string]bool)
	for _, c := range cmd.Commands() {
		out[c.Name()] = true
	}
	return out
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	got := names(rootCmd)
	expected := []string{"migrate", "facets", "values", "alias", "discover", "suggestions", "baseline", "serve", "worker", "sweep"}
	for _, name := range expected {
		assert.True(t, got[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "refdata", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestGroupCommands_HaveSubcommands(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		want []string
	}{
		{valuesCmd, []string{"list", "create", "deactivate"}},
		{aliasCmd, []string{"add", "remove"}},
		{suggestionsCmd, []string{"save", "approve", "reject"}},
		{baselineCmd, []string{"export", "import"}},
	}
	for _, tt := range tests {
		got := names(tt.cmd)
		for _, name := range tt.want {
			assert.True(t, got[name], "%s: expected subcommand %q", tt.cmd.Name(), name)
		}
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestDestructiveCommands_HaveYesFlag(t *testing.T) {
	for _, c := range []*cobra.Command{valuesDeactivateCmd, baselineImportCmd} {
		flag := c.Flags().Lookup("yes")
		require.NotNil(t, flag, c.CommandPath())
		assert.Equal(t, "false", flag.DefValue)
	}
}

func TestSweepFlags(t *testing.T) {
	assert.Equal(t, "false", sweepCmd.Flags().Lookup("persist").DefValue)
	assert.Equal(t, "true", workerCmd.Flags().Lookup("persist").DefValue)
}

func TestAliasOptionsFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "add"}
	cmd.Flags().String("source", "", "")
	cmd.Flags().String("method", "manual", "")
	cmd.Flags().Float64("confidence", 0, "")

	opts, err := aliasOptionsFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, "manual", string(opts.MatchMethod))
	assert.Nil(t, opts.Confidence, "confidence is only set when given")

	require.NoError(t, cmd.Flags().Set("method", "auto_matched"))
	require.NoError(t, cmd.Flags().Set("confidence", "0.8"))
	require.NoError(t, cmd.Flags().Set("source", "sam.gov"))
	opts, err = aliasOptionsFromFlags(cmd)
	require.NoError(t, err)
	require.NotNil(t, opts.Confidence)
	assert.InDelta(t, 0.8, *opts.Confidence, 1e-9)
	assert.Equal(t, "sam.gov", opts.SourceHint)
}
