package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "migrate", "ingest", "import", "tenant", "source", "contact", "event"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "lead-intake", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestContactCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range contactCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"add-phone", "correct-phone", "show"} {
		assert.True(t, names[name], "expected contact subcommand %q", name)
	}
	require.NotNil(t, contactCmd.PersistentFlags().Lookup("tenant"))
}

func TestImportCommand_RequiredFlags(t *testing.T) {
	require.NotNil(t, importCmd.Flags().Lookup("csv"))
	require.NotNil(t, importCmd.Flags().Lookup("tenant"))
}
