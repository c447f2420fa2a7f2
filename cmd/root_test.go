package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"process", "serve", "sessions", "listings", "sweep"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "ingest-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestProcessCommand_Flags(t *testing.T) {
	flag := processCmd.Flags().Lookup("owner")
	require.NotNil(t, flag, "process command should have --owner flag")

	fileFlag := processCmd.Flags().Lookup("file")
	require.NotNil(t, fileFlag, "process command should have --file flag")

	srcFlag := processCmd.Flags().Lookup("source")
	require.NotNil(t, srcFlag, "process command should have --source flag")
	assert.Equal(t, "file", srcFlag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestSessionsCommand_HasSubcommands(t *testing.T) {
	cmds := sessionsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"list", "show", "retry", "review", "promote", "stats"}
	for _, name := range expected {
		assert.True(t, names[name], "expected sessions subcommand %q not found", name)
	}
}

func TestListingsCommand_HasSubcommands(t *testing.T) {
	cmds := listingsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	assert.True(t, names["list"])
	assert.True(t, names["show"])
}

func TestSweepCommand_Flags(t *testing.T) {
	flag := sweepCmd.Flags().Lookup("older-than")
	require.NotNil(t, flag, "sweep command should have --older-than flag")
}
