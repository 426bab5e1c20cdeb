package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunUnknownCommand(t *testing.T) {
	err := run([]string{"frobnicate"})
	assert.ErrorContains(t, err, "unknown command")
}

func TestKeyFlagsPresence(t *testing.T) {
	var kf keyFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	kf.register(fs)
	require.NoError(t, fs.Parse([]string{"--source", "http://x/y.png", "--version="}))

	key, err := kf.key(fs)
	require.NoError(t, err)
	assert.Nil(t, key.UUID)
	require.NotNil(t, key.SourceReference)
	assert.Equal(t, "http://x/y.png", *key.SourceReference)
	require.NotNil(t, key.Version)
	assert.Equal(t, "", *key.Version)
}

func TestKeyFlagsInvalidUUID(t *testing.T) {
	var kf keyFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	kf.register(fs)
	require.NoError(t, fs.Parse([]string{"--uuid", "nope"}))

	_, err := kf.key(fs)
	assert.Error(t, err)
}

func TestInitWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, run([]string{"init", "--config", path}))
	_, err := os.Stat(path)
	require.NoError(t, err)

	assert.Error(t, run([]string{"init", "--config", path}))
	assert.NoError(t, run([]string{"init", "--config", path, "--force"}))
}

func TestRegisterRequiresFlags(t *testing.T) {
	assert.ErrorContains(t, run([]string{"register", "--domain", "cache"}), "required")
	assert.ErrorContains(t, run([]string{"lookup"}), "required")
}
