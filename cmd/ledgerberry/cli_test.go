package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestInitThenStatus(t *testing.T) {
	home := t.TempDir()
	configPath := filepath.Join(home, "config.toml")

	out := execute(t, "init", "--data-dir", home, "--chain-id", "cli-test", "--power", "7")
	assert.Contains(t, out, "Initialized Ledgerberry node")
	assert.Contains(t, out, "cli-test")

	rootCmd.SetArgs([]string{"init", "--data-dir", home})
	require.Error(t, rootCmd.Execute(), "init refuses to overwrite")

	out = execute(t, "status", "--config", configPath, "--json")
	var status StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "cli-test", status.ChainInfo.ChainID)
	assert.Equal(t, int64(0), status.TipInfo.Height)
	assert.Equal(t, status.ChainInfo.GenesisHash, status.TipInfo.Hash)
	assert.Equal(t, 1, status.ValidatorInfo.SetSize)
	assert.Equal(t, int64(7), status.ValidatorInfo.VotingPower)

	out = execute(t, "keys", "show", filepath.Join(home, "node_key.seed"))
	assert.Contains(t, out, status.ValidatorInfo.Address)
}

func TestVersion(t *testing.T) {
	out := execute(t, "version")
	assert.Contains(t, out, "Ledgerberry "+Version)
}
