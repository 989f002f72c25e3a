package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicy_EmptyPathIsNoPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Nil(t, p.Reactor)
}

func TestReactorPolicy_BareTrueRequiresMods(t *testing.T) {
	doc := "reactor: true\n"
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	require.NotNil(t, p.Reactor)
	assert.True(t, p.Reactor.Enabled)
	assert.False(t, p.Reactor.AllowNormalClients)
}

func TestReactorPolicy_BareFalseDisablesFramework(t *testing.T) {
	doc := "reactor: false\n"
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	require.NotNil(t, p.Reactor)
	assert.False(t, p.Reactor.Enabled)
}

func TestLoadPolicy_BareBoolAndObjectEntries(t *testing.T) {
	doc := `
reactor:
  allowNormalClients: false
  requireHostMods: true
  allowExtraMods: false
  mods:
    modA: true
    modB: false
    modC:
      version: ">=1.0.0"
      optional: true
`
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	require.NotNil(t, p.Reactor)
	assert.True(t, p.Reactor.Enabled)
	assert.False(t, p.Reactor.AllowNormalClients)
	assert.True(t, p.Reactor.RequireHostMods)

	assert.True(t, p.Reactor.Mods["modA"].Allowed)
	assert.False(t, p.Reactor.Mods["modB"].Allowed)
	assert.True(t, p.Reactor.Mods["modB"].Banned)
	assert.True(t, p.Reactor.Mods["modC"].Optional)
	assert.Equal(t, ">=1.0.0", p.Reactor.Mods["modC"].Version)
}

func TestConfig_VersionSet(t *testing.T) {
	c := Config{Versions: []string{"2024.6.30", " 2023.1.1 "}}
	set := c.VersionSet()
	_, ok := set["2024.6.30"]
	assert.True(t, ok)
	_, ok = set["2023.1.1"]
	assert.True(t, ok)
}
