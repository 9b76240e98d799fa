package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGraph = `
attributes:
  objects: {attr1: str, attr2: str}
objects:
  - {id: 1, attrs: {attr1: F, attr2: A}}
  - {id: 2, attrs: {attr1: M, attr2: B}}
  - {id: 3, attrs: {attr1: F}}
  - {id: 5, attrs: {attr1: F, attr2: C}}
`

const testPattern = `
name: women
vertices:
  - name: A
    condition:
      and:
        - test: {attr: attr1, op: eq, value: F}
        - test: {attr: attr2, op: exists}
`

func run(t *testing.T, fs vfs.FileSystem, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(fs)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func memoryFiles(t *testing.T) vfs.FileSystem {
	fs := memoryfs.New()
	t.Cleanup(func() { vfs.Cleanup(fs) })
	require.NoError(t, vfs.WriteFile(fs, "/graph.yaml", []byte(testGraph), 0o600))
	require.NoError(t, vfs.WriteFile(fs, "/pattern.yaml", []byte(testPattern), 0o600))
	return fs
}

func TestVersion(t *testing.T) {
	out, err := run(t, memoryfs.New(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Proximity v"+version)
}

func TestQuery_InMemory(t *testing.T) {
	fs := memoryFiles(t)

	out, err := run(t, fs, "--in-memory", "query", "--graph", "/graph.yaml", "--pattern", "/pattern.yaml", "--output", "women")
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded /graph.yaml: 4 objects, 0 links")
	assert.Contains(t, out, "Pattern women: 2 matches")
	assert.Contains(t, out, "Container: women")
}

func TestQuery_Errors(t *testing.T) {
	fs := memoryFiles(t)

	t.Run("pattern required", func(t *testing.T) {
		_, err := run(t, fs, "--in-memory", "query")
		assert.Error(t, err)
	})

	t.Run("missing pattern file", func(t *testing.T) {
		_, err := run(t, fs, "--in-memory", "query", "--pattern", "/nope.yaml")
		assert.Error(t, err)
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := run(t, fs, "--in-memory", "query", "--graph", "/graph.yaml", "--pattern", "/pattern.yaml", "--source", "ghost")
		assert.Error(t, err)
	})

	t.Run("bad log level", func(t *testing.T) {
		_, err := run(t, fs, "--in-memory", "--log-level", "chatty", "version")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	fs := memoryFiles(t)

	out, err := run(t, fs, "--in-memory", "validate", "--pattern", "/pattern.yaml", "--graph", "/graph.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Pattern women is valid (1 vertices, 0 edges, 0 constraints)")

	require.NoError(t, vfs.WriteFile(fs, "/bad.yaml", []byte(`
vertices:
  - name: A
    condition:
      test: {attr: height, op: gt, value: 3}
`), 0o600))
	out, err = run(t, fs, "--in-memory", "validate", "--pattern", "/bad.yaml", "--graph", "/graph.yaml")
	assert.Error(t, err)
	assert.Contains(t, out, "height")
}

func TestContainers_Persistent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "graph.yaml"), []byte(testGraph), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pattern.yaml"), []byte(testPattern), 0o600))
	fs := osfs.New()
	dataDir := filepath.Join(dir, "data")

	_, err := run(t, fs, "--data-dir", dataDir, "load", "--graph", filepath.Join(dir, "graph.yaml"))
	require.NoError(t, err)

	_, err = run(t, fs, "--data-dir", dataDir, "query", "--pattern", filepath.Join(dir, "pattern.yaml"), "--output", "women")
	require.NoError(t, err)

	out, err := run(t, fs, "--data-dir", dataDir, "containers", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "women")

	out, err = run(t, fs, "--data-dir", dataDir, "containers", "show", "women")
	require.NoError(t, err)
	assert.Contains(t, out, "Container women: 2 matches")
	assert.Contains(t, out, "[A.1]")
	assert.Contains(t, out, "[A.5]")
	assert.NotContains(t, out, "vertices:")

	out, err = run(t, fs, "--data-dir", dataDir, "containers", "show", "women", "--query")
	require.NoError(t, err)
	assert.Contains(t, out, "name: women")
	assert.Contains(t, out, "vertices:")

	t.Run("query restricted to a container", func(t *testing.T) {
		out, err := run(t, fs, "--data-dir", dataDir, "query", "--pattern", filepath.Join(dir, "pattern.yaml"), "--source", "women", "--output", "again")
		require.NoError(t, err)
		assert.Contains(t, out, "2 matches")
	})

	_, err = run(t, fs, "--data-dir", dataDir, "containers", "delete", "women")
	require.NoError(t, err)

	_, err = run(t, fs, "--data-dir", dataDir, "containers", "show", "women")
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	fs := memoryFiles(t)
	require.NoError(t, vfs.WriteFile(fs, "/proximity.yaml", []byte("storage:\n  inMemory: true\nengine:\n  cacheEnabled: false\n"), 0o600))

	out, err := run(t, fs, "--config", "/proximity.yaml", "query", "--graph", "/graph.yaml", "--pattern", "/pattern.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "2 matches")

	_, err = run(t, fs, "--config", "/missing.yaml", "version")
	assert.Error(t, err)
}
