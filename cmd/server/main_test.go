package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestOriginOf(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"ws://localhost:8000/embed/bridge/emb_1", "http://localhost:8000", false},
		{"wss://lab.example.com/embed/bridge/emb_1", "https://lab.example.com", false},
		{"ftp://lab.example.com/x", "", true},
		{"/embed/bridge/emb_1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := originOf(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func repoDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	project := filepath.Join(dir, "acme", "space-game")
	require.NoError(t, os.MkdirAll(filepath.Join(project, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "index.html"), []byte("<html><head></head></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project, "src", "main.ts"), []byte("boot()"), 0o644))
	t.Setenv("REPO_PROVIDER", "dir")
	t.Setenv("REPO_DIR", dir)
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "absent.env")))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		fetchOut = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestFetchPrintsFiles(t *testing.T) {
	repoDir(t)

	out, err := execute(t, "fetch", "https://github.com/acme/space-game")
	require.NoError(t, err)
	assert.Equal(t, "acme/space-game", gjson.Get(out, "repo").String())
	assert.Equal(t, "boot()", gjson.Get(out, `files.src/main\.ts`).String())
	assert.Contains(t, gjson.Get(out, `files.index\.html`).String(), "sandbox-bridge.js")
}

func TestFetchWritesDirectory(t *testing.T) {
	repoDir(t)
	outDir := filepath.Join(t.TempDir(), "game")

	_, err := execute(t, "fetch", "https://github.com/acme/space-game", "--out", outDir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "src", "main.ts"))
	require.NoError(t, err)
	assert.Equal(t, "boot()", string(data))
}

func TestFetchMissingRepository(t *testing.T) {
	repoDir(t)

	_, err := execute(t, "fetch", "https://github.com/acme/missing")
	assert.Error(t, err)
}
