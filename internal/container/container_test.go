package container

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurfaceFromURL(t *testing.T) {
	s, err := SurfaceFromURL("HTTP://LocalHost:5173/game/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5173", s.Origin)

	_, err = SurfaceFromURL("/relative")
	assert.ErrorIs(t, err, ErrNoSurface)
}

func TestPreview(t *testing.T) {
	p := NewPreview(".local.webcontainer.io.")

	inst, err := p.Start(context.Background(), Spec{ID: "emb_01HZX3"})
	require.NoError(t, err)
	assert.Equal(t, Surface{URL: "https://emb-01hzx3.local.webcontainer.io/", Origin: "https://emb-01hzx3.local.webcontainer.io"}, inst.Surface())
	assert.Nil(t, inst.Logs())

	require.NoError(t, inst.Close())
	require.NoError(t, inst.Close())
	select {
	case <-inst.Done():
	default:
		t.Fatal("Done not closed")
	}

	_, err = p.Start(context.Background(), Spec{ID: "___"})
	assert.Error(t, err)
}

func TestHostLabel(t *testing.T) {
	assert.Equal(t, "emb-abc", hostLabel("EMB_abc"))
	assert.Equal(t, "a-b", hostLabel("-a-b-"))
	assert.Len(t, hostLabel(strings.Repeat("x", 100)), 63)
}

func TestWriteFilesRejectsEscapes(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteFiles(dir, map[string]string{"src/main.ts": "x", "index.html": "<html>"}))
	data, err := os.ReadFile(filepath.Join(dir, "src", "main.ts"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	for _, bad := range []string{"../evil", "/etc/passwd", "a/../../b"} {
		assert.ErrorIs(t, WriteFiles(dir, map[string]string{bad: "x"}), ErrUnsafePath, bad)
	}
}

func requirePTY(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skip("no pseudo-terminal support")
	}
}

func TestProcessStartAndClose(t *testing.T) {
	requirePTY(t)
	base := t.TempDir()
	p := NewProcess(ProcessConfig{BaseDir: base, StartTimeout: 10 * time.Second}, nil)

	inst, err := p.Start(context.Background(), Spec{
		ID:      "emb_test",
		Files:   map[string]string{"index.html": "<html></html>"},
		Command: `test -f index.html && printf '\033[32m  Local:   http://localhost:5173/\033[0m\n' && sleep 30`,
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5173", inst.Surface().Origin)
	assert.Equal(t, "http://localhost:5173/", inst.Surface().URL)
	assert.Contains(t, strings.Join(inst.Logs(), "\n"), "Local:")

	require.NoError(t, inst.Close())
	select {
	case <-inst.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process still running")
	}

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace removed")
}

func TestProcessExitsWithoutURL(t *testing.T) {
	requirePTY(t)
	p := NewProcess(ProcessConfig{BaseDir: t.TempDir(), StartTimeout: 10 * time.Second}, nil)

	_, err := p.Start(context.Background(), Spec{ID: "emb_fail", Command: "echo boom; exit 1"})
	assert.ErrorIs(t, err, ErrNoSurface)
}

func TestProcessTimeout(t *testing.T) {
	requirePTY(t)
	p := NewProcess(ProcessConfig{BaseDir: t.TempDir(), StartTimeout: 200 * time.Millisecond}, nil)

	_, err := p.Start(context.Background(), Spec{ID: "emb_slow", Command: "sleep 30"})
	assert.ErrorIs(t, err, ErrNoSurface)

	_, err = p.Start(context.Background(), Spec{ID: "emb_none"})
	assert.Error(t, err)
}
