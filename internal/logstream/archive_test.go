package logstream

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileArchive_PublishAndTail(t *testing.T) {
	dir := t.TempDir()
	a := NewFileArchive(dir, 1, 1)
	defer a.Close()

	for i := 0; i < 5; i++ {
		a.Publish("bot1", NewLine(LevelInfo, fmt.Sprintf("line %d", i)))
	}
	a.Publish("bot1", NewLine(LevelError, "boom"))

	lines, err := a.Tail("bot1", 2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "[info] line 4")
	require.Contains(t, lines[1], "[error] boom")
	require.FileExists(t, filepath.Join(dir, "bots", "bot1", "bot.log"))
}

func TestFileArchive_TailMissing(t *testing.T) {
	a := NewFileArchive(t.TempDir(), 0, 0)
	lines, err := a.Tail("nobody", 10)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestFileArchive_RejectsUnsafeIDs(t *testing.T) {
	dir := t.TempDir()
	a := NewFileArchive(filepath.Join(dir, "logs"), 0, 0)
	defer a.Close()
	a.Publish("../escape", NewLine(LevelInfo, "x"))
	_, err := os.Stat(filepath.Join(dir, "escape"))
	require.True(t, os.IsNotExist(err))
}

func TestFileArchive_Remove(t *testing.T) {
	dir := t.TempDir()
	a := NewFileArchive(dir, 0, 0)
	a.Publish("bot1", NewLine(LevelInfo, "x"))
	require.NoError(t, a.Remove("bot1"))
	_, err := os.Stat(filepath.Join(dir, "bots", "bot1"))
	require.True(t, os.IsNotExist(err))
	require.NoError(t, a.Close())
}

func TestTailLines_TruncatedWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	require.NoError(t, os.WriteFile(path, []byte("aaaa\nbbbb\ncccc\n"), 0o644))

	lines, err := tailLines(path, 10, 8)
	require.NoError(t, err)
	require.Equal(t, []string{"cccc"}, lines)
}
