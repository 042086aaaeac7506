package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPatchApply(t *testing.T) {
	b := Bot{ID: "a", Name: "old", Status: StatusStopped, EntryFile: "index.js", FolderPath: "/x"}

	name := "new"
	got := Patch{Name: &name}.Apply(b)
	require.Equal(t, "new", got.Name)
	require.Equal(t, StatusStopped, got.Status)
	require.Equal(t, "index.js", got.EntryFile)

	got = StatusPatch(StatusRunning).Apply(b)
	require.Equal(t, StatusRunning, got.Status)
	require.Equal(t, "old", got.Name)
	require.Equal(t, "old", b.Name, "apply must not mutate the input")
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusStopped, StatusRunning, StatusError, StatusRestarting} {
		require.True(t, s.Valid(), s)
	}
	require.False(t, Status("paused").Valid())
	require.False(t, Status("").Valid())
}
