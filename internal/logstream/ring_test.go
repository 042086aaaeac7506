package logstream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBuffer_KeepsLastCapacityLines(t *testing.T) {
	r := NewRingBuffer(1000)
	for i := 0; i < 1200; i++ {
		r.Append(NewLine(LevelInfo, fmt.Sprintf("line %d", i)))
	}
	snap := r.Snapshot()
	require.Len(t, snap, 1000)
	require.Equal(t, "line 200", snap[0].Message)
	require.Equal(t, "line 1199", snap[999].Message)
	for i := 1; i < len(snap); i++ {
		require.Greater(t, snap[i].Seq, snap[i-1].Seq)
	}
}

func TestRingBuffer_PartialAndEmpty(t *testing.T) {
	r := NewRingBuffer(3)
	require.NotNil(t, r.Snapshot())
	require.Empty(t, r.Snapshot())

	r.Append(NewLine(LevelInfo, "a\n"))
	r.Append(NewLine(LevelError, "b"))
	snap := r.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "a", snap[0].Message)
	require.Equal(t, LevelError, snap[1].Level)

	r.Append(NewLine(LevelInfo, "c"))
	r.Append(NewLine(LevelInfo, "d"))
	snap = r.Snapshot()
	require.Equal(t, []string{"b", "c", "d"}, messages(snap))
	require.Equal(t, 3, r.Len())
	require.Equal(t, 3, r.Cap())
}

func TestRingBuffer_DefaultCapacity(t *testing.T) {
	require.Equal(t, DefaultCapacity, NewRingBuffer(0).Cap())
}

func TestRingBuffer_SnapshotIsCopy(t *testing.T) {
	r := NewRingBuffer(2)
	r.Append(NewLine(LevelInfo, "a"))
	snap := r.Snapshot()
	snap[0].Message = "mutated"
	require.Equal(t, "a", r.Snapshot()[0].Message)
}

func messages(lines []Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Message
	}
	return out
}
