package syncgroup

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncGroup_RunWait(t *testing.T) {
	var n atomic.Int32
	sg := NewSyncGroup()
	for i := 0; i < 5; i++ {
		sg.Add(func() { n.Add(1) })
	}
	sg.Add(nil)
	require.Equal(t, int32(0), n.Load())

	sg.Run()
	sg.Wait()
	require.Equal(t, int32(5), n.Load())

	// 已运行的函数不会被再次启动
	sg.Run()
	sg.Wait()
	require.Equal(t, int32(5), n.Load())
}

func TestSyncGroup_WaitAndClear(t *testing.T) {
	var n atomic.Int32
	sg := NewSyncGroup()
	sg.Add(func() { n.Add(1) })
	sg.Run()
	sg.Add(func() { n.Add(10) })
	sg.WaitAndClear()
	sg.Run()
	sg.Wait()
	require.Equal(t, int32(1), n.Load())
}
