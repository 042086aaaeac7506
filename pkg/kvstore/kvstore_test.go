package kvstore

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_GetSetDelete(t *testing.T) {
	s := openMem(t)

	_, err := s.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set("a", []byte("1")))
	v, err := s.Get("a")
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	ok, err := s.Delete("a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Delete("a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_ModifyAndScan(t *testing.T) {
	s := openMem(t)
	require.NoError(t, s.Set("p/1", []byte("a")))
	require.NoError(t, s.Set("p/2", []byte("b")))
	require.NoError(t, s.Set("q/1", []byte("c")))

	require.NoError(t, s.Modify("p/1", func(cur []byte) ([]byte, error) {
		return append(cur, 'x'), nil
	}))
	// nil result leaves a missing key absent
	require.NoError(t, s.Modify("p/9", func(cur []byte) ([]byte, error) {
		require.Nil(t, cur)
		return nil, nil
	}))

	var got []string
	require.NoError(t, s.Scan("p/", func(k string, v []byte) error {
		got = append(got, k+"="+string(v))
		return nil
	}))
	require.Equal(t, []string{"p/1=ax", "p/2=b"}, got)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(OpenOptions{})
	require.Error(t, err)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("")
	require.NoError(t, err)
	require.Nil(t, k)

	k, err = ParseKey("0x" + strings.Repeat("ab", 32))
	require.NoError(t, err)
	require.Len(t, k, 32)

	k, err = ParseKey(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	require.Len(t, k, 32)

	_, err = ParseKey("abcd")
	require.Error(t, err)
	_, err = ParseKey("not a key!")
	require.Error(t, err)
}
