package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartAsync_ServesExpvar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := StartAsync(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	BotStarts.Add(1)
	resp, err := http.Get("http://" + s.Addr + "/debug/vars")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"bot_starts"`)
	require.Contains(t, string(body), `"ws_clients"`)
}
