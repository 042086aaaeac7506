//go:build unix

package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/betbot/bothost/internal/domain"
	"github.com/betbot/bothost/internal/installer"
	"github.com/betbot/bothost/internal/logstream"
	"github.com/betbot/bothost/internal/registry"
	"github.com/betbot/bothost/internal/supervisor"
	"github.com/betbot/bothost/internal/upload"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const botScript = `echo hello
while true; do sleep 0.05; done
`

type testEnv struct {
	ts   *httptest.Server
	reg  registry.Registry
	sup  *supervisor.Supervisor
	hub  *logstream.Hub
	bots string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	reg, err := registry.OpenFile(filepath.Join(root, "bots.json"))
	require.NoError(t, err)
	arch := logstream.NewFileArchive(filepath.Join(root, "logs"), 1, 1)
	hub := logstream.NewHub(nil)
	sup := supervisor.New(reg, logstream.Tee(hub, arch), supervisor.Options{
		Command:         "sh",
		StopGracePeriod: 2 * time.Second,
		RestartSettle:   10 * time.Millisecond,
	})
	hub.SetBacklog(func(botID string) []logstream.Line {
		if botID == "marker" {
			return []logstream.Line{logstream.NewLine(logstream.LevelInfo, "marker")}
		}
		return sup.GetLogs(botID)
	})

	e := &testEnv{reg: reg, sup: sup, hub: hub, bots: filepath.Join(root, "bots")}
	pipeline := upload.New(reg, installer.Noop{}, upload.Options{
		BotsDir:    e.bots,
		UploadsDir: filepath.Join(root, "uploads"),
	})
	srv, err := New(Config{}, Deps{
		Registry:   reg,
		Supervisor: sup,
		Uploader:   pipeline,
		Hub:        hub,
		History:    arch,
	})
	require.NoError(t, err)

	e.ts = httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		e.ts.Close()
		_ = sup.StopAll(context.Background())
		_ = arch.Close()
		_ = reg.Close()
	})
	return e
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func (e *testEnv) upload(t *testing.T, filename string, data []byte) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("bot", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return e.do(t, http.MethodPost, "/api/bots/upload", &buf, mw.FormDataContentType())
}

func (e *testEnv) uploadBot(t *testing.T) domain.Bot {
	t.Helper()
	code, body := e.upload(t, "echo-bot.zip", zipBytes(t, map[string]string{"index.js": botScript}))
	require.Equal(t, http.StatusOK, code, string(body))
	var b domain.Bot
	require.NoError(t, json.Unmarshal(body, &b))
	return b
}

func decodeError(t *testing.T, body []byte) errorBody {
	t.Helper()
	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	return eb
}

func TestHealthAndUptime(t *testing.T) {
	e := newTestEnv(t)

	code, _ := e.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, code)

	code, body := e.do(t, http.MethodGet, "/uptime", nil, "")
	require.Equal(t, http.StatusOK, code)
	var up struct {
		Status string  `json:"status"`
		Uptime float64 `json:"uptime"`
	}
	require.NoError(t, json.Unmarshal(body, &up))
	require.Equal(t, "online", up.Status)
	require.GreaterOrEqual(t, up.Uptime, 0.0)
}

func TestBotLifecycle(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, http.MethodGet, "/api/bots", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `[]`, string(body))

	b := e.uploadBot(t)
	require.Equal(t, "echo-bot", b.Name)
	require.Equal(t, "index.js", b.EntryFile)
	require.Equal(t, domain.StatusStopped, b.Status)

	code, body = e.do(t, http.MethodGet, "/api/bots/"+b.ID, nil, "")
	require.Equal(t, http.StatusOK, code)
	var view struct {
		domain.Bot
		Running bool `json:"running"`
	}
	require.NoError(t, json.Unmarshal(body, &view))
	require.False(t, view.Running)

	code, body = e.do(t, http.MethodPost, "/api/bots/"+b.ID+"/start", nil, "")
	require.Equal(t, http.StatusOK, code, string(body))
	var started domain.Bot
	require.NoError(t, json.Unmarshal(body, &started))
	require.Equal(t, domain.StatusRunning, started.Status)

	code, body = e.do(t, http.MethodPost, "/api/bots/"+b.ID+"/start", nil, "")
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "conflict", decodeError(t, body).Error)

	require.Eventually(t, func() bool {
		code, body := e.do(t, http.MethodGet, "/api/bots/"+b.ID+"/logs", nil, "")
		if code != http.StatusOK {
			return false
		}
		var lines []logstream.Line
		require.NoError(t, json.Unmarshal(body, &lines))
		return len(lines) > 0 && lines[0].Message == "hello"
	}, 5*time.Second, 20*time.Millisecond)

	code, body = e.do(t, http.MethodPost, "/api/bots/"+b.ID+"/restart", nil, "")
	require.Equal(t, http.StatusOK, code, string(body))
	require.True(t, e.sup.Running(b.ID))

	code, body = e.do(t, http.MethodPost, "/api/bots/"+b.ID+"/stop", nil, "")
	require.Equal(t, http.StatusOK, code, string(body))
	var stopped domain.Bot
	require.NoError(t, json.Unmarshal(body, &stopped))
	require.Equal(t, domain.StatusStopped, stopped.Status)

	code, _ = e.do(t, http.MethodPost, "/api/bots/"+b.ID+"/stop", nil, "")
	require.Equal(t, http.StatusConflict, code)

	code, body = e.do(t, http.MethodGet, "/api/bots/"+b.ID+"/logs/history?tail=50", nil, "")
	require.Equal(t, http.StatusOK, code)
	var hist struct {
		BotID string   `json:"botId"`
		Lines []string `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(body, &hist))
	require.Equal(t, b.ID, hist.BotID)
	require.NotEmpty(t, hist.Lines)
	require.Contains(t, strings.Join(hist.Lines, "\n"), "hello")

	code, body = e.do(t, http.MethodDelete, "/api/bots/"+b.ID, nil, "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"success":true}`, string(body))
	require.NoDirExists(t, b.FolderPath)

	code, body = e.do(t, http.MethodGet, "/api/bots/"+b.ID, nil, "")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_found", decodeError(t, body).Error)
}

func TestUnknownBot(t *testing.T) {
	e := newTestEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/bots/nope"},
		{http.MethodPost, "/api/bots/nope/start"},
		{http.MethodDelete, "/api/bots/nope"},
		{http.MethodGet, "/api/bots/nope/logs"},
		{http.MethodGet, "/api/bots/nope/logs/history"},
	} {
		code, _ := e.do(t, tc.method, tc.path, nil, "")
		require.Equal(t, http.StatusNotFound, code, tc.method+" "+tc.path)
	}
	// 停止一个不存在的 bot：没有运行中的进程
	code, _ := e.do(t, http.MethodPost, "/api/bots/nope/stop", nil, "")
	require.Equal(t, http.StatusConflict, code)
}

func TestUploadRejected(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.upload(t, "evil.zip", zipBytes(t, map[string]string{"index.js": botScript, "../../escape.js": "x"}))
	require.Equal(t, http.StatusBadRequest, code, string(body))
	require.Contains(t, decodeError(t, body).Message, "path traversal")

	code, body = e.upload(t, "docs.zip", zipBytes(t, map[string]string{"README.md": "hi"}))
	require.Equal(t, http.StatusBadRequest, code, string(body))

	code, _ = e.upload(t, "bot.rar", []byte("rar"))
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/api/bots/upload", strings.NewReader("{}"), "application/json")
	require.Equal(t, http.StatusBadRequest, code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "no file"))
	require.NoError(t, mw.Close())
	code, _ = e.do(t, http.MethodPost, "/api/bots/upload", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusBadRequest, code)

	entries, err := os.ReadDir(e.bots)
	if err == nil {
		require.Empty(t, entries)
	}
	list, err := e.reg.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
}

func readMessage(t *testing.T, conn *websocket.Conn) logstream.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m logstream.Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestWebsocketSubscribe(t *testing.T) {
	e := newTestEnv(t)
	b := e.uploadBot(t)
	require.NoError(t, e.sup.Start(context.Background(), b.ID))
	require.Eventually(t, func() bool { return len(e.sup.GetLogs(b.ID)) > 0 }, 5*time.Second, 20*time.Millisecond)

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsInbound{Type: "subscribe", BotID: b.ID}))

	// backlog first
	m := readMessage(t, conn)
	require.Equal(t, "log", m.Type)
	require.Equal(t, b.ID, m.BotID)
	require.Equal(t, "hello", m.Message)
	require.Equal(t, logstream.LevelInfo, m.Level)

	// then live lines, without replaying the backlog
	e.hub.Publish(b.ID, logstream.NewLine(logstream.LevelWarn, "live-line"))
	m = readMessage(t, conn)
	require.Equal(t, "live-line", m.Message)
	require.Equal(t, logstream.LevelWarn, m.Level)

	// unsubscribe, then subscribe to a bot whose backlog acts as a barrier
	require.NoError(t, conn.WriteJSON(wsInbound{Type: "unsubscribe", BotID: b.ID}))
	require.NoError(t, conn.WriteJSON(wsInbound{Type: "subscribe", BotID: "marker"}))
	m = readMessage(t, conn)
	require.Equal(t, "marker", m.BotID)

	e.hub.Publish(b.ID, logstream.NewLine(logstream.LevelInfo, "late"))
	e.hub.Publish("marker", logstream.NewLine(logstream.LevelInfo, "marker-2"))
	m = readMessage(t, conn)
	require.Equal(t, "marker", m.BotID)
	require.Equal(t, "marker-2", m.Message)
}

func TestWebsocketDisconnectUnregisters(t *testing.T) {
	e := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.hub.Count() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return e.hub.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusNotFound, statusFor(domain.ErrNotFound))
	require.Equal(t, http.StatusConflict, statusFor(domain.ErrAlreadyRunning))
	require.Equal(t, http.StatusBadRequest, statusFor(domain.ErrEntryFileNotFound))
	require.Equal(t, http.StatusBadRequest, statusFor(upload.ErrTooLarge))
	require.Equal(t, http.StatusInternalServerError, statusFor(domain.ErrSpawn))
}
