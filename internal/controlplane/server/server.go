package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/betbot/bothost/internal/logstream"
	"github.com/betbot/bothost/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "controlplane")

type Config struct {
	MaxUploadBytes int64 // multipart 请求体上限（额外留 1MB 给表单开销）
	WSSendBuffer   int   // 每个 websocket 客户端的发送缓冲（条）；需要能装下一次完整的 backlog
}

type Deps struct {
	Registry   registry.Registry
	Supervisor Supervisor
	Uploader   Uploader
	Hub        *logstream.Hub
	History    History // 可为空：不提供 /logs/history
}

type Server struct {
	cfg Config

	reg     registry.Registry
	sup     Supervisor
	upload  Uploader
	hub     *logstream.Hub
	history History

	upgrader  websocket.Upgrader
	startedAt time.Time
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if deps.Supervisor == nil {
		return nil, errors.New("supervisor is required")
	}
	if deps.Uploader == nil {
		return nil, errors.New("uploader is required")
	}
	if deps.Hub == nil {
		return nil, errors.New("hub is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.WSSendBuffer <= 0 {
		cfg.WSSendBuffer = 2 * logstream.DefaultCapacity
	}
	return &Server{
		cfg:     cfg,
		reg:     deps.Registry,
		sup:     deps.Supervisor,
		upload:  deps.Uploader,
		hub:     deps.Hub,
		history: deps.History,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 无鉴权，同 dashboard 一样接受任意来源
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startedAt: time.Now(),
	}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	r.GET("/uptime", s.wrap(s.handleUptime))
	r.GET("/ws", s.wrap(s.handleWS))

	api := r.Group("/api")

	bots := api.Group("/bots")
	bots.GET("", s.wrap(s.handleBotsList))
	bots.POST("/upload", s.wrap(s.handleBotsUpload))
	botID := bots.Group("/:botID")
	botID.GET("", s.wrap(s.handleBotGet))
	botID.DELETE("", s.wrap(s.handleBotDelete))
	botID.POST("/start", s.wrap(s.handleBotStart))
	botID.POST("/stop", s.wrap(s.handleBotStop))
	botID.POST("/restart", s.wrap(s.handleBotRestart))
	botID.GET("/logs", s.wrap(s.handleBotLogs))
	botID.GET("/logs/history", s.wrap(s.handleBotLogsHistory))

	return r
}

type paramsKeyType string

const paramsKey paramsKeyType = "bothost_path_params"

// wrap adapts net/http handlers to gin, injecting path params into request context.
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func urlParam(r *http.Request, key string) string {
	m, _ := r.Context().Value(paramsKey).(map[string]string)
	return m[key]
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "online",
		"uptime": time.Since(s.startedAt).Seconds(),
	})
}
