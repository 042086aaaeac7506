package server

import (
	"context"
	"io"

	"github.com/betbot/bothost/internal/domain"
	"github.com/betbot/bothost/internal/logstream"
)

// Supervisor is the process control the handlers need.
type Supervisor interface {
	Start(ctx context.Context, botID string) error
	Stop(ctx context.Context, botID string) error
	Restart(ctx context.Context, botID string) error
	Delete(ctx context.Context, botID string) error
	GetLogs(botID string) []logstream.Line
	Running(botID string) bool
}

// Uploader turns an uploaded archive into a bot record.
type Uploader interface {
	Ingest(ctx context.Context, originalName string, r io.Reader) (*domain.Bot, error)
}

// History serves archived bot output.
type History interface {
	Tail(botID string, n int) ([]string, error)
	Remove(botID string) error
}

// botView 单个 bot 的详情（附带运行状态）
type botView struct {
	domain.Bot
	Running bool `json:"running"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// wsInbound 客户端 -> 服务端：{type:"subscribe"|"unsubscribe", botId}
type wsInbound struct {
	Type  string `json:"type"`
	BotID string `json:"botId"`
}
