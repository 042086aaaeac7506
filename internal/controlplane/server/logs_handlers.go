package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/bothost/internal/domain"
)

// handleBotLogs 返回当前进程 ring buffer 中的日志
func (s *Server) handleBotLogs(w http.ResponseWriter, r *http.Request) {
	botID := urlParam(r, "botID")
	if !s.botExists(w, r, botID) {
		return
	}
	writeJSON(w, http.StatusOK, s.sup.GetLogs(botID))
}

// handleBotLogsHistory 返回归档日志文件的最后 N 行（跨进程重启保留）
func (s *Server) handleBotLogsHistory(w http.ResponseWriter, r *http.Request) {
	botID := urlParam(r, "botID")
	if !s.botExists(w, r, botID) {
		return
	}

	tailN := 200
	if v := strings.TrimSpace(r.URL.Query().Get("tail")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 5000 {
			tailN = n
		}
	}

	lines := []string{}
	if s.history != nil {
		var err error
		if lines, err = s.history.Tail(botID, tailN); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("read log: %v", err))
			return
		}
		if lines == nil {
			lines = []string{}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"botId": botID, "lines": lines})
}

func (s *Server) botExists(w http.ResponseWriter, r *http.Request, botID string) bool {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	b, err := s.reg.Get(ctx, botID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get bot: %v", err))
		return false
	}
	if b == nil {
		writeDomainError(w, domain.ErrNotFound)
		return false
	}
	return true
}
