package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/betbot/bothost/internal/domain"
)

const (
	lifecycleTimeout = 30 * time.Second
	uploadTimeout    = 10 * time.Minute // 含 npm install
)

func (s *Server) handleBotsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	bots, err := s.reg.List(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list bots: %v", err))
		return
	}
	if bots == nil {
		bots = []domain.Bot{}
	}
	writeJSON(w, http.StatusOK, bots)
}

func (s *Server) handleBotGet(w http.ResponseWriter, r *http.Request) {
	botID := urlParam(r, "botID")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	b, err := s.reg.Get(ctx, botID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get bot: %v", err))
		return
	}
	if b == nil {
		writeDomainError(w, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, botView{Bot: *b, Running: s.sup.Running(botID)})
}

func (s *Server) handleBotsUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+(1<<20))
	ctx, cancel := context.WithTimeout(r.Context(), uploadTimeout)
	defer cancel()

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data with a \"bot\" file field")
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeDomainError(w, fmt.Errorf("read upload: %w", err))
			return
		}
		if part.FormName() != "bot" || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		bot, err := s.upload.Ingest(ctx, part.FileName(), part)
		_ = part.Close()
		if err != nil {
			log.Warnf("upload failed: file=%s err=%v", part.FileName(), err)
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bot)
		return
	}
	writeError(w, http.StatusBadRequest, "No file uploaded")
}

func (s *Server) handleBotStart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.sup.Start)
}

func (s *Server) handleBotStop(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.sup.Stop)
}

func (s *Server) handleBotRestart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.sup.Restart)
}

// lifecycle 执行 start/stop/restart 并返回最新的 bot 记录
func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	botID := urlParam(r, "botID")
	ctx, cancel := context.WithTimeout(r.Context(), lifecycleTimeout)
	defer cancel()

	if err := op(ctx, botID); err != nil {
		writeDomainError(w, err)
		return
	}
	b, err := s.reg.Get(ctx, botID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get bot: %v", err))
		return
	}
	if b == nil {
		writeDomainError(w, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleBotDelete(w http.ResponseWriter, r *http.Request) {
	botID := urlParam(r, "botID")
	ctx, cancel := context.WithTimeout(r.Context(), lifecycleTimeout)
	defer cancel()

	if err := s.sup.Delete(ctx, botID); err != nil {
		writeDomainError(w, err)
		return
	}
	if s.history != nil {
		if err := s.history.Remove(botID); err != nil {
			log.Warnf("remove log history failed: bot=%s err=%v", botID, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
