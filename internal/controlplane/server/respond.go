package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/betbot/bothost/internal/archive"
	"github.com/betbot/bothost/internal/domain"
	"github.com/betbot/bothost/internal/upload"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: errorCode(code), Message: msg})
}

// writeDomainError 把领域错误映射到 HTTP 状态码
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyRunning), errors.Is(err, domain.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPathTraversal),
		errors.Is(err, domain.ErrEntryFileNotFound),
		errors.Is(err, archive.ErrUnsupportedArchive),
		errors.Is(err, archive.ErrTooLarge),
		errors.Is(err, upload.ErrTooLarge),
		errors.As(err, &tooBig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(code int) string {
	switch code {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}
