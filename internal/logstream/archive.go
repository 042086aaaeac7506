package logstream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileArchive is a Sink that keeps every bot's output on disk under
// <dir>/bots/<id>/bot.log, rotated by lumberjack.
type FileArchive struct {
	dir        string
	maxSize    int
	maxBackups int

	mu      sync.Mutex
	writers map[string]*lumberjack.Logger
}

// NewFileArchive maxSizeMB/maxBackups follow lumberjack semantics (0 = lumberjack default).
func NewFileArchive(dir string, maxSizeMB, maxBackups int) *FileArchive {
	return &FileArchive{
		dir:        dir,
		maxSize:    maxSizeMB,
		maxBackups: maxBackups,
		writers:    make(map[string]*lumberjack.Logger),
	}
}

func (a *FileArchive) Path(botID string) string {
	return filepath.Join(a.dir, "bots", botID, "bot.log")
}

// Publish implements Sink. Write errors are dropped; the archive is best-effort.
func (a *FileArchive) Publish(botID string, l Line) {
	if botID == "" || strings.ContainsAny(botID, `/\`) || botID == "." || botID == ".." {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.writers[botID]
	if !ok {
		w = &lumberjack.Logger{
			Filename:   a.Path(botID),
			MaxSize:    a.maxSize,
			MaxBackups: a.maxBackups,
		}
		a.writers[botID] = w
	}
	_, _ = fmt.Fprintf(w, "%s [%s] %s\n", l.Time.Format(time.RFC3339), l.Level, l.Message)
}

// Tail returns up to n of the most recent archived lines of botID.
func (a *FileArchive) Tail(botID string, n int) ([]string, error) {
	a.mu.Lock()
	path := a.Path(botID)
	a.mu.Unlock()
	lines, err := tailLines(path, n, 256*1024)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	return lines, err
}

// Remove closes the bot's writer and deletes its archived logs.
func (a *FileArchive) Remove(botID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.writers[botID]; ok {
		_ = w.Close()
		delete(a.writers, botID)
	}
	return os.RemoveAll(filepath.Dir(a.Path(botID)))
}

func (a *FileArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var first error
	for id, w := range a.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(a.writers, id)
	}
	return first
}

// tailLines: 从文件末尾最多读取 maxBytes，取最后 n 行。
func tailLines(path string, n int, maxBytes int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size <= 0 {
		return []string{}, nil
	}

	start := int64(0)
	if size > maxBytes {
		start = size - maxBytes
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	r := bufio.NewReader(f)
	if start > 0 {
		// 丢弃被截断的第一行
		if _, err := r.ReadString('\n'); err != nil {
			return []string{}, nil
		}
	}
	lines := []string{}
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
			if len(lines) > n {
				// 只保留最后 n 行（滑动窗口）
				lines = lines[len(lines)-n:]
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	return lines, nil
}
