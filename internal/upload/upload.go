// Package upload turns an uploaded archive into a registered, runnable bot.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/betbot/bothost/internal/archive"
	"github.com/betbot/bothost/internal/domain"
	"github.com/betbot/bothost/internal/installer"
	"github.com/betbot/bothost/internal/metrics"
	"github.com/betbot/bothost/internal/registry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "upload")

// ErrTooLarge 上传文件超过大小限制
var ErrTooLarge = errors.New("uploaded file exceeds the size limit")

type Options struct {
	BotsDir    string
	UploadsDir string
	MaxBytes   int64 // 默认 50MB
	Extractor  archive.Extractor
	Detector   archive.Detector
}

type Pipeline struct {
	reg     registry.Registry
	install installer.Hook
	opts    Options
}

func New(reg registry.Registry, install installer.Hook, opts Options) *Pipeline {
	if install == nil {
		install = installer.Noop{}
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 50 << 20
	}
	if opts.Extractor == (archive.Extractor{}) {
		opts.Extractor = archive.DefaultExtractor
	}
	if len(opts.Detector.Candidates) == 0 && len(opts.Detector.Signatures) == 0 {
		opts.Detector = archive.DefaultDetector
	}
	return &Pipeline{reg: reg, install: install, opts: opts}
}

// Ingest stores the upload in a temp file, extracts it to <BotsDir>/<uuid>, detects the entry
// file, runs the install hook and creates the record (status stopped). On failure nothing is
// left behind: the temp file and the extraction directory are both removed.
func (p *Pipeline) Ingest(ctx context.Context, originalName string, r io.Reader) (*domain.Bot, error) {
	bot, err := p.ingest(ctx, originalName, r)
	if err != nil {
		metrics.UploadFailures.Add(1)
		return nil, err
	}
	metrics.Uploads.Add(1)
	return bot, nil
}

func (p *Pipeline) ingest(ctx context.Context, originalName string, r io.Reader) (*domain.Bot, error) {
	base := filepath.Base(strings.ReplaceAll(originalName, "\\", "/"))
	if !archive.HasArchiveExt(base) {
		return nil, fmt.Errorf("%w: only %s files are allowed", archive.ErrUnsupportedArchive, strings.Join(archive.Extensions, ", "))
	}
	ext := base[len(archive.TrimArchiveExt(base)):]

	tmpPath, err := p.spool(ext, r)
	if tmpPath != "" {
		defer func() {
			if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Warnf("remove upload temp file failed: path=%s err=%v", tmpPath, rmErr)
			}
		}()
	}
	if err != nil {
		return nil, err
	}

	folderID := uuid.NewString()
	dest, err := filepath.Abs(filepath.Join(p.opts.BotsDir, folderID))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir bot dir: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = os.RemoveAll(dest)
		}
	}()

	if err := p.opts.Extractor.Extract(tmpPath, dest); err != nil {
		log.Warnf("extract upload failed: name=%s err=%v", base, err)
		return nil, err
	}

	entry, found, err := p.opts.Detector.Detect(dest)
	if err != nil {
		return nil, fmt.Errorf("detect entry file: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w (%s, or a %s file containing %s)", domain.ErrEntryFileNotFound,
			strings.Join(p.opts.Detector.Candidates, ", "),
			strings.Join(p.opts.Detector.Extensions, "/"),
			strings.Join(p.opts.Detector.Signatures, "/"))
	}

	// 依赖安装失败不阻塞上传
	if err := p.install.Install(ctx, dest); err != nil {
		log.Warnf("install dependencies failed, continuing: dir=%s err=%v", dest, err)
	}

	name := strings.TrimSpace(archive.TrimArchiveExt(base))
	if name == "" {
		name = "Bot-" + folderID[:8]
	}
	bot, err := p.reg.Create(ctx, domain.NewBot{
		Name:       name,
		Status:     domain.StatusStopped,
		EntryFile:  entry,
		FolderPath: dest,
	})
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	ok = true
	log.Infof("bot uploaded: bot=%s name=%s entry=%s dir=%s", bot.ID, bot.Name, entry, dest)
	return bot, nil
}

// spool copies r into a temp file under UploadsDir, keeping the archive suffix so the
// extractor can pick the format. The returned path is set whenever a file was created.
func (p *Pipeline) spool(ext string, r io.Reader) (string, error) {
	if err := os.MkdirAll(p.opts.UploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir uploads dir: %w", err)
	}
	f, err := os.CreateTemp(p.opts.UploadsDir, "upload-*"+strings.ToLower(ext))
	if err != nil {
		return "", err
	}
	path := f.Name()
	n, err := io.Copy(f, io.LimitReader(r, p.opts.MaxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return path, fmt.Errorf("write upload: %w", err)
	}
	if n > p.opts.MaxBytes {
		return path, fmt.Errorf("%w (%d MB)", ErrTooLarge, p.opts.MaxBytes>>20)
	}
	return path, nil
}
