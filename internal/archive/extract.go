// Package archive turns an untrusted uploaded archive into a runnable directory.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/betbot/bothost/internal/domain"
)

var (
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	ErrTooLarge           = errors.New("archive expands beyond the allowed size")
)

// Extensions lists the archive suffixes SafeExtract understands.
var Extensions = []string{".zip", ".tar.gz", ".tgz"}

// HasArchiveExt reports whether name ends in one of Extensions (case-insensitive).
func HasArchiveExt(name string) bool {
	return TrimArchiveExt(name) != name
}

// TrimArchiveExt strips a recognised archive suffix from name.
func TrimArchiveExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range Extensions {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// Extractor unpacks archives. MaxBytes bounds the total uncompressed size, 0 means no limit.
type Extractor struct {
	MaxBytes int64
}

// DefaultExtractor 默认解压上限 512MB（上传本身限制 50MB，防 zip bomb）
var DefaultExtractor = Extractor{MaxBytes: 512 << 20}

// SafeExtract unpacks archivePath into destDir using DefaultExtractor.
func SafeExtract(archivePath, destDir string) error {
	return DefaultExtractor.Extract(archivePath, destDir)
}

// Extract unpacks archivePath into destDir. Every non-directory entry is validated twice:
// its stored name must be relative without ".." segments, and the resolved path must stay
// inside destDir. The first bad entry aborts the extraction; removing whatever was already
// written is up to the caller.
func (e Extractor) Extract(archivePath, destDir string) error {
	root, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("resolve dest dir: %w", err)
	}
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return e.extractZip(archivePath, root)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return e.extractTarGz(archivePath, root)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(archivePath))
	}
}

func (e Extractor) extractZip(archivePath, root string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil && (zr == nil || !errors.Is(err, zip.ErrInsecurePath)) {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	budget := e.newBudget()
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		target, err := resolveEntry(root, f.Name)
		if err != nil {
			return err
		}
		if target == "" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		err = writeEntry(target, budget.reader(rc), f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
		if budget.exceeded() {
			return ErrTooLarge
		}
	}
	return nil
}

func (e Extractor) extractTarGz(archivePath, root string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	budget := e.newBudget()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("read tar: %w", err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
		case tar.TypeSymlink, tar.TypeLink:
			// links can point anywhere, the name check alone is not enough
			return fmt.Errorf("%w: link entry %s", domain.ErrPathTraversal, hdr.Name)
		default:
			continue
		}
		target, err := resolveEntry(root, hdr.Name)
		if err != nil {
			return err
		}
		if target == "" {
			continue
		}
		if err := writeEntry(target, budget.reader(tr), hdr.FileInfo().Mode()); err != nil {
			return err
		}
		if budget.exceeded() {
			return ErrTooLarge
		}
	}
}

// resolveEntry validates an entry name and returns its absolute target inside root.
// An empty target means the entry names root itself and carries nothing to write.
func resolveEntry(root, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	if isAbsName(name) || hasParentSegment(name) {
		return "", fmt.Errorf("%w: invalid entry %s", domain.ErrPathTraversal, name)
	}
	target := filepath.Join(root, filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if target == root {
		return "", nil
	}
	if !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", domain.ErrPathTraversal, name)
	}
	return target, nil
}

func isAbsName(name string) bool {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return true
	}
	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return true
	}
	// "C:foo" style names are drive-relative on windows
	return len(name) >= 2 && name[1] == ':'
}

func hasParentSegment(name string) bool {
	for _, seg := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(target), err)
	}
	perm := os.FileMode(0o644)
	if mode&0o111 != 0 {
		perm = 0o755
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}

type budget struct {
	limit int64
	used  int64
}

func (e Extractor) newBudget() *budget {
	return &budget{limit: e.MaxBytes}
}

// reader caps a single entry at the remaining budget plus one byte so exceeding is detectable.
func (b *budget) reader(r io.Reader) io.Reader {
	if b.limit <= 0 {
		return r
	}
	remaining := b.limit - b.used
	if remaining < 0 {
		remaining = 0
	}
	return &countingReader{r: io.LimitReader(r, remaining+1), n: &b.used}
}

func (b *budget) exceeded() bool {
	return b.limit > 0 && b.used > b.limit
}

type countingReader struct {
	r io.Reader
	n *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}
