package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Detector finds the script a bot should be started with.
type Detector struct {
	Candidates []string // probed in order
	Extensions []string // top-level files considered for the signature scan
	Signatures []string // any of these marks a file as a bot entry point
	MaxScan    int64    // bytes read per file during the scan, 0 means whole file
}

// DefaultDetector 默认探测 index.js / main.js / bot.js，否则查找包含 client.login 的 .js 文件
var DefaultDetector = Detector{
	Candidates: []string{"index.js", "main.js", "bot.js"},
	Extensions: []string{".js"},
	Signatures: []string{"client.login"},
	MaxScan:    4 << 20,
}

// DetectEntryFile runs DefaultDetector against dir.
func DetectEntryFile(dir string) (string, bool, error) {
	return DefaultDetector.Detect(dir)
}

// Detect returns the entry file relative to dir. found is false when neither a canonical
// name nor a signature match exists; that is not an error.
func (d Detector) Detect(dir string) (entry string, found bool, err error) {
	for _, name := range d.Candidates {
		st, err := os.Stat(filepath.Join(dir, name))
		if err == nil && st.Mode().IsRegular() {
			return name, true, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", false, fmt.Errorf("stat %s: %w", name, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, fmt.Errorf("read dir: %w", err)
	}
	// ReadDir already sorts by name; keep it explicit since order decides the winner
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if !e.Type().IsRegular() || !d.hasExt(e.Name()) {
			continue
		}
		ok, err := d.containsSignature(filepath.Join(dir, e.Name()))
		if err != nil {
			return "", false, err
		}
		if ok {
			return e.Name(), true, nil
		}
	}
	return "", false, nil
}

func (d Detector) hasExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range d.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func (d Detector) containsSignature(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if d.MaxScan > 0 {
		_, err = buf.ReadFrom(io.LimitReader(f, d.MaxScan))
	} else {
		_, err = buf.ReadFrom(f)
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	for _, sig := range d.Signatures {
		if bytes.Contains(buf.Bytes(), []byte(sig)) {
			return true, nil
		}
	}
	return false, nil
}
