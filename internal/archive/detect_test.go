package archive_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/betbot/bothost/internal/archive"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func TestDetectEntryFile(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
		found bool
	}{
		{
			name:  "canonical order wins",
			files: map[string]string{"bot.js": "", "main.js": "", "index.js": ""},
			want:  "index.js",
			found: true,
		},
		{
			name:  "main before bot",
			files: map[string]string{"bot.js": "", "main.js": ""},
			want:  "main.js",
			found: true,
		},
		{
			name:  "signature scan",
			files: map[string]string{"server.js": "const c = new Client(); client.login(process.env.TOKEN)"},
			want:  "server.js",
			found: true,
		},
		{
			name:  "first signature match in name order",
			files: map[string]string{"b.js": "client.login(x)", "a.js": "client.login(y)", "0.txt": "client.login(z)"},
			want:  "a.js",
			found: true,
		},
		{
			name:  "unrelated script",
			files: map[string]string{"server.js": "require('http').createServer().listen(3000)"},
		},
		{
			name:  "signature only in nested dir",
			files: map[string]string{"src/app.js": "client.login()"},
		},
		{
			name: "empty dir",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, tt.files)
			got, found, err := archive.DetectEntryFile(dir)
			require.NoError(t, err)
			require.Equal(t, tt.found, found)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDetect_CandidateDirectoryIsIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "index.js"), 0o755))
	writeFiles(t, dir, map[string]string{"bot.js": ""})

	got, found, err := archive.DetectEntryFile(dir)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "bot.js", got)
}

func TestDetect_CustomDetector(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"run.sh": "#!/bin/sh\nexec ./bot --login\n"})

	d := archive.Detector{Candidates: []string{"start.sh"}, Extensions: []string{".sh"}, Signatures: []string{"--login"}}
	got, found, err := d.Detect(dir)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "run.sh", got)
}
