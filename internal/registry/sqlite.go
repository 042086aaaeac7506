package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/betbot/bothost/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLite 默认 backend
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS bots (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  status TEXT NOT NULL,
  upload_date TEXT NOT NULL,
  entry_file TEXT NOT NULL,
  folder_path TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const botColumns = `id,name,status,upload_date,entry_file,folder_path`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (domain.Bot, error) {
	var b domain.Bot
	var status, uploaded string
	if err := row.Scan(&b.ID, &b.Name, &status, &uploaded, &b.EntryFile, &b.FolderPath); err != nil {
		return b, err
	}
	b.Status = domain.Status(status)
	b.UploadDate, _ = time.Parse(time.RFC3339Nano, uploaded)
	return b, nil
}

func (s *SQLite) List(ctx context.Context) ([]domain.Bot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY upload_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Bot{}
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) Get(ctx context.Context, id string) (*domain.Bot, error) {
	b, err := scanBot(s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id=?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (s *SQLite) Create(ctx context.Context, in domain.NewBot) (*domain.Bot, error) {
	b := newRecord(in)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bots (`+botColumns+`)
VALUES (?,?,?,?,?,?)
`, b.ID, b.Name, string(b.Status), b.UploadDate.Format(time.RFC3339Nano), b.EntryFile, b.FolderPath)
	if err != nil {
		return nil, fmt.Errorf("insert bot: %w", err)
	}
	return &b, nil
}

func (s *SQLite) Update(ctx context.Context, id string, p domain.Patch) (*domain.Bot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanBot(tx.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id=?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	next := p.Apply(cur)
	_, err = tx.ExecContext(ctx, `
UPDATE bots
SET name=?, status=?, entry_file=?, folder_path=?
WHERE id=?
`, next.Name, string(next.Status), next.EntryFile, next.FolderPath, id)
	if err != nil {
		return nil, fmt.Errorf("update bot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id=?`, id)
	if err != nil {
		return false, fmt.Errorf("delete bot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
