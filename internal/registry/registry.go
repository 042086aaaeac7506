// Package registry persists bot metadata. All backends satisfy the same contract: Get and
// Update return nil, nil for an unknown id, Delete reports whether a record was removed.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/betbot/bothost/internal/domain"
	"github.com/betbot/bothost/pkg/config"
	"github.com/betbot/bothost/pkg/kvstore"
	"github.com/google/uuid"
)

type Registry interface {
	List(ctx context.Context) ([]domain.Bot, error)
	Get(ctx context.Context, id string) (*domain.Bot, error)
	Create(ctx context.Context, in domain.NewBot) (*domain.Bot, error)
	Update(ctx context.Context, id string, p domain.Patch) (*domain.Bot, error)
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}

// Open 按 driver 打开对应的 backend
func Open(cfg config.RegistryConfig) (Registry, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		return OpenSQLite(cfg.Path)
	case "badger":
		key, err := kvstore.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("registry encryption key: %w", err)
		}
		return OpenBadger(kvstore.OpenOptions{Path: cfg.Path, EncryptionKey: key})
	case "file":
		return OpenFile(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown registry driver %q", cfg.Driver)
	}
}

// newRecord builds the record Create persists.
func newRecord(in domain.NewBot) domain.Bot {
	status := in.Status
	if status == "" {
		status = domain.StatusStopped
	}
	return domain.Bot{
		ID:         uuid.NewString(),
		Name:       in.Name,
		Status:     status,
		UploadDate: time.Now().UTC(),
		EntryFile:  in.EntryFile,
		FolderPath: in.FolderPath,
	}
}
