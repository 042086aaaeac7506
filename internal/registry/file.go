package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/betbot/bothost/internal/domain"
	"github.com/betbot/bothost/pkg/persistence"
)

type fileDoc struct {
	Bots []domain.Bot `json:"bots"`
}

// File keeps every record in one JSON document; each mutation rewrites it atomically.
type File struct {
	mu    sync.Mutex
	store *persistence.JSONFileStore
	bots  map[string]domain.Bot
}

func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("registry file path is required")
	}
	f := &File{
		store: persistence.NewJSONFileStore(path),
		bots:  make(map[string]domain.Bot),
	}
	var doc fileDoc
	if err := f.store.Load(&doc); err != nil && !errors.Is(err, persistence.ErrNotExists) {
		return nil, fmt.Errorf("load registry file: %w", err)
	}
	for _, b := range doc.Bots {
		f.bots[b.ID] = b
	}
	return f, nil
}

func (f *File) Close() error { return nil }

// flush 调用方持有 f.mu
func (f *File) flush() error {
	doc := fileDoc{Bots: make([]domain.Bot, 0, len(f.bots))}
	for _, b := range f.bots {
		doc.Bots = append(doc.Bots, b)
	}
	sortNewestFirst(doc.Bots)
	return f.store.Save(doc)
}

func (f *File) List(ctx context.Context) ([]domain.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Bot, 0, len(f.bots))
	for _, b := range f.bots {
		out = append(out, b)
	}
	sortNewestFirst(out)
	return out, nil
}

func (f *File) Get(ctx context.Context, id string) (*domain.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (f *File) Create(ctx context.Context, in domain.NewBot) (*domain.Bot, error) {
	b := newRecord(in)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bots[b.ID] = b
	if err := f.flush(); err != nil {
		delete(f.bots, b.ID)
		return nil, fmt.Errorf("insert bot: %w", err)
	}
	return &b, nil
}

func (f *File) Update(ctx context.Context, id string, p domain.Patch) (*domain.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.bots[id]
	if !ok {
		return nil, nil
	}
	next := p.Apply(cur)
	f.bots[id] = next
	if err := f.flush(); err != nil {
		f.bots[id] = cur
		return nil, fmt.Errorf("update bot: %w", err)
	}
	return &next, nil
}

func (f *File) Delete(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.bots[id]
	if !ok {
		return false, nil
	}
	delete(f.bots, id)
	if err := f.flush(); err != nil {
		f.bots[id] = cur
		return false, fmt.Errorf("delete bot: %w", err)
	}
	return true, nil
}
