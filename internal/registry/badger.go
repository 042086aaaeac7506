package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/betbot/bothost/internal/domain"
	"github.com/betbot/bothost/pkg/kvstore"
)

const botKeyPrefix = "bot/"

// Badger 每个 bot 一条 JSON 记录，key 为 bot/<id>
type Badger struct {
	kv *kvstore.Store
}

func OpenBadger(opts kvstore.OpenOptions) (*Badger, error) {
	kv, err := kvstore.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{kv: kv}, nil
}

func (b *Badger) Close() error {
	return b.kv.Close()
}

func (b *Badger) List(ctx context.Context) ([]domain.Bot, error) {
	out := []domain.Bot{}
	err := b.kv.Scan(botKeyPrefix, func(_ string, val []byte) error {
		var bot domain.Bot
		if err := json.Unmarshal(val, &bot); err != nil {
			return err
		}
		out = append(out, bot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func (b *Badger) Get(ctx context.Context, id string) (*domain.Bot, error) {
	val, err := b.kv.Get(botKeyPrefix + id)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var bot domain.Bot
	if err := json.Unmarshal(val, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

func (b *Badger) Create(ctx context.Context, in domain.NewBot) (*domain.Bot, error) {
	bot := newRecord(in)
	val, err := json.Marshal(bot)
	if err != nil {
		return nil, err
	}
	if err := b.kv.Set(botKeyPrefix+bot.ID, val); err != nil {
		return nil, fmt.Errorf("insert bot: %w", err)
	}
	return &bot, nil
}

func (b *Badger) Update(ctx context.Context, id string, p domain.Patch) (*domain.Bot, error) {
	var out *domain.Bot
	err := b.kv.Modify(botKeyPrefix+id, func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, nil
		}
		var bot domain.Bot
		if err := json.Unmarshal(cur, &bot); err != nil {
			return nil, err
		}
		next := p.Apply(bot)
		out = &next
		return json.Marshal(next)
	})
	if err != nil {
		return nil, fmt.Errorf("update bot: %w", err)
	}
	return out, nil
}

func (b *Badger) Delete(ctx context.Context, id string) (bool, error) {
	return b.kv.Delete(botKeyPrefix + id)
}

func sortNewestFirst(bots []domain.Bot) {
	sort.SliceStable(bots, func(i, j int) bool {
		return bots[i].UploadDate.After(bots[j].UploadDate)
	})
}
