// Package cache persists successful provider fetches in a local badger database
// so repeated runs inside the TTL skip the upstream call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/macrolens/internal/providers"
	"github.com/roach88/macrolens/internal/timeseries"
)

// DefaultTTL is used when Options.TTL is zero.
const DefaultTTL = 12 * time.Hour

// Options configures the cache database.
type Options struct {
	Dir      string
	TTL      time.Duration
	InMemory bool
	Logger   *slog.Logger
}

// Cache is a badger-backed store of fetch results.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats are hit/miss counters since Open.
type Stats struct {
	Hits   int64
	Misses int64
}

// Open opens (or creates) the cache under opts.Dir.
func Open(opts Options) (*Cache, error) {
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", opts.TTL)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("cache dir is required")
		}
		bopts = badger.DefaultOptions(filepath.Join(opts.Dir, "badger"))
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return &Cache{db: db, ttl: opts.TTL, logger: opts.Logger}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Wrap decorates p so that ok results are served from the cache.
func (c *Cache) Wrap(p providers.Provider) providers.Provider {
	return &cachedProvider{cache: c, next: p}
}

type entry struct {
	Status  providers.Status `json:"status"`
	Message string           `json:"message"`
	Columns []string         `json:"columns"`
	Rows    [][]string       `json:"rows"`
}

func key(provider, symbol string, start, end time.Time) []byte {
	data, _ := json.Marshal(map[string]string{
		"provider": provider,
		"symbol":   symbol,
		"start":    start.UTC().Format(timeseries.DateLayout),
		"end":      end.UTC().Format(timeseries.DateLayout),
	})
	sum := sha256.Sum256(data)
	return []byte(fmt.Sprintf("fetch/%x", sum))
}

func (c *Cache) get(k []byte) (providers.FetchResult, bool, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return providers.FetchResult{}, false, nil
	}
	if err != nil {
		return providers.FetchResult{}, false, err
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return providers.FetchResult{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return providers.FetchResult{
		Status:  e.Status,
		Message: e.Message,
		Data:    &timeseries.Table{Columns: e.Columns, Rows: e.Rows},
	}, true, nil
}

func (c *Cache) put(k []byte, res providers.FetchResult) error {
	raw, err := json.Marshal(entry{
		Status:  res.Status,
		Message: res.Message,
		Columns: res.Data.Columns,
		Rows:    res.Data.Rows,
	})
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(k, raw).WithTTL(c.ttl))
	})
}

type cachedProvider struct {
	cache *Cache
	next  providers.Provider
}

func (p *cachedProvider) Name() string { return p.next.Name() }

// Fetch serves from the cache when possible. Cache failures are logged and
// fall through to the wrapped provider.
func (p *cachedProvider) Fetch(ctx context.Context, symbol string, start, end time.Time) (providers.FetchResult, error) {
	k := key(p.next.Name(), symbol, start, end)

	res, ok, err := p.cache.get(k)
	if err != nil {
		p.cache.logger.Warn("cache read failed", "provider", p.next.Name(), "symbol", symbol, "error", err)
	}
	if ok {
		p.cache.hits.Add(1)
		p.cache.logger.Debug("cache hit", "provider", p.next.Name(), "symbol", symbol)
		return res, nil
	}
	p.cache.misses.Add(1)

	res, err = p.next.Fetch(ctx, symbol, start, end)
	if err != nil {
		return res, err
	}
	if res.Status == providers.StatusOK && res.Data != nil {
		if err := p.cache.put(k, res); err != nil {
			p.cache.logger.Warn("cache write failed", "provider", p.next.Name(), "symbol", symbol, "error", err)
		}
	}
	return res, nil
}
