// ABOUTME: Local provider report cache in BadgerDB with TTL-based expiration
// ABOUTME: A bloom filter of stored keys answers most misses without touching the database

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

const reportPrefix = "report:"

// BadgerConfig configures a BadgerCache.
type BadgerConfig struct {
	// Path to the database directory. Required unless InMemory is true.
	Path string

	// InMemory runs the database in memory (for tests and one-shot CLI runs).
	InMemory bool

	// SyncWrites enables synchronous writes.
	SyncWrites bool

	// TTL expires entries. Zero uses DefaultTTL.
	TTL time.Duration

	// Filter sizes the bloom filter in front of the database.
	Filter FilterConfig

	// Logger receives badger's own log lines at debug level and above.
	// Nil silences badger.
	Logger *slog.Logger
}

// BadgerCache caches provider reports in BadgerDB.
type BadgerCache struct {
	db     *badger.DB
	ttl    time.Duration
	filter *FingerprintFilter
}

// NewBadgerCache opens the database and warms the filter from existing keys.
func NewBadgerCache(cfg BadgerConfig) (*BadgerCache, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger cache: path is required unless in-memory")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	if cfg.SyncWrites {
		opts = opts.WithSyncWrites(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{cfg.Logger.With(slog.String("component", "badger"))})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}

	c := &BadgerCache{db: db, ttl: cfg.TTL, filter: NewFingerprintFilter(cfg.Filter)}
	if err := c.warm(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func reportKey(role types.ProviderRole, fingerprint string) string {
	return reportPrefix + string(role) + ":" + strings.ToLower(fingerprint)
}

func (c *BadgerCache) warm() error {
	return c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(reportPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			c.filter.Add(string(it.Item().Key()))
		}
		return nil
	})
}

// Backend names the cache implementation.
func (c *BadgerCache) Backend() string {
	return "badger"
}

// Close closes the database.
func (c *BadgerCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Set stores a report with the cache TTL.
func (c *BadgerCache) Set(ctx context.Context, report types.ProviderReport) error {
	if err := validate(report); err != nil {
		return err
	}
	report.Cached = false

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	key := reportKey(report.Role, report.Fingerprint)
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), data).WithTTL(c.ttl))
	})
	if err != nil {
		return fmt.Errorf("storing report: %w", err)
	}
	c.filter.Add(key)
	return nil
}

// Get returns the cached report for role and fingerprint.
// Returns (report, true, nil) if found, (nil, false, nil) if not.
func (c *BadgerCache) Get(ctx context.Context, role types.ProviderRole, fingerprint string) (*types.ProviderReport, bool, error) {
	key := reportKey(role, fingerprint)
	if !c.filter.MayContain(key) {
		return nil, false, nil
	}

	var report *types.ProviderReport
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting cache entry: %w", err)
		}

		return item.Value(func(val []byte) error {
			report = &types.ProviderReport{}
			if err := json.Unmarshal(val, report); err != nil {
				return fmt.Errorf("unmarshaling report: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return report, report != nil, nil
}

// Clear removes every cached report.
func (c *BadgerCache) Clear(ctx context.Context) error {
	if err := c.db.DropPrefix([]byte(reportPrefix)); err != nil {
		return fmt.Errorf("clearing reports: %w", err)
	}
	c.filter.Clear()
	return nil
}

// Count returns the number of live cached reports.
func (c *BadgerCache) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(reportPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// TTL returns the entry lifetime.
func (c *BadgerCache) TTL() time.Duration {
	return c.ttl
}

// FilterStats returns the bloom filter statistics.
func (c *BadgerCache) FilterStats() FilterStats {
	return c.filter.Stats()
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
