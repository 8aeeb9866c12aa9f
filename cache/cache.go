// Package cache stores compiled programs in an embedded BadgerDB keyed by a
// hash of the model source and the compile options, so unchanged models skip
// compilation entirely.
//
// Concurrent requests for the same key compile once; every waiter receives
// the same program.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/sbl8/tensorc/compiler"
	"github.com/sbl8/tensorc/model"
)

const keyPrefix = "program/"

// Config holds configuration for a cache.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps the cache in RAM. Useful for testing.
	InMemory bool

	// Logger receives cache and BadgerDB diagnostics. Defaults to
	// slog.Default(); BadgerDB's own logging stays off when nil.
	Logger *slog.Logger
}

// Stats counts cache traffic.
type Stats struct {
	Hits     int64
	Misses   int64
	Compiles int64
}

// Cache is a persistent program cache. It is safe for concurrent use.
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
	flight singleflight.Group

	hits     atomic.Int64
	misses   atomic.Int64
	compiles atomic.Int64
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens or creates the cache described by cfg.
func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("cache path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, errors.Wrapf(err, "create cache directory %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open cache")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, logger: logger}, nil
}

// Close flushes and closes the database.
func (c *Cache) Close() error {
	return errors.Wrap(c.db.Close(), "close cache")
}

// Key derives the cache key of a model source compiled with opts.
func Key(source []byte, opts compiler.Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "tensorc/v%d scalarize=%t validate=%t\n", model.Version, opts.Scalarize, opts.Validate)
	h.Write(source)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the program stored under key. A missing or undecodable entry
// reports ok == false.
func (c *Cache) Get(key string) (prog *model.Program, ok bool, err error) {
	var data []byte
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read %s", key)
	}

	prog, err = model.Decode(data)
	if err != nil {
		c.logger.Warn("discarding unreadable cache entry", slog.String("key", key), slog.Any("error", err))
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return prog, true, nil
}

// Put stores prog under key, replacing any previous entry.
func (c *Cache) Put(key string, prog *model.Program) error {
	data, err := model.Encode(prog)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), data)
	})
	return errors.Wrapf(err, "write %s", key)
}

// Delete removes the entry under key.
func (c *Cache) Delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
	return errors.Wrapf(err, "delete %s", key)
}

// GetOrCompile returns the program under key, running compile and storing
// its result on a miss. Concurrent calls for one key share a single compile.
// hit reports whether the program came from storage.
func (c *Cache) GetOrCompile(key string, compile func() (*model.Program, error)) (prog *model.Program, hit bool, err error) {
	if prog, ok, err := c.Get(key); err != nil || ok {
		return prog, ok, err
	}

	v, err, shared := c.flight.Do(key, func() (any, error) {
		prog, err := compile()
		if err != nil {
			return nil, err
		}
		c.compiles.Add(1)
		if err := c.Put(key, prog); err != nil {
			c.logger.Warn("caching compiled program failed", slog.String("key", key), slog.Any("error", err))
		}
		return prog, nil
	})
	if err != nil {
		return nil, false, err
	}
	if shared {
		c.logger.Debug("shared in-flight compile", slog.String("key", key))
	}
	return v.(*model.Program), false, nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Compiles: c.compiles.Load()}
}
