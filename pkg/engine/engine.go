// Package engine provides the multi-corpus cache of annisdb.
//
// It keeps the corpora of a data directory in memory on demand and evicts the
// least recently used ones when their estimated size exceeds a budget.
//
// Basic usage:
//
//	opts := engine.DefaultOptions("./data")
//	cache, err := engine.Open(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close()
//	db, err := cache.Get("pcc2", false)
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/graphstorage"
	"github.com/sanonone/annisdb/pkg/metrics"
)

// ErrClosed is returned by a cache after Close.
var ErrClosed = errors.New("corpus cache is closed")

// Options configures the Cache.
type Options struct {
	// DataDir holds one sub directory per corpus.
	// It is created automatically if it does not exist.
	DataDir string

	// MaxSizeBytes is the memory budget for all loaded corpora, measured with
	// core.DB.EstimateMemorySize. Set to 0 to disable eviction.
	MaxSizeBytes int64

	// Registry creates the graph storages of loaded corpora. Nil uses the
	// built-in implementations.
	Registry *graphstorage.Registry

	// MaintenanceInterval defines how often the budget is checked in the
	// background. Lazily loaded components grow a corpus after Get returned.
	// Set to 0 to disable the background check.
	MaintenanceInterval time.Duration

	Logger *slog.Logger
}

// DefaultOptions returns a standard configuration suitable for most use cases.
//
// Defaults:
//   - DataDir: provided path
//   - MaxSizeBytes: 1 GiB
//   - MaintenanceInterval: 10s
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:             dataDir,
		MaxSizeBytes:        1 << 30,
		MaintenanceInterval: 10 * time.Second,
	}
}

type cacheEntry struct {
	db       *core.DB
	lastUsed uint64
}

// Cache is the set of corpora currently held in memory.
//
// Use Open() to create a Cache and Close() to stop its background task.
type Cache struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	corpora map[string]*cacheEntry
	clock   uint64

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open creates the data directory if needed and starts the background budget
// check. No corpus is loaded yet.
func Open(opts Options) (*Cache, error) {
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if opts.Registry == nil {
		opts.Registry = graphstorage.NewRegistry(graphstorage.DedupAlways, nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		opts:    opts,
		logger:  logger,
		corpora: make(map[string]*cacheEntry),
		closed:  make(chan struct{}),
	}
	if opts.MaintenanceInterval > 0 && opts.MaxSizeBytes > 0 {
		c.wg.Add(1)
		go c.backgroundTasks()
	}
	return c, nil
}

// Close stops the background task and releases all corpora.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.wg.Wait()
		c.ReleaseAll()
	})
	return nil
}

func (c *Cache) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Dir returns the directory a corpus is stored in.
func (c *Cache) Dir(name string) string {
	return filepath.Join(c.opts.DataDir, name)
}

// Get returns the corpus, loading it from the data directory if it is not in
// memory. With preload set all components are loaded before Get returns.
func (c *Cache) Get(name string, preload bool) (*core.DB, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++
	if e, ok := c.corpora[name]; ok {
		e.lastUsed = c.clock
		if preload {
			if err := e.db.EnsureAllLoaded(); err != nil {
				return nil, err
			}
			c.evictLocked(name)
		}
		return e.db, nil
	}

	db, err := core.Load(name, c.Dir(name), c.opts.Registry, preload)
	if err != nil {
		return nil, err
	}
	c.corpora[name] = &cacheEntry{db: db, lastUsed: c.clock}
	c.evictLocked(name)
	return db, nil
}

// Put adds a corpus built in memory and writes it to the data directory.
func (c *Cache) Put(db *core.DB) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := db.Save(c.Dir(db.Name())); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	c.corpora[db.Name()] = &cacheEntry{db: db, lastUsed: c.clock}
	c.evictLocked(db.Name())
	return nil
}

// Persist writes a loaded corpus back to the data directory, e.g. after
// it was optimized.
func (c *Cache) Persist(name string) error {
	c.mu.Lock()
	e, ok := c.corpora[name]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("corpus %q is not loaded", name)
	}
	return e.db.Save(c.Dir(name))
}

// Release drops a corpus from memory and reports whether it was loaded.
func (c *Cache) Release(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked(name)
}

// ReleaseAll drops all corpora from memory.
func (c *Cache) ReleaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.corpora {
		c.releaseLocked(name)
	}
}

func (c *Cache) releaseLocked(name string) bool {
	if _, ok := c.corpora[name]; !ok {
		return false
	}
	delete(c.corpora, name)
	metrics.LoadedComponents.DeleteLabelValues(name)
	return true
}

// Loaded lists the corpora in memory, sorted by name.
func (c *Cache) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.corpora))
	for name := range c.corpora {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Corpora lists all corpora in the data directory, sorted by name.
func (c *Cache) Corpora() ([]string, error) {
	entries, err := os.ReadDir(c.opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list corpora: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && core.Exists(c.Dir(e.Name())) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// UsedMemory sums the estimated size of all loaded corpora.
func (c *Cache) UsedMemory() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedMemoryLocked()
}

func (c *Cache) usedMemoryLocked() int64 {
	var total int64
	for _, e := range c.corpora {
		total += e.db.EstimateMemorySize()
	}
	return total
}

// evictLocked drops least recently used corpora until the budget is met.
// The corpus named keep is never evicted, even if it alone exceeds the
// budget.
func (c *Cache) evictLocked(keep string) {
	if c.opts.MaxSizeBytes <= 0 {
		return
	}
	used := c.usedMemoryLocked()
	for used > c.opts.MaxSizeBytes {
		victim := ""
		var oldest uint64
		for name, e := range c.corpora {
			if name == keep {
				continue
			}
			if victim == "" || e.lastUsed < oldest {
				victim, oldest = name, e.lastUsed
			}
		}
		if victim == "" {
			return
		}
		size := c.corpora[victim].db.EstimateMemorySize()
		c.releaseLocked(victim)
		used -= size
		metrics.CacheEvictionsTotal.Inc()
		c.logger.Info("corpus evicted", "corpus", victim, "size", size, "used", used, "budget", c.opts.MaxSizeBytes)
	}
}

// backgroundTasks enforces the memory budget periodically.
// (Unexported: internal use only)
func (c *Cache) backgroundTasks() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.checkMaintenance()
		}
	}
}

// checkMaintenance evicts corpora if lazily loaded components pushed the
// cache over its budget. The most recently used corpus is kept.
func (c *Cache) checkMaintenance() {
	c.mu.Lock()
	defer c.mu.Unlock()

	newest := ""
	var newestUsed uint64
	for name, e := range c.corpora {
		if e.lastUsed >= newestUsed {
			newest, newestUsed = name, e.lastUsed
		}
	}
	c.evictLocked(newest)
}
