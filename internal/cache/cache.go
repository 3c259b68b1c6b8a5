// Package cache implements the two-tier result cache shared by the AI and
// scraping layers: a bounded in-memory LRU in front of a file-backed
// persistent tier. Values are opaque byte slices; callers own
// serialization. Disk problems never surface to callers — the persistent
// tier degrades to a miss and a warning counter.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
)

// Config bounds the memory tier and locates the persistent tier.
type Config struct {
	MaxEntries int
	MaxBytes   int64
	Dir        string // empty disables the persistent tier
}

// Stats is a point-in-time summary of cache effectiveness.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	DiskErrors  int64   `json:"disk_errors"`
	Entries     int     `json:"entries"`
	MemoryBytes int64   `json:"memory_bytes"`
	HitRate     float64 `json:"hit_rate"`
}

type entry struct {
	key     string
	value   []byte
	created time.Time
	ttl     time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.created.Add(e.ttl))
}

func (e *entry) size() int64 {
	return int64(len(e.key) + len(e.value))
}

// diskEntry is the JSON envelope written per key-hash file. The original
// key is kept inside the envelope so pattern invalidation can match it.
type diskEntry struct {
	Key           string `json:"key"`
	Value         []byte `json:"value"`
	CreatedUnixNS int64  `json:"created_unix_ns"`
	TTLNS         int64  `json:"ttl_ns"`
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg Config

	mu       sync.Mutex
	lru      *list.List // front = most recent, elements hold *entry
	index    map[string]*list.Element
	memBytes int64

	flight singleflight.Group

	hits       int64
	misses     int64
	evictions  int64
	diskErrors int64
}

// New builds a Cache. The persistent directory is created eagerly so a
// misconfigured path fails at startup, not mid-campaign.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 100 << 20
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	return &Cache{
		cfg:   cfg,
		lru:   list.New(),
		index: make(map[string]*list.Element),
	}, nil
}

// Get returns the cached value for key, consulting memory first and then
// the persistent tier. A disk hit is promoted into memory.
func (c *Cache) Get(key string) ([]byte, bool) {
	now := time.Now()

	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		if e.expired(now) {
			c.removeElement(el)
			c.mu.Unlock()
			c.removeFile(key)
			atomic.AddInt64(&c.misses, 1)
			return nil, false
		}
		c.lru.MoveToFront(el)
		val := e.value
		c.mu.Unlock()
		atomic.AddInt64(&c.hits, 1)
		return val, true
	}
	c.mu.Unlock()

	if e, ok := c.readFile(key, now); ok {
		c.put(e)
		atomic.AddInt64(&c.hits, 1)
		return e.value, true
	}

	atomic.AddInt64(&c.misses, 1)
	return nil, false
}

// Set stores the value in both tiers. A non-positive ttl expires the entry
// on write, which removes any previous value for the key.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		c.Delete(key)
		return
	}
	e := &entry{key: key, value: value, created: time.Now(), ttl: ttl}
	c.put(e)
	c.writeFile(e)
}

// Delete evicts the key from both tiers.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.removeElement(el)
	}
	c.mu.Unlock()
	c.removeFile(key)
}

// InvalidatePattern evicts every key matching the glob pattern from both
// tiers and returns the number of distinct keys removed.
func (c *Cache) InvalidatePattern(pattern string) int {
	removed := make(map[string]struct{})

	c.mu.Lock()
	var matched []*list.Element
	for key, el := range c.index {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, el)
			removed[key] = struct{}{}
		}
	}
	for _, el := range matched {
		c.removeElement(el)
	}
	c.mu.Unlock()

	if c.cfg.Dir != "" {
		entries, err := os.ReadDir(c.cfg.Dir)
		if err != nil {
			atomic.AddInt64(&c.diskErrors, 1)
		} else {
			for _, de := range entries {
				if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
					continue
				}
				p := filepath.Join(c.cfg.Dir, de.Name())
				data, err := os.ReadFile(p)
				if err != nil {
					atomic.AddInt64(&c.diskErrors, 1)
					continue
				}
				var env diskEntry
				if err := json.Unmarshal(data, &env); err != nil {
					// Unreadable envelope: remove it, it can never hit.
					os.Remove(p)
					continue
				}
				if ok, _ := path.Match(pattern, env.Key); ok {
					if err := os.Remove(p); err == nil {
						removed[env.Key] = struct{}{}
					}
				}
			}
		}
	}

	if len(removed) > 0 {
		atomic.AddInt64(&c.evictions, int64(len(removed)))
		log.Printf("[Cache] invalidated %d entries matching %q", len(removed), pattern)
	}
	return len(removed)
}

// GetOrCompute returns the cached value for key or runs fn to produce it,
// guaranteeing at most one concurrent compute per key: concurrent callers
// coalesce onto the in-flight computation. A compute failure propagates to
// every waiter and is not cached. The boolean reports whether the value
// was served from cache. Waiters abandon the flight when their context is
// cancelled; the computation itself keeps running under the initiating
// caller's context.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	type result struct {
		value  []byte
		cached bool
	}

	ch := c.flight.DoChan(key, func() (interface{}, error) {
		// A racing caller may have stored the value between our miss and
		// the flight starting.
		if v, ok := c.Get(key); ok {
			return result{value: v, cached: true}, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return result{value: v}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(result)
		return r.value, r.cached, nil
	case <-ctx.Done():
		return nil, false, &errkind.Error{Kind: errkind.Cancelled, Op: "get_or_compute", Err: ctx.Err()}
	}
}

// Stats returns current counters. HitRate is hits over total lookups.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries := c.lru.Len()
	memBytes := c.memBytes
	c.mu.Unlock()

	s := Stats{
		Hits:        atomic.LoadInt64(&c.hits),
		Misses:      atomic.LoadInt64(&c.misses),
		Evictions:   atomic.LoadInt64(&c.evictions),
		DiskErrors:  atomic.LoadInt64(&c.diskErrors),
		Entries:     entries,
		MemoryBytes: memBytes,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Key builds a namespaced cache key: the operation name stays readable for
// glob invalidation while the argument list is hashed.
func Key(op string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return op + ":" + hex.EncodeToString(h[:8])
}

// put inserts or replaces the memory-tier entry and evicts from the LRU
// tail until both bounds hold.
func (c *Cache) put(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[e.key]; ok {
		old := el.Value.(*entry)
		c.memBytes -= old.size()
		el.Value = e
		c.memBytes += e.size()
		c.lru.MoveToFront(el)
	} else {
		el := c.lru.PushFront(e)
		c.index[e.key] = el
		c.memBytes += e.size()
	}

	for c.lru.Len() > c.cfg.MaxEntries || c.memBytes > c.cfg.MaxBytes {
		tail := c.lru.Back()
		if tail == nil {
			break
		}
		c.removeElement(tail)
		atomic.AddInt64(&c.evictions, 1)
	}
}

// removeElement must be called with c.mu held.
func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.index, e.key)
	c.memBytes -= e.size()
}

func (c *Cache) filePath(key string) string {
	h := sha256.Sum256([]byte(key))
	return filepath.Join(c.cfg.Dir, hex.EncodeToString(h[:16])+".json")
}

func (c *Cache) writeFile(e *entry) {
	if c.cfg.Dir == "" {
		return
	}
	env := diskEntry{
		Key:           e.key,
		Value:         e.value,
		CreatedUnixNS: e.created.UnixNano(),
		TTLNS:         int64(e.ttl),
	}
	data, err := json.Marshal(env)
	if err != nil {
		atomic.AddInt64(&c.diskErrors, 1)
		return
	}
	if err := os.WriteFile(c.filePath(e.key), data, 0644); err != nil {
		atomic.AddInt64(&c.diskErrors, 1)
		log.Printf("[Cache] persistent tier write failed for %s: %v", e.key, err)
	}
}

func (c *Cache) readFile(key string, now time.Time) (*entry, bool) {
	if c.cfg.Dir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.filePath(key))
	if err != nil {
		if !os.IsNotExist(err) {
			atomic.AddInt64(&c.diskErrors, 1)
		}
		return nil, false
	}
	var env diskEntry
	if err := json.Unmarshal(data, &env); err != nil {
		atomic.AddInt64(&c.diskErrors, 1)
		return nil, false
	}
	e := &entry{
		key:     env.Key,
		value:   env.Value,
		created: time.Unix(0, env.CreatedUnixNS),
		ttl:     time.Duration(env.TTLNS),
	}
	if e.expired(now) {
		c.removeFile(key)
		return nil, false
	}
	return e, true
}

func (c *Cache) removeFile(key string) {
	if c.cfg.Dir == "" {
		return
	}
	if err := os.Remove(c.filePath(key)); err != nil && !os.IsNotExist(err) {
		atomic.AddInt64(&c.diskErrors, 1)
	}
}
