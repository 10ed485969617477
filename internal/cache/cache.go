// Package cache provides a content-addressed cache for expensive pipeline
// results, keyed by a hash of the input text.
//
// The cache has two tiers: an in-memory map for the life of the process and an
// optional on-disk mirror that survives restarts. Disk failures degrade the
// cache, never the computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// entrySchemaVersion marks the disk file layout. Bump it when the envelope
// changes shape; readers skip entries with a different version.
const entrySchemaVersion = 1

// entry is the envelope written to disk for each cached value.
type entry struct {
	Version  int             `json:"version"`
	Key      string          `json:"key"`
	StoredAt time.Time       `json:"stored_at"`
	Payload  json.RawMessage `json:"payload"`
}

// Cache is a two-tier content-addressed cache. The zero value is not usable;
// construct with New.
type Cache struct {
	mem *gocache.Cache
	dir string
	log *slog.Logger
}

// New builds a Cache. dir is the disk mirror directory; empty disables the
// disk tier. The directory is created on first write.
func New(dir string) *Cache {
	return &Cache{
		mem: gocache.New(gocache.NoExpiration, 0),
		dir: dir,
		log: slog.Default().With("component", "cache"),
	}
}

// Key returns the cache key for content: the hex SHA-256 of the normalised
// text. Normalisation converts CRLF to LF and trims trailing whitespace per
// line, so editor round-trips do not change identity.
func Key(content string) string {
	sum := sha256.Sum256([]byte(normalize(content)))
	return hex.EncodeToString(sum[:])
}

func normalize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// options configures a single GetOrCompute call.
type options struct {
	bypass bool
}

// Option adjusts one GetOrCompute call.
type Option func(*options)

// WithBypass forces recomputation. The fresh result still replaces whatever
// the cache held for the key.
func WithBypass() Option {
	return func(o *options) { o.bypass = true }
}

// GetOrCompute returns the cached payload for content, computing and storing
// it on a miss. compute runs at most once per call; concurrent callers with
// the same key may both compute, in which case the last writer wins.
//
// The payload is an opaque JSON blob owned by the caller. Errors from compute
// are returned unwrapped; cache storage errors are logged and swallowed.
func (c *Cache) GetOrCompute(ctx context.Context, content string, compute func(context.Context) ([]byte, error), opts ...Option) ([]byte, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	key := Key(content)

	if !o.bypass {
		if payload, ok := c.lookup(key); ok {
			c.log.Debug("cache hit", "key", key[:12])
			return payload, nil
		}
	}

	payload, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	c.store(key, payload)
	return payload, nil
}

// Lookup returns the cached payload for content without computing anything.
func (c *Cache) Lookup(content string) ([]byte, bool) {
	return c.lookup(Key(content))
}

func (c *Cache) lookup(key string) ([]byte, bool) {
	if v, ok := c.mem.Get(key); ok {
		return v.([]byte), true
	}
	if c.dir == "" {
		return nil, false
	}

	raw, err := os.ReadFile(c.diskPath(key))
	if err != nil {
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil || e.Version != entrySchemaVersion || e.Key != key {
		c.log.Warn("discarding unreadable cache file", "key", key[:12], "err", err)
		return nil, false
	}

	c.mem.Set(key, []byte(e.Payload), gocache.NoExpiration)
	return e.Payload, true
}

// store writes to both tiers. Disk failures are logged at warn and never
// returned; the memory tier is authoritative for this process.
func (c *Cache) store(key string, payload []byte) {
	c.mem.Set(key, payload, gocache.NoExpiration)

	if c.dir == "" {
		return
	}
	if err := c.writeDisk(key, payload); err != nil {
		c.log.Warn("cache disk write failed", "key", key[:12], "err", err)
	}
}

func (c *Cache) writeDisk(key string, payload []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache: mkdir: %w", err)
	}

	raw, err := json.MarshalIndent(entry{
		Version:  entrySchemaVersion,
		Key:      key,
		StoredAt: time.Now().UTC(),
		Payload:  payload,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}

	// Temp file plus rename keeps readers from ever seeing a partial entry.
	path := c.diskPath(key)
	tmp, err := os.CreateTemp(c.dir, "."+key[:12]+"-*")
	if err != nil {
		return fmt.Errorf("cache: temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: rename: %w", err)
	}
	return nil
}

func (c *Cache) diskPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}
