package resourcecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"podindex/internal/docstore"
	"podindex/internal/logging"
)

// SnapshotVersion is written to every persisted snapshot.
const SnapshotVersion = "2.0"

// DefaultStaleAfter is how long a snapshot is trusted after its last sync.
const DefaultStaleAfter = 24 * time.Hour

// ErrHandleConflict is returned by Put when the key already maps to a
// different resource handle. Handles are replaced only by Remove then Put.
var ErrHandleConflict = errors.New("resource handle already assigned")

// renameFile is swapped in tests to simulate a crash before the rename.
var renameFile = os.Rename

// Entry is the cached state of one remote document.
type Entry struct {
	ResourceHandle string            `json:"resource_handle"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// UnmarshalJSON also accepts the older form where the entry is just the
// handle string.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var handle string
	if err := json.Unmarshal(data, &handle); err == nil {
		*e = Entry{ResourceHandle: handle}
		return nil
	}
	type plain Entry
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*e = Entry(decoded)
	return nil
}

// NamedEntry pairs an entry with its key for listings.
type NamedEntry struct {
	Key string
	Entry
}

// Snapshot is the persisted file format.
type Snapshot struct {
	Version         string           `json:"version"`
	StoreIdentifier string           `json:"store_identifier"`
	LastSync        *time.Time       `json:"last_sync,omitempty"`
	Entries         map[string]Entry `json:"entries"`
}

// Options configures a Cache.
type Options struct {
	Path string
	// StoreIdentifier, when set, must match the persisted snapshot or the
	// snapshot is discarded.
	StoreIdentifier string
	StaleAfter      time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

// Cache is the in-memory snapshot plus its backing file.
type Cache struct {
	path       string
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	storeID  string
	lastSync time.Time
	entries  map[string]Entry
}

// New builds a cache and loads the snapshot at opts.Path. A missing,
// unreadable or malformed file yields an empty, stale cache and a warning.
func New(opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Cache{
		path:       opts.Path,
		staleAfter: staleAfter,
		logger:     logging.NewComponentLogger(logger, "resourcecache"),
		now:        now,
		storeID:    opts.StoreIdentifier,
		entries:    make(map[string]Entry),
	}
	if c.path == "" {
		return c
	}
	if err := c.load(opts.StoreIdentifier); err != nil {
		c.logger.Warn("resource cache unavailable",
			logging.String(logging.FieldEventType, "resource_cache_load_failed"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `podindex cache rebuild` or let the reconciler rebuild it"),
			logging.String(logging.FieldImpact, "cache treated as empty and stale until the next sync"),
			logging.String("path", c.path))
		c.entries = make(map[string]Entry)
		c.lastSync = time.Time{}
	}
	return c
}

func (c *Cache) load(expectedStore string) error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("no resource cache on disk", logging.String("path", c.path))
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse cache file: %w", err)
	}
	if expectedStore != "" && snap.StoreIdentifier != "" && snap.StoreIdentifier != expectedStore {
		c.logger.Info("resource cache belongs to another store; starting empty",
			logging.String("cached_store", snap.StoreIdentifier),
			logging.String("store", expectedStore))
		return nil
	}

	entries := make(map[string]Entry, len(snap.Entries))
	for key, entry := range snap.Entries {
		if strings.TrimSpace(key) == "" || strings.TrimSpace(entry.ResourceHandle) == "" {
			continue
		}
		entries[key] = entry
	}
	c.entries = entries
	if snap.StoreIdentifier != "" {
		c.storeID = snap.StoreIdentifier
	}
	if snap.LastSync != nil {
		c.lastSync = snap.LastSync.UTC()
	}
	c.logger.Debug("loaded resource cache",
		logging.Int("entry_count", len(c.entries)),
		logging.String("path", c.path))
	return nil
}

// Lookup returns the entry for key, sanitizing it first.
func (c *Cache) Lookup(key string) (Entry, bool) {
	key = SanitizeKey(key)
	if key == "" {
		return Entry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// FindByHandle returns the key mapped to handle.
func (c *Cache) FindByHandle(handle string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, entry := range c.entries {
		if entry.ResourceHandle == handle {
			return key, true
		}
	}
	return "", false
}

// Put records entry under the sanitized key. Metadata for an existing key
// may be refreshed; its handle may not change. Call Persist to write it out.
func (c *Cache) Put(key string, entry Entry) error {
	key = SanitizeKey(key)
	if key == "" {
		return errors.New("cache key cannot be empty")
	}
	entry.ResourceHandle = strings.TrimSpace(entry.ResourceHandle)
	if entry.ResourceHandle == "" {
		return errors.New("resource handle cannot be empty")
	}
	entry.Metadata = docstore.NormalizeMetadata(entry.Metadata)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok && existing.ResourceHandle != entry.ResourceHandle {
		return fmt.Errorf("%w: %q maps to %s", ErrHandleConflict, key, existing.ResourceHandle)
	}
	c.entries[key] = entry
	return nil
}

// Remove drops key from memory and reports whether it was present.
func (c *Cache) Remove(key string) bool {
	key = SanitizeKey(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Replace swaps in a freshly derived entry set, as the reconciler does after
// a full listing.
func (c *Cache) Replace(storeID string, entries map[string]Entry) {
	fresh := make(map[string]Entry, len(entries))
	for key, entry := range entries {
		fresh[key] = entry
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = fresh
	if storeID != "" {
		c.storeID = storeID
	}
}

// Persist writes the snapshot atomically and stamps last_sync.
func (c *Cache) Persist() error {
	if c.path == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	syncedAt := c.now().UTC()
	snap := Snapshot{
		Version:         SnapshotVersion,
		StoreIdentifier: c.storeID,
		LastSync:        &syncedAt,
		Entries:         c.entries,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := writeAtomic(c.path, data); err != nil {
		return err
	}
	c.lastSync = syncedAt
	c.logger.Debug("persisted resource cache",
		logging.Int("entry_count", len(c.entries)),
		logging.String("path", c.path))
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := renameFile(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// IsStale reports whether the snapshot is empty or older than the stale window.
func (c *Cache) IsStale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 || c.lastSync.IsZero() {
		return true
	}
	return c.now().Sub(c.lastSync) > c.staleAfter
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LastSync returns when the snapshot was last persisted; zero if never.
func (c *Cache) LastSync() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync
}

// StoreIdentifier returns the remote store the snapshot mirrors.
func (c *Cache) StoreIdentifier() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.storeID
}

// Path returns the backing file.
func (c *Cache) Path() string {
	return c.path
}

// Entries returns every entry sorted by key.
func (c *Cache) Entries() []NamedEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]NamedEntry, 0, len(c.entries))
	for key, entry := range c.entries {
		out = append(out, NamedEntry{Key: key, Entry: entry})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
