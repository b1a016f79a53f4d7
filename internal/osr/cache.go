package osr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"blockvm/internal/cfg"
)

// Current schema version - increment when ProfilePayload format changes
const profileSchemaVersion uint16 = 1

// ProfilePayload is the persisted hot-target profile of one function graph.
type ProfilePayload struct {
	// Schema version for safe invalidation when format changes
	Schema uint16

	Func    string
	Hash    cfg.Digest
	Targets []TargetRecord
}

// TargetRecord is one hot target and the back edges seen into it.
type TargetRecord struct {
	Block     int32
	BackEdges uint64
}

// ProfileCache stores profiles on disk keyed by graph hash, so a later run of
// the same graph can compile its hot loops before they are hot again.
// Thread-safe for concurrent access.
type ProfileCache struct {
	mu  sync.RWMutex
	dir string
}

// OpenProfileCache opens the cache at the standard per-user location.
func OpenProfileCache(app string) (*ProfileCache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	return NewProfileCache(filepath.Join(base, app))
}

// NewProfileCache opens a cache rooted at dir, creating it if needed.
func NewProfileCache(dir string) (*ProfileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &ProfileCache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *ProfileCache) Dir() string { return c.dir }

func (c *ProfileCache) pathFor(key cfg.Digest) string {
	return filepath.Join(c.dir, "profiles", hex.EncodeToString(key[:])+".mp")
}

// Put serializes and writes a payload. The file is replaced atomically.
func (c *ProfileCache) Put(payload *ProfilePayload) (err error) {
	if c == nil || payload == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(payload.Hash)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}()

	if err := msgpack.NewEncoder(f).Encode(payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get reads the payload stored for key. A payload written under another
// schema is reported as missing.
func (c *ProfileCache) Get(key cfg.Digest, out *ProfilePayload) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	if err := msgpack.NewDecoder(f).Decode(out); err != nil {
		return false, fmt.Errorf("decode profile: %w", err)
	}
	if out.Schema != profileSchemaVersion || out.Hash != key {
		return false, nil
	}
	return true, nil
}

// DropAll removes every stored profile.
func (c *ProfileCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	return os.RemoveAll(old)
}
