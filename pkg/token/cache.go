package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CacheVersion is the current version of the token cache file format.
const CacheVersion = 1

// ErrCacheVersion is returned when a cache file was written by an
// incompatible version.
var ErrCacheVersion = errors.New("token: unsupported cache file version")

// Cache persists a token between process runs.
type Cache interface {
	// Load returns the cached token, or nil, nil when nothing is cached.
	Load() (*Token, error)

	// Save replaces the cached token.
	Save(Token) error

	// Clear removes the cached token.
	Clear() error
}

// cacheFile is the on-disk format.
type cacheFile struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Token   Token     `json:"token"`
}

// FileCache stores the token as JSON in a single file readable only by the
// owner.
type FileCache struct {
	mu   sync.Mutex
	path string
}

// NewFileCache creates a cache backed by path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Path returns the cache file path.
func (c *FileCache) Path() string {
	return c.path
}

// Save persists t to disk.
func (c *FileCache) Save(t Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cacheFile{
		Version: CacheVersion,
		SavedAt: time.Now(),
		Token:   t,
	}, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0o600)
}

// Load reads the token from disk.
// Returns nil, nil if the file doesn't exist.
func (c *FileCache) Load() (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("token: parse cache file: %w", err)
	}
	if f.Version != CacheVersion {
		return nil, fmt.Errorf("%w: %d", ErrCacheVersion, f.Version)
	}
	if f.Token.AccessToken == "" {
		return nil, nil
	}

	t := f.Token
	return &t, nil
}

// Clear removes the cache file. A missing file is not an error.
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Compile-time interface satisfaction check.
var _ Cache = (*FileCache)(nil)
