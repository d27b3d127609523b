package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CachedSession is what survives a restart.
type CachedSession struct {
	AccessToken  string    `json:"accessToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Principal    Principal `json:"principal"`
	RefreshToken string    `json:"refreshToken"`
}

// CredentialCache persists the session between process runs.
// Load returns (nil, nil) when nothing is stored.
type CredentialCache interface {
	Load() (*CachedSession, error)
	Save(s CachedSession) error
	Clear() error
}

type noopCache struct{}

func (noopCache) Load() (*CachedSession, error) { return nil, nil }
func (noopCache) Save(CachedSession) error      { return nil }
func (noopCache) Clear() error                  { return nil }

// FileCache stores the session as a JSON file readable only by the
// owner. The refresh token inside grants long-lived access, treat the
// file like a password.
type FileCache struct {
	path string
}

func NewFileCache(path string) (*FileCache, error) {
	if path == "" {
		return nil, errors.New("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{path: path}, nil
}

func (f *FileCache) Load() (*CachedSession, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	var s CachedSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	return &s, nil
}

func (f *FileCache) Save(s CachedSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	// Write-then-rename keeps a crash from leaving a torn file.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

func (f *FileCache) Clear() error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache: %w", err)
	}
	return nil
}
