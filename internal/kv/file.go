package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	storeVersion  = 1
	storeFileName = "storage.json"
	appDirName    = "walletd"
)

type fileData struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
}

// FileStore persists all keys in a single JSON document under dir
// (storage.json). Every write rewrites the document atomically.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a FileStore in dir. The directory is created on the
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the full path to the storage document.
func (f *FileStore) Path() string {
	return filepath.Join(f.dir, storeFileName)
}

func (f *FileStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := d.Values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.load()
	if err != nil {
		return err
	}
	d.Values[key] = value
	return f.save(d)
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := d.Values[key]; !ok {
		return nil
	}
	delete(d.Values, key)
	return f.save(d)
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing storage: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

func (f *FileStore) load() (*fileData, error) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &fileData{Version: storeVersion, Values: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("reading storage: %w", err)
	}

	var d fileData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing storage: %w", err)
	}
	if d.Values == nil {
		d.Values = make(map[string]string)
	}
	return &d, nil
}

// save writes the document using a temp-file-then-rename so readers never
// observe a partial file.
func (f *FileStore) save(d *fileData) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("creating storage dir: %w", err)
	}

	d.Version = storeVersion
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling storage: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(f.dir, ".storage-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.Path()); err != nil {
		return fmt.Errorf("renaming storage file: %w", err)
	}
	committed = true

	return nil
}

// DefaultDir returns ~/.local/state/walletd, respecting XDG_STATE_HOME if set.
func DefaultDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
