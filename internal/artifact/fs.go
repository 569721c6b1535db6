package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FSStore keeps artifacts as files under root/<entity>/<key>.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Root returns the store directory.
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) path(entityID, key string) (string, error) {
	if err := validName("entity", entityID); err != nil {
		return "", err
	}
	if err := validName("key", key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, entityID, key), nil
}

// Save writes through a temp file and rename so readers never see a
// partial artifact.
func (s *FSStore) Save(entityID, key string, data []byte) (string, error) {
	path, err := s.path(entityID, key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create entity dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename artifact: %w", err)
	}
	return Ref(entityID, key), nil
}

// Load implements Store.
func (s *FSStore) Load(entityID, key string) ([]byte, error) {
	path, err := s.path(entityID, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", Ref(entityID, key), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// List implements Store.
func (s *FSStore) List(entityID string) ([]string, error) {
	if err := validName("entity", entityID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, entityID))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || isTemp(e.Name()) {
			continue
		}
		keys = append(keys, e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteAll implements Store.
func (s *FSStore) DeleteAll(entityID string) (bool, error) {
	if err := validName("entity", entityID); err != nil {
		return false, err
	}
	dir := filepath.Join(s.root, entityID)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete artifacts of %s: %w", entityID, err)
	}
	return true, nil
}

// Entities implements Store.
func (s *FSStore) Entities() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list artifact entities: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func isTemp(name string) bool {
	return len(name) > 5 && name[:5] == ".tmp-"
}
