// Package artifact stores large variable and image payloads produced by
// workers. Records hold references ("<entity>/<key>") instead of the bytes.
package artifact

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store saves, loads and purges artifacts grouped by owning entity.
type Store interface {
	// Save stores (or overwrites) data and returns its reference.
	Save(entityID, key string, data []byte) (string, error)
	// Load returns the bytes stored under entityID/key.
	Load(entityID, key string) ([]byte, error)
	// List returns the keys stored for entityID, sorted.
	List(entityID string) ([]string, error)
	// DeleteAll removes every artifact of entityID. It reports whether
	// anything was removed.
	DeleteAll(entityID string) (bool, error)
	// Entities returns the ids that currently own artifacts, sorted.
	Entities() ([]string, error)
}

// Ref builds the reference for an artifact.
func Ref(entityID, key string) string {
	return entityID + "/" + key
}

// ParseRef splits a reference into entity id and key.
func ParseRef(ref string) (entityID, key string, err error) {
	entityID, key, ok := strings.Cut(ref, "/")
	if !ok || entityID == "" || key == "" {
		return "", "", fmt.Errorf("invalid artifact ref %q", ref)
	}
	return entityID, key, nil
}

// LoadRef loads an artifact by reference.
func LoadRef(s Store, ref string) ([]byte, error) {
	entityID, key, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	return s.Load(entityID, key)
}

// validName rejects names that could escape the entity directory.
func validName(kind, name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid artifact %s %q", kind, name)
	}
	return nil
}
