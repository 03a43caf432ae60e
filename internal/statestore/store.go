// Package statestore is the persisted key-value layer for opt-in state and
// channel routing. Each key maps to one JSON document on disk; keys are
// validated against an allow-list pattern before any path is derived from
// them, so a hostile key can never escape the state directory.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ErrInvalidKey is returned when a key fails the allow-list pattern. It is
// raised before any storage access is attempted.
var ErrInvalidKey = errors.New("statestore: invalid key")

// keyPattern is the allow-list for state keys. Anything else, path
// separators in particular, is rejected outright.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store persists one JSON record per key inside a single directory.
// Writes are whole-record replace; concurrent writers to the same key are
// not ordered here, callers serialize their own mutations.
type Store struct {
	dir string
}

// Open creates the state directory if needed and returns a Store over it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	return &Store{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// path derives the record path for key, validating the key first.
func (s *Store) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return filepath.Join(s.dir, key+".json"), nil
}

// Get reads the record for key into a value of type T, returning def when
// no record exists. A missing record is not an error; an invalid key or an
// unreadable record is.
func Get[T any](s *Store, key string, def T) (T, error) {
	path, err := s.path(key)
	if err != nil {
		return def, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("read record %q: %w", key, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return def, fmt.Errorf("decode record %q: %w", key, err)
	}

	return v, nil
}

// Put replaces the record for key with the JSON encoding of v. The write
// goes through a temp file and rename so a crash never leaves a partial
// record behind.
func (s *Store) Put(key string, v any) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("write record %q: %w", key, err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write record %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write record %q: %w", key, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace record %q: %w", key, err)
	}

	return nil
}
