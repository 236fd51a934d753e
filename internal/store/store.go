package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Error wraps a persistence failure with the file it concerns.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Store reads and writes one record file. The directory is exclusive
// to one proxy instance.
type Store struct {
	path string
}

// New creates a store for the given directory and protocol version.
// The file name carries the protocol so record formats never collide
// across versions.
func New(dir, protocol string) *Store {
	return &Store{path: filepath.Join(dir, "HSMProxy"+protocol+".yaml")}
}

// Path returns the record file location.
func (s *Store) Path() string { return s.path }

// Load reads the record, or returns (nil, nil) when no record exists.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &Error{Path: s.path, Err: err}
	}
	var rf recordFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, &Error{Path: s.path, Err: err}
	}
	rec, err := rf.toRecord()
	if err != nil {
		return nil, &Error{Path: s.path, Err: err}
	}
	if err := rec.Validate(); err != nil {
		return nil, &Error{Path: s.path, Err: err}
	}
	return rec, nil
}

// Store durably replaces the record. The write goes to a temporary
// file in the same directory which is fsynced and renamed over the
// target, so a crash leaves either the old record or the new one,
// never a partial write.
func (s *Store) Store(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return &Error{Path: s.path, Err: err}
	}
	data, err := yaml.Marshal(rec.toFile())
	if err != nil {
		return &Error{Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &Error{Path: s.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".HSMProxy-*.tmp")
	if err != nil {
		return &Error{Path: s.path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return &Error{Path: s.path, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &Error{Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &Error{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &Error{Path: s.path, Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return &Error{Path: s.path, Err: err}
	}
	return nil
}

// Delete removes the record. Deleting an absent record is not an
// error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &Error{Path: s.path, Err: err}
	}
	return nil
}
