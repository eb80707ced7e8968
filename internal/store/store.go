// Package store implements C1's local-only partition: the access token, the
// device identity, the optional E2E encryption password, the cutoff
// watermark, and the cached session blob. These never roam across the
// user's other installs (spec.md §6 "Persisted state layout"); the roamed
// preferences live in internal/config instead.
//
// The default adapter persists to a single JSON file using the
// temp-file-then-rename atomic write pattern from
// 6e588291_arkeep-io-arkeep's connection.saveState, so a crash mid-write
// never corrupts the store (spec.md §3: "Writes are atomic per key").
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bogorad/pb-agent-core/internal/domain/model"
)

// Store is the C1 local-only secrets port.
type Store interface {
	Token() model.Token
	SetToken(model.Token) error
	ClearToken() error

	DeviceIden() string
	SetDeviceIden(string) error

	EncryptionPassword() string
	SetEncryptionPassword(string) error

	Cutoff() float64
	// SafeSetCutoff advances the cutoff only to a strictly greater,
	// positive value (spec.md §3 invariant 1). It is idempotent for
	// c == current cutoff (spec.md §8).
	SafeSetCutoff(c float64) error
	// UnsafeSetCutoff resets the cutoff unconditionally. Only the logout
	// and invalid-cursor-recovery paths may call this.
	UnsafeSetCutoff(c float64) error

	SessionCache() (model.SessionSnapshot, bool)
	SaveSessionCache(model.SessionSnapshot) error

	// Reset clears every local-only key (explicit logout).
	Reset() error
}

type document struct {
	Token              string                 `json:"token,omitempty"`
	DeviceIden         string                 `json:"device_iden,omitempty"`
	EncryptionPassword string                 `json:"encryption_password,omitempty"`
	Cutoff             float64                `json:"cutoff"`
	Session            *model.SessionSnapshot `json:"session,omitempty"`
}

// FileStore is the default Store adapter: a single JSON document on disk,
// guarded by an in-process mutex and written atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Open loads (or initializes) the keystore file at path.
func Open(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jerr := json.Unmarshal(data, &fs.doc); jerr != nil {
			return nil, fmt.Errorf("store: corrupted keystore %s: %w", path, jerr)
		}
	case errors.Is(err, os.ErrNotExist):
		// Fresh install: start from the zero-value document.
	default:
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	return fs, nil
}

func (s *FileStore) Token() model.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Token(s.doc.Token)
}

func (s *FileStore) SetToken(t model.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Token = string(t)
	return s.persistLocked()
}

func (s *FileStore) ClearToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Token = ""
	return s.persistLocked()
}

func (s *FileStore) DeviceIden() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.DeviceIden
}

func (s *FileStore) SetDeviceIden(iden string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.DeviceIden = iden
	return s.persistLocked()
}

func (s *FileStore) EncryptionPassword() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.EncryptionPassword
}

func (s *FileStore) SetEncryptionPassword(pw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.EncryptionPassword = pw
	return s.persistLocked()
}

func (s *FileStore) Cutoff() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Cutoff
}

// ErrCutoffNotIncreasing is returned by SafeSetCutoff when c does not move
// the watermark strictly forward (except the idempotent c == current case).
var ErrCutoffNotIncreasing = errors.New("store: cutoff must be positive and non-decreasing")

func (s *FileStore) SafeSetCutoff(c float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == s.doc.Cutoff {
		return nil // idempotent, spec.md §8
	}
	if c <= 0 || c <= s.doc.Cutoff {
		return ErrCutoffNotIncreasing
	}
	s.doc.Cutoff = c
	return s.persistLocked()
}

func (s *FileStore) UnsafeSetCutoff(c float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Cutoff = c
	return s.persistLocked()
}

func (s *FileStore) SessionCache() (model.SessionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Session == nil {
		return model.SessionSnapshot{}, false
	}
	return s.doc.Session.Clone(), true
}

func (s *FileStore) SaveSessionCache(snap model.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := snap.Clone()
	s.doc.Session = &cp
	return s.persistLocked()
}

func (s *FileStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = document{}
	return s.persistLocked()
}

// persistLocked writes the whole document via temp-file + rename so a crash
// mid-write never leaves a half-written keystore behind.
func (s *FileStore) persistLocked() error {
	data, err := json.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("store: chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	ok = true
	return nil
}
