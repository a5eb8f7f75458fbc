// Package secretstore defines the capability the Communitas core
// requires of a platform keychain, plus an in-memory adapter usable for
// development and tests. Platform adapters (macOS Keychain, Windows
// Credential Manager, libsecret) are external collaborators and are not
// implemented here — the core only ever calls through this interface.
package secretstore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/saorsalabs/communitas/internal/errkind"
)

// Well-known key shapes the core relies on.
const (
	KeyCurrentID = "current_id"
	KeyDeviceID  = "device_id"
)

func KeyWords(idHex string) string    { return fmt.Sprintf("words:%s", idHex) }
func KeyMLDSAPub(idHex string) string { return fmt.Sprintf("mldsa_pk:%s", idHex) }
func KeyMLDSASec(idHex string) string { return fmt.Sprintf("mldsa_sk:%s", idHex) }
func KeyMLKEMPub(idHex string) string { return fmt.Sprintf("mlkem_pk:%s", idHex) }
func KeyMLKEMSec(idHex string) string { return fmt.Sprintf("mlkem_sk:%s", idHex) }

// Store is the capability the core requires: put, get, delete, keyed by
// an opaque user_key string.
type Store interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
}

// Memory is a mutex-guarded in-memory Store. It satisfies every
// SecretStore key-shape the core uses and is the default wired
// implementation until a platform adapter is supplied by the shell.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), value...)
	m.values[key] = cp
	return nil
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, errkind.Newf(errkind.NotFound, "secretstore.get", "no value for key %q", key)
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// FileStore is a JSON-on-disk Store: a platform keychain stand-in for
// cmd/communitas-node and cmd/communitas-cli, which need an identity to
// survive past a single process. Values are base64-in-JSON, written with
// a write-to-tmp-then-rename so a crash mid-write can't corrupt the file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	values := map[string]string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode secretstore: %w", err)
	}
	return values, nil
}

func (f *FileStore) save(values map[string]string) error {
	raw, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode secretstore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", f.path, os.Getpid())
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (f *FileStore) Put(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return errkind.New(errkind.Internal, "secretstore.file_store.put", err)
	}
	values[key] = base64.StdEncoding.EncodeToString(value)
	if err := f.save(values); err != nil {
		return errkind.New(errkind.Internal, "secretstore.file_store.put", err)
	}
	return nil
}

func (f *FileStore) Get(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return nil, errkind.New(errkind.Internal, "secretstore.file_store.get", err)
	}
	encoded, ok := values[key]
	if !ok {
		return nil, errkind.Newf(errkind.NotFound, "secretstore.file_store.get", "no value for key %q", key)
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errkind.New(errkind.Internal, "secretstore.file_store.get", err)
	}
	return value, nil
}

func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return errkind.New(errkind.Internal, "secretstore.file_store.delete", err)
	}
	delete(values, key)
	if err := f.save(values); err != nil {
		return errkind.New(errkind.Internal, "secretstore.file_store.delete", err)
	}
	return nil
}
