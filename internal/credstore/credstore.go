// Package credstore persists provider credentials in the operating system's
// secure store. Keys are provider names; values are opaque blobs.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/systmms/envlock/pkg/provider"
)

// Store is the credential store contract. Get returns nil, nil for an absent
// key and Delete of an absent key is not an error.
type Store interface {
	Set(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Has(key string) (bool, error)
}

// Keyring stores credentials through go-keyring (macOS Keychain, Secret
// Service on Linux, Windows Credential Manager). Reads are memoized for the
// life of the process.
type Keyring struct {
	service string

	mu    sync.RWMutex
	cache map[string][]byte
}

// NewKeyring returns a keyring-backed store using service as the keyring
// service name.
func NewKeyring(service string) *Keyring {
	return &Keyring{service: service, cache: map[string][]byte{}}
}

func (k *Keyring) Set(key string, value []byte) error {
	if err := keyring.Set(k.service, key, string(value)); err != nil {
		return fmt.Errorf("failed to store credential for %s in the OS keyring: %w", key, err)
	}

	k.mu.Lock()
	k.cache[key] = append([]byte(nil), value...)
	k.mu.Unlock()
	return nil
}

func (k *Keyring) Get(key string) ([]byte, error) {
	k.mu.RLock()
	cached, ok := k.cache[key]
	k.mu.RUnlock()
	if ok {
		return append([]byte(nil), cached...), nil
	}

	value, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credential for %s from the OS keyring: %w", key, err)
	}

	k.mu.Lock()
	k.cache[key] = []byte(value)
	k.mu.Unlock()
	return []byte(value), nil
}

func (k *Keyring) Delete(key string) error {
	k.mu.Lock()
	delete(k.cache, key)
	k.mu.Unlock()

	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete credential for %s from the OS keyring: %w", key, err)
	}
	return nil
}

func (k *Keyring) Has(key string) (bool, error) {
	value, err := k.Get(key)
	if err != nil {
		return false, err
	}
	return value != nil, nil
}

// Memory is a process-local Store used by tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: map[string][]byte{}}
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) Has(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok, nil
}

// SaveCredentials serializes creds under key.
func SaveCredentials(s Store, key string, creds provider.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credential for %s: %w", key, err)
	}
	return s.Set(key, data)
}

// LoadCredentials returns the credential stored under key. ok is false when
// nothing is stored. A bare string payload is accepted as an access token.
func LoadCredentials(s Store, key string) (creds provider.Credentials, ok bool, err error) {
	data, err := s.Get(key)
	if err != nil || data == nil {
		return provider.Credentials{}, false, err
	}

	if err := json.Unmarshal(data, &creds); err != nil {
		var token string
		if json.Unmarshal(data, &token) == nil {
			return provider.Credentials{AccessToken: token}, token != "", nil
		}
		// opaque non-JSON token
		return provider.Credentials{AccessToken: string(data)}, len(data) > 0, nil
	}
	return creds, creds.AccessToken != "", nil
}

var (
	_ Store = (*Keyring)(nil)
	_ Store = (*Memory)(nil)
)
