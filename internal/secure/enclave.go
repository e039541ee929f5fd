package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// SecureBuffer holds one secret value encrypted in a memguard enclave.
// Plaintext exists only inside the LockedBuffer returned by Open.
type SecureBuffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewSecureBuffer seals data. memguard wipes data while sealing, so pass a
// copy if the caller still needs it.
func NewSecureBuffer(data []byte) *SecureBuffer {
	if len(data) == 0 {
		return &SecureBuffer{}
	}
	return &SecureBuffer{enclave: memguard.NewEnclave(data)}
}

// SealString seals a copy of s.
func SealString(s string) *SecureBuffer {
	return NewSecureBuffer([]byte(s))
}

// Open decrypts the value into a locked buffer. The caller must Destroy it.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}
	if s.enclave == nil {
		return memguard.NewBuffer(0), nil
	}
	return s.enclave.Open()
}

// Reveal opens the buffer and returns its plaintext as a string. The string
// lives on the Go heap; use it only at the point of handoff to a child
// process or an output stream.
func (s *SecureBuffer) Reveal() (string, error) {
	locked, err := s.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Destroy drops the enclave. Safe to call more than once.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	s.destroyed = true
}
