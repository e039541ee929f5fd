package secure

import (
	"errors"

	"github.com/systmms/envlock/pkg/provider"
)

// ErrDestroyed is returned when a buffer is opened after Destroy.
var ErrDestroyed = errors.New("secure buffer already destroyed")

// SealedSecrets carries fetched secrets between the provider call and the
// child launch with every value held in its own enclave.
type SealedSecrets struct {
	meta   []provider.Secret
	values []*SecureBuffer
}

// Seal moves the values of secrets into enclaves. The returned set keeps the
// metadata; the Value fields of the input slice are cleared.
func Seal(secrets []provider.Secret) *SealedSecrets {
	s := &SealedSecrets{
		meta:   make([]provider.Secret, len(secrets)),
		values: make([]*SecureBuffer, len(secrets)),
	}
	for i := range secrets {
		s.values[i] = SealString(secrets[i].Value)
		secrets[i].Value = ""
		s.meta[i] = secrets[i]
	}
	return s
}

// Len reports how many secrets are sealed.
func (s *SealedSecrets) Len() int {
	return len(s.meta)
}

// Names lists secret names in fetch order.
func (s *SealedSecrets) Names() []string {
	names := make([]string, len(s.meta))
	for i, m := range s.meta {
		names[i] = m.Name
	}
	return names
}

// Open returns the secrets with values decrypted.
func (s *SealedSecrets) Open() ([]provider.Secret, error) {
	out := make([]provider.Secret, len(s.meta))
	for i, m := range s.meta {
		value, err := s.values[i].Reveal()
		if err != nil {
			return nil, err
		}
		m.Value = value
		out[i] = m
	}
	return out, nil
}

// Destroy destroys every enclave in the set.
func (s *SealedSecrets) Destroy() {
	for _, v := range s.values {
		v.Destroy()
	}
}
