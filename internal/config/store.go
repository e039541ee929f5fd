package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/logging"
	"github.com/systmms/envlock/pkg/provider"
)

// ProviderSettings is non-secret metadata kept per provider, such as whether
// a login succeeded and when. Tokens never live here.
type ProviderSettings map[string]string

// Document is the persisted root object.
type Document struct {
	Bindings         map[string]provider.Binding  `json:"bindings"`
	ProviderSettings map[string]ProviderSettings `json:"providerSettings"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		Bindings:         map[string]provider.Binding{},
		ProviderSettings: map[string]ProviderSettings{},
	}
}

// Store is the single source of truth for which provider and scope a
// directory uses. Writes replace the file atomically; concurrent processes
// get last-writer-wins.
type Store struct {
	path   string
	logger *logging.Logger
	mu     sync.Mutex
}

// NewStore returns a store backed by the JSON file at path.
func NewStore(path string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{path: path, logger: logger}
}

// DefaultPath is config.json under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", dserrors.ConfigError{
			Field:      "path",
			Message:    "cannot determine the user config directory",
			Suggestion: "Set ENVLOCK_CONFIG to an explicit file path",
			Err:        err,
		}
	}
	return filepath.Join(dir, "envlock", "config.json"), nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document, creating an empty one when the file is absent.
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			doc := NewDocument()
			if err := s.saveLocked(doc); err != nil {
				return nil, err
			}
			s.logger.Debug("Created empty configuration at %s", s.path)
			return doc, nil
		}
		return nil, s.ioError("read", err)
	}

	doc, migrated, err := decodeDocument(data)
	if err != nil {
		return nil, dserrors.ConfigError{
			Field:      s.path,
			Message:    fmt.Sprintf("configuration file is corrupt: %v", err),
			Suggestion: fmt.Sprintf("Delete %s and run 'envlock configure' again", s.path),
			Err:        err,
		}
	}

	if migrated {
		if err := s.saveLocked(doc); err != nil {
			return nil, err
		}
		s.logger.Info("Migrated project bindings in %s to the current format", s.path)
	}

	return doc, nil
}

// decodeDocument validates and parses raw file content. The second return
// reports whether legacy array-shaped bindings were converted.
func decodeDocument(data []byte) (*Document, bool, error) {
	if err := validateDocument(data); err != nil {
		return nil, false, err
	}

	var raw struct {
		Bindings         json.RawMessage                   `json:"bindings"`
		ProviderSettings map[string]map[string]interface{} `json:"providerSettings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, err
	}

	doc := NewDocument()
	for name, settings := range raw.ProviderSettings {
		converted := ProviderSettings{}
		for k, v := range settings {
			if str, ok := v.(string); ok {
				converted[k] = str
			} else {
				converted[k] = fmt.Sprint(v)
			}
		}
		doc.ProviderSettings[name] = converted
	}

	migrated := false
	trimmed := bytes.TrimSpace(raw.Bindings)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '[':
		var legacy []provider.Binding
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, false, fmt.Errorf("legacy bindings: %w", err)
		}
		for _, b := range legacy {
			key := normalizePath(b.Path)
			b.Path = key
			doc.Bindings[key] = b
		}
		migrated = true
	default:
		var bindings map[string]provider.Binding
		if err := json.Unmarshal(trimmed, &bindings); err != nil {
			return nil, false, fmt.Errorf("bindings: %w", err)
		}
		for path, b := range bindings {
			key := normalizePath(path)
			b.Path = key
			doc.Bindings[key] = b
		}
	}

	return doc, migrated, nil
}

// Save atomically replaces the file with doc.
func (s *Store) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(doc)
}

func (s *Store) saveLocked(doc *Document) error {
	if doc.Bindings == nil {
		doc.Bindings = map[string]provider.Binding{}
	}
	if doc.ProviderSettings == nil {
		doc.ProviderSettings = map[string]ProviderSettings{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return dserrors.ConfigError{Message: "cannot encode configuration", Err: err}
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return s.ioError("create directory for", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json.tmp")
	if err != nil {
		return s.ioError("write", err)
	}
	tmpPath := tmp.Name()

	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return s.ioError("write", cause)
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(0600); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return s.ioError("write", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return s.ioError("replace", err)
	}

	return nil
}

// Binding returns the binding stored for exactly path.
func (s *Store) Binding(path string) (provider.Binding, error) {
	doc, err := s.Load()
	if err != nil {
		return provider.Binding{}, err
	}
	key := normalizePath(path)
	b, ok := doc.Bindings[key]
	if !ok {
		return provider.Binding{}, dserrors.NoProjectBinding(key)
	}
	return b, nil
}

// SetBinding stores b for path, replacing any previous binding.
func (s *Store) SetBinding(path string, b provider.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return err
	}

	key := normalizePath(path)
	b.Path = key
	if len(b.Fields) == 0 {
		b.Fields = nil
	}
	doc.Bindings[key] = b

	return s.saveLocked(doc)
}

// RemoveBinding deletes the binding for exactly path.
func (s *Store) RemoveBinding(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return err
	}

	key := normalizePath(path)
	if _, ok := doc.Bindings[key]; !ok {
		return dserrors.NoProjectBinding(key)
	}
	delete(doc.Bindings, key)

	return s.saveLocked(doc)
}

// ProviderSettings returns the settings for name, or nil when none exist.
func (s *Store) ProviderSettings(name string) (ProviderSettings, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	return doc.ProviderSettings[name], nil
}

// SetProviderSettings merges settings into the stored settings for name.
func (s *Store) SetProviderSettings(name string, settings ProviderSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return err
	}

	merged := doc.ProviderSettings[name]
	if merged == nil {
		merged = ProviderSettings{}
	}
	for k, v := range settings {
		merged[k] = v
	}
	doc.ProviderSettings[name] = merged

	return s.saveLocked(doc)
}

// MarkAuthenticated records a login outcome for name.
func (s *Store) MarkAuthenticated(name string, authenticated bool, extra ProviderSettings) error {
	settings := ProviderSettings{"authenticated": fmt.Sprintf("%t", authenticated)}
	if authenticated {
		settings["lastLogin"] = time.Now().UTC().Format(time.RFC3339)
	}
	for k, v := range extra {
		settings[k] = v
	}
	return s.SetProviderSettings(name, settings)
}

// Resolve walks startPath and each ancestor up to the filesystem root and
// returns the first binding found.
func (s *Store) Resolve(startPath string) (provider.Binding, error) {
	doc, err := s.Load()
	if err != nil {
		return provider.Binding{}, err
	}

	start := normalizePath(startPath)
	dir := start
	for {
		if b, ok := doc.Bindings[dir]; ok {
			return b, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return provider.Binding{}, dserrors.NoProjectBinding(start)
}

func normalizePath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// ioError classifies a filesystem failure into a fatal ConfigError with a
// remediation hint.
func (s *Store) ioError(op string, err error) error {
	switch {
	case errors.Is(err, os.ErrPermission):
		return dserrors.ConfigError{
			Field:      s.path,
			Message:    fmt.Sprintf("permission denied trying to %s the configuration file", op),
			Suggestion: fmt.Sprintf("Check ownership and permissions of %s (expected mode 0600, owned by you)", s.path),
			Err:        err,
		}
	case errors.Is(err, syscall.EROFS):
		return dserrors.ConfigError{
			Field:      s.path,
			Message:    fmt.Sprintf("cannot %s the configuration file on a read-only filesystem", op),
			Suggestion: "Point ENVLOCK_CONFIG at a writable location",
			Err:        err,
		}
	default:
		return dserrors.ConfigError{
			Field:      s.path,
			Message:    fmt.Sprintf("failed to %s the configuration file: %v", op, err),
			Suggestion: "Check that the disk is not full and the path is valid",
			Err:        err,
		}
	}
}
