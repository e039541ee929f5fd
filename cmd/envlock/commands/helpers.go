package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/prompt"
)

func providerRequired(available []string, err error) error {
	if errors.Is(err, prompt.ErrNonInteractive) {
		return dserrors.UserError{
			Message:    "No provider specified",
			Suggestion: fmt.Sprintf("Name one of: %s", strings.Join(available, ", ")),
			Err:        err,
		}
	}
	return err
}

// writePrivateFile writes data to path with mode 0600, replacing the file
// atomically when the directory allows it.
func writePrivateFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict permissions on %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
