package provider

import (
	"fmt"
	"regexp"

	dserrors "github.com/systmms/envlock/internal/errors"
)

// HiddenPlaceholder replaces values when secrets are listed in HideValues mode.
const HiddenPlaceholder = "********"

var secretNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateSecretName checks the name pattern for secrets created or updated
// through envlock.
func ValidateSecretName(name string) error {
	if !secretNamePattern.MatchString(name) {
		return dserrors.InvalidSecretName(name)
	}
	return nil
}

// ValidateSecretValue rejects empty values.
func ValidateSecretValue(name, value string) error {
	if value == "" {
		return dserrors.EmptySecretValue(name)
	}
	return nil
}

// ValidateNewSecret runs both checks in order.
func ValidateNewSecret(name, value string) error {
	if err := ValidateSecretName(name); err != nil {
		return err
	}
	return ValidateSecretValue(name, value)
}

// ListMode selects whether ListSecrets returns real values.
type ListMode string

const (
	ShowValues ListMode = "show"
	HideValues ListMode = "hide"
)

// ParseListMode accepts "show" or "hide".
func ParseListMode(s string) (ListMode, error) {
	switch ListMode(s) {
	case ShowValues, HideValues:
		return ListMode(s), nil
	default:
		return "", fmt.Errorf("invalid list mode %q (want show or hide)", s)
	}
}

// MaskSecrets returns a copy of secrets with values replaced by
// HiddenPlaceholder when mode is HideValues. maskEnvironment also hides the
// environment id for backends where it reveals naming structure.
func MaskSecrets(secrets []Secret, mode ListMode, maskEnvironment bool) []Secret {
	out := make([]Secret, len(secrets))
	copy(out, secrets)
	if mode != HideValues {
		return out
	}
	for i := range out {
		out[i].Value = HiddenPlaceholder
		if maskEnvironment {
			out[i].EnvironmentID = HiddenPlaceholder
		}
	}
	return out
}
