package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
	Err        error
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

func (e ConfigError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrConfiguration) match every ConfigError.
func (e ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// CommandError represents a command execution error
type CommandError struct {
	Command    string
	ExitCode   int
	Message    string
	Suggestion string
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ProviderSuggestion returns a remediation hint for err raised by provider,
// or "" when there is none.
func ProviderSuggestion(provider string, err error) string {
	if errors.Is(err, ErrAuthentication) {
		return fmt.Sprintf("Run 'envlock login %s' to authenticate again", provider)
	}
	if errors.Is(err, ErrNoProjectBinding) {
		return "Run 'envlock configure' in your project directory"
	}

	errStr := err.Error()

	switch provider {
	case "onepassword":
		if strings.Contains(errStr, "not signed in") || strings.Contains(errStr, "session expired") {
			return "Run 'op signin' to authenticate with 1Password"
		}
		if strings.Contains(errStr, "executable file not found") {
			return "Install 1Password CLI: https://developer.1password.com/docs/cli/get-started/"
		}

	case "aws":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:ListSecrets and secretsmanager:GetSecretValue"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. Wait a moment and try again"
		}

	case "gcp":
		if strings.Contains(errStr, "could not find default credentials") {
			return "Run 'gcloud auth application-default login'"
		}
		if strings.Contains(errStr, "PermissionDenied") {
			return "Grant roles/secretmanager.admin on the project to your identity"
		}

	case "azure":
		if strings.Contains(errStr, "DefaultAzureCredential") {
			return "Run 'az login' or set AZURE_CLIENT_ID/AZURE_TENANT_ID/AZURE_CLIENT_SECRET"
		}
		if strings.Contains(errStr, "Forbidden") {
			return "Check the Key Vault access policy or RBAC role for secrets"
		}
	}

	if strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and provider configuration"
	}

	return ""
}

// WrapCommandNotFound wraps command not found errors with helpful suggestions
func WrapCommandNotFound(command string, err error) error {
	suggestions := map[string]string{
		"npm":    "Install Node.js from https://nodejs.org/",
		"python": "Install Python from https://python.org/",
		"go":     "Install Go from https://golang.org/",
		"docker": "Install Docker from https://docker.com/",
		"op":     "Install 1Password CLI: https://developer.1password.com/docs/cli/get-started/",
	}

	suggestion := suggestions[command]
	if suggestion == "" {
		suggestion = fmt.Sprintf("Make sure '%s' is installed and in your PATH", command)
	}

	return CommandError{
		Command:    command,
		Message:    "command not found",
		Suggestion: suggestion,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"connection refused",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	var (
		userErr UserError
		cfgErr  ConfigError
		cmdErr  CommandError
		typed   *Error
	)
	if errors.As(err, &userErr) || errors.As(err, &cfgErr) || errors.As(err, &cmdErr) || errors.As(err, &typed) {
		return err
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
