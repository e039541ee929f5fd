package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for callers that need to branch on it.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindNoProjectBinding
	KindProviderNotFound
	KindProviderNotConfigured
	KindAuthentication
	KindAuthFlowAborted
	KindSecretNotFound
	KindSecretAlreadyExists
	KindInvalidSecretName
	KindEmptySecretValue
	KindBackend
	KindCancelled
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown error",
	KindConfiguration:         "configuration error",
	KindNoProjectBinding:      "no project binding",
	KindProviderNotFound:      "provider not found",
	KindProviderNotConfigured: "provider not configured",
	KindAuthentication:        "authentication failed",
	KindAuthFlowAborted:       "authentication aborted",
	KindSecretNotFound:        "secret not found",
	KindSecretAlreadyExists:   "secret already exists",
	KindInvalidSecretName:     "invalid secret name",
	KindEmptySecretValue:      "empty secret value",
	KindBackend:               "backend error",
	KindCancelled:             "cancelled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrConfiguration         = &Error{Kind: KindConfiguration}
	ErrNoProjectBinding      = &Error{Kind: KindNoProjectBinding}
	ErrProviderNotFound      = &Error{Kind: KindProviderNotFound}
	ErrProviderNotConfigured = &Error{Kind: KindProviderNotConfigured}
	ErrAuthentication        = &Error{Kind: KindAuthentication}
	ErrAuthFlowAborted       = &Error{Kind: KindAuthFlowAborted}
	ErrSecretNotFound        = &Error{Kind: KindSecretNotFound}
	ErrSecretAlreadyExists   = &Error{Kind: KindSecretAlreadyExists}
	ErrInvalidSecretName     = &Error{Kind: KindInvalidSecretName}
	ErrEmptySecretValue      = &Error{Kind: KindEmptySecretValue}
	ErrBackend               = &Error{Kind: KindBackend}
	ErrCancelled             = &Error{Kind: KindCancelled}
)

// Error is the typed error returned by the core packages.
type Error struct {
	Kind     Kind
	Op       string // operation, e.g. "list", "create", "login"
	Provider string
	// Status and Detail carry what the backend reported, when it reported anything.
	Status       int
	Detail       string
	Alternatives []string
	Err          error
}

func (e *Error) Error() string {
	var b strings.Builder

	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Alternatives) > 0 {
		b.WriteString(" (available: ")
		b.WriteString(strings.Join(e.Alternatives, ", "))
		b.WriteString(")")
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if errors.Is(err, ErrConfiguration) {
		return KindConfiguration
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}

// Fatal reports whether err must terminate the process. Only configuration
// failures do; everything else is recoverable by the caller.
func Fatal(err error) bool {
	return err != nil && errors.Is(err, ErrConfiguration)
}

func NoProjectBinding(path string) error {
	return &Error{
		Kind:   KindNoProjectBinding,
		Detail: fmt.Sprintf("no project is configured for %s or any parent directory", path),
	}
}

func ProviderNotFound(name string, available []string) error {
	return &Error{
		Kind:         KindProviderNotFound,
		Detail:       fmt.Sprintf("%q is not a known provider", name),
		Alternatives: sorted(available),
	}
}

func Authentication(provider, detail string, err error) error {
	return &Error{Kind: KindAuthentication, Op: "login", Provider: provider, Detail: detail, Err: err}
}

func AuthFlowAborted(provider, reason string) error {
	return &Error{Kind: KindAuthFlowAborted, Op: "login", Provider: provider, Detail: reason}
}

func SecretNotFound(provider, name string) error {
	return &Error{Kind: KindSecretNotFound, Provider: provider, Detail: name}
}

func SecretAlreadyExists(provider, name string) error {
	return &Error{Kind: KindSecretAlreadyExists, Provider: provider, Detail: name}
}

func InvalidSecretName(name string) error {
	return &Error{
		Kind:   KindInvalidSecretName,
		Detail: fmt.Sprintf("%q must match ^[A-Za-z0-9_-]+$", name),
	}
}

func EmptySecretValue(name string) error {
	return &Error{Kind: KindEmptySecretValue, Detail: fmt.Sprintf("value for %q is empty", name)}
}

// Backend wraps a failure reported by a remote provider.
func Backend(provider, op string, status int, detail string, err error) error {
	return &Error{Kind: KindBackend, Op: op, Provider: provider, Status: status, Detail: detail, Err: err}
}

// Cancelled reports that the user declined to continue an interactive flow.
func Cancelled(provider, op, detail string) error {
	return &Error{Kind: KindCancelled, Op: op, Provider: provider, Detail: detail}
}

// Notice reports whether err is an outcome the user chose (an aborted login
// or a declined prompt) rather than a failure.
func Notice(err error) bool {
	return errors.Is(err, ErrAuthFlowAborted) || errors.Is(err, ErrCancelled)
}

func sorted(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
