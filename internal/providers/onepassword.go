package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"

	"github.com/systmms/envlock/internal/config"
	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/logging"
	"github.com/systmms/envlock/internal/prompt"
	"github.com/systmms/envlock/pkg/exec"
	"github.com/systmms/envlock/pkg/provider"
)

const onePasswordProviderName = "onepassword"

// OnePasswordProvider keeps secrets as the fields of a 1Password secure note,
// driven through the op CLI. The binding names a vault and an item; an
// environment override names another item in the same vault.
type OnePasswordProvider struct {
	deps     Deps
	executor exec.CommandExecutor
	// Account selects an op account when several are signed in.
	Account string
}

// OnePasswordOption configures the onepassword provider.
type OnePasswordOption func(*OnePasswordProvider)

// WithOnePasswordExecutor replaces the op CLI runner (for testing).
func WithOnePasswordExecutor(executor exec.CommandExecutor) OnePasswordOption {
	return func(p *OnePasswordProvider) {
		p.executor = executor
	}
}

// NewOnePasswordProvider creates a new 1Password provider instance
func NewOnePasswordProvider(deps Deps, opts ...OnePasswordOption) *OnePasswordProvider {
	p := &OnePasswordProvider{
		deps:     deps.withDefaults(),
		executor: exec.DefaultExecutor(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OnePasswordProvider) Name() string { return onePasswordProviderName }

func (p *OnePasswordProvider) Description() string {
	return "1Password secure notes (op CLI)"
}

// OnePasswordItem represents the structure returned by 1Password CLI
type OnePasswordItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Vault    struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"vault"`
	Fields []OnePasswordField `json:"fields"`
}

type OnePasswordField struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Purpose string `json:"purpose,omitempty"`
	Label   string `json:"label"`
	Value   string `json:"value"`
}

type onePasswordVault struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type onePasswordAccount struct {
	URL       string `json:"url"`
	Email     string `json:"email"`
	UserUUID  string `json:"user_uuid"`
	AccountID string `json:"account_uuid"`
}

func (p *OnePasswordProvider) args(args ...string) []string {
	if p.Account != "" {
		args = append(args, "--account", p.Account)
	}
	return args
}

// op runs the CLI and classifies failures.
func (p *OnePasswordProvider) op(ctx context.Context, input []byte, op string, args ...string) ([]byte, error) {
	stdout, stderr, err := p.executor.ExecuteWithInput(ctx, input, "op", p.args(args...)...)
	if err == nil {
		return stdout, nil
	}
	return nil, p.handleError(op, stderr, err)
}

func (p *OnePasswordProvider) handleError(op string, stderr []byte, err error) error {
	if errors.Is(err, osexec.ErrNotFound) {
		return &dserrors.Error{
			Kind:     dserrors.KindProviderNotConfigured,
			Op:       op,
			Provider: onePasswordProviderName,
			Detail:   "the 1Password CLI (op) is not installed or not in PATH",
			Err:      err,
		}
	}

	msg := strings.TrimSpace(string(stderr))
	// op prefixes errors with "[ERROR] date time "
	if i := strings.Index(msg, "[ERROR]"); i >= 0 {
		parts := strings.SplitN(msg[i:], " ", 4)
		if len(parts) == 4 {
			msg = parts[3]
		}
	}
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "not currently signed in"),
		strings.Contains(lower, "session expired"),
		strings.Contains(lower, "authorization prompt dismissed"),
		strings.Contains(lower, "no accounts configured"):
		return &dserrors.Error{
			Kind:     dserrors.KindAuthentication,
			Op:       op,
			Provider: onePasswordProviderName,
			Detail:   "op is not signed in; run 'eval $(op signin)' and retry",
			Err:      err,
		}
	case strings.Contains(lower, "isn't an item"), strings.Contains(lower, "isn't a vault"), strings.Contains(lower, "not found"):
		return &dserrors.Error{
			Kind:     dserrors.KindProviderNotConfigured,
			Op:       op,
			Provider: onePasswordProviderName,
			Detail:   msg,
			Err:      err,
		}
	}

	if msg == "" {
		msg = "op command failed"
	}
	return dserrors.Backend(onePasswordProviderName, op, 0, msg, err)
}

// Login confirms that op has a signed-in session.
func (p *OnePasswordProvider) Login(ctx context.Context, _ provider.LoginOptions) error {
	out, err := p.op(ctx, nil, "login", "whoami", "--format", "json")
	if err != nil {
		return err
	}

	var account onePasswordAccount
	if err := json.Unmarshal(out, &account); err != nil {
		return dserrors.Backend(onePasswordProviderName, "login", 0, "unexpected 'op whoami' output", err)
	}

	p.deps.Logger.Info("1Password CLI signed in as %s (%s)", account.Email, account.URL)
	if p.deps.Store != nil {
		return p.deps.Store.MarkAuthenticated(onePasswordProviderName, true, config.ProviderSettings{
			"email": account.Email,
			"url":   account.URL,
		})
	}
	return nil
}

// Configure picks a vault and then a secure note in it.
func (p *OnePasswordProvider) Configure(ctx context.Context, path string) (provider.Binding, error) {
	if err := confirmOverwrite(ctx, p.deps, onePasswordProviderName, path); err != nil {
		return provider.Binding{}, err
	}

	out, err := p.op(ctx, nil, "configure", "vault", "list", "--format", "json")
	if err != nil {
		return provider.Binding{}, err
	}
	var vaults []onePasswordVault
	if err := json.Unmarshal(out, &vaults); err != nil {
		return provider.Binding{}, dserrors.Backend(onePasswordProviderName, "configure", 0, "unexpected 'op vault list' output", err)
	}
	vaultOptions := make([]prompt.Option, len(vaults))
	for i, v := range vaults {
		vaultOptions[i] = prompt.Option{Label: v.Name, Value: v.ID}
	}
	vault, err := chooseOne(ctx, p.deps, onePasswordProviderName, "vault", vaultOptions)
	if err != nil {
		return provider.Binding{}, err
	}

	out, err = p.op(ctx, nil, "configure", "item", "list", "--vault", vault.Value, "--categories", "Secure Note", "--format", "json")
	if err != nil {
		return provider.Binding{}, err
	}
	var items []OnePasswordItem
	if err := json.Unmarshal(out, &items); err != nil {
		return provider.Binding{}, dserrors.Backend(onePasswordProviderName, "configure", 0, "unexpected 'op item list' output", err)
	}
	itemOptions := make([]prompt.Option, len(items))
	for i, it := range items {
		itemOptions[i] = prompt.Option{Label: it.Title, Value: it.ID}
	}
	item, err := chooseOne(ctx, p.deps, onePasswordProviderName, "secure note", itemOptions)
	if err != nil {
		return provider.Binding{}, err
	}

	return provider.NewBinding(path, onePasswordProviderName, map[string]string{
		"vault": vault.Value,
		"item":  item.Value,
	}), nil
}

type onePasswordScope struct {
	vault string
	item  string
}

func onePasswordScopeFor(b provider.Binding, override string) (onePasswordScope, error) {
	fields, err := b.Require("vault", "item")
	if err != nil {
		return onePasswordScope{}, err
	}
	return onePasswordScope{vault: fields[0], item: provider.ScopeFor(b, "item", override)}, nil
}

// getItem returns the parsed item and its raw JSON object.
func (p *OnePasswordProvider) getItem(ctx context.Context, op string, scope onePasswordScope) (OnePasswordItem, map[string]json.RawMessage, error) {
	out, err := p.op(ctx, nil, op, "item", "get", scope.item, "--vault", scope.vault, "--format", "json")
	if err != nil {
		return OnePasswordItem{}, nil, err
	}

	var item OnePasswordItem
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(out, &item); err != nil {
		return OnePasswordItem{}, nil, dserrors.Backend(onePasswordProviderName, op, 0, "unexpected 'op item get' output", err)
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return OnePasswordItem{}, nil, dserrors.Backend(onePasswordProviderName, op, 0, "unexpected 'op item get' output", err)
	}
	return item, raw, nil
}

// secretField reports whether f holds an envlock secret.
func secretField(f OnePasswordField) bool {
	if f.Purpose == "NOTES" || f.Label == "" {
		return false
	}
	return provider.ValidateSecretName(f.Label) == nil
}

func (p *OnePasswordProvider) Run(ctx context.Context, b provider.Binding, opts provider.RunOptions) ([]provider.Secret, error) {
	scope, err := onePasswordScopeFor(b, opts.Env)
	if err != nil {
		return nil, err
	}
	item, _, err := p.getItem(ctx, "run", scope)
	if err != nil {
		return nil, err
	}

	var secrets []provider.Secret
	for _, f := range item.Fields {
		if !secretField(f) {
			continue
		}
		secrets = append(secrets, provider.Secret{
			ID:            f.ID,
			Name:          f.Label,
			Value:         f.Value,
			EnvironmentID: item.ID,
		})
	}

	p.deps.Logger.Debug("Fetched %d fields from 1Password item %s", len(secrets), item.Title)
	return secrets, nil
}

func (p *OnePasswordProvider) ListSecrets(ctx context.Context, b provider.Binding, mode provider.ListMode) ([]provider.Secret, error) {
	secrets, err := p.Run(ctx, b, provider.RunOptions{})
	if err != nil {
		return nil, err
	}
	return hiddenList(secrets, mode, false), nil
}

// edit applies mutate to the item's fields and writes the whole item back
// through stdin, so values never appear in the process arguments.
func (p *OnePasswordProvider) edit(ctx context.Context, op string, b provider.Binding, mutate func(fields []map[string]any) ([]map[string]any, error)) error {
	scope, err := onePasswordScopeFor(b, "")
	if err != nil {
		return err
	}
	item, raw, err := p.getItem(ctx, op, scope)
	if err != nil {
		return err
	}

	var fields []map[string]any
	if data, ok := raw["fields"]; ok {
		if err := json.Unmarshal(data, &fields); err != nil {
			return dserrors.Backend(onePasswordProviderName, op, 0, "unexpected item fields", err)
		}
	}

	fields, err = mutate(fields)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode item fields: %w", err)
	}
	raw["fields"] = encoded
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}

	_, err = p.op(ctx, payload, op, "item", "edit", item.ID, "--vault", scope.vault, "--format", "json")
	var typed *dserrors.Error
	if errors.As(err, &typed) {
		// op may echo the rejected payload
		typed.Detail = logging.Redact(typed.Detail, fieldValues(fields))
	}
	return err
}

func fieldValues(fields []map[string]any) []string {
	values := make([]string, 0, len(fields))
	for _, f := range fields {
		if v, _ := f["value"].(string); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func fieldIndex(fields []map[string]any, name string) int {
	for i, f := range fields {
		if label, _ := f["label"].(string); label == name {
			if purpose, _ := f["purpose"].(string); purpose != "NOTES" {
				return i
			}
		}
	}
	return -1
}

func (p *OnePasswordProvider) CreateSecret(ctx context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	return p.edit(ctx, "create", b, func(fields []map[string]any) ([]map[string]any, error) {
		if fieldIndex(fields, name) >= 0 {
			return nil, dserrors.SecretAlreadyExists(onePasswordProviderName, name)
		}
		return append(fields, map[string]any{
			"id":    strings.ToLower(name),
			"type":  "CONCEALED",
			"label": name,
			"value": value,
		}), nil
	})
}

// UpdateSecret replaces the field's value. 1Password items have no personal
// values, so the shared value is written.
func (p *OnePasswordProvider) UpdateSecret(ctx context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	return p.edit(ctx, "update", b, func(fields []map[string]any) ([]map[string]any, error) {
		i := fieldIndex(fields, name)
		if i < 0 {
			return nil, dserrors.SecretNotFound(onePasswordProviderName, name)
		}
		fields[i]["value"] = value
		return fields, nil
	})
}

func (p *OnePasswordProvider) DeleteSecret(ctx context.Context, b provider.Binding, name string) error {
	if err := provider.ValidateSecretName(name); err != nil {
		return err
	}
	return p.edit(ctx, "delete", b, func(fields []map[string]any) ([]map[string]any, error) {
		i := fieldIndex(fields, name)
		if i < 0 {
			return nil, dserrors.SecretNotFound(onePasswordProviderName, name)
		}
		return append(fields[:i], fields[i+1:]...), nil
	})
}

var _ provider.Provider = (*OnePasswordProvider)(nil)
