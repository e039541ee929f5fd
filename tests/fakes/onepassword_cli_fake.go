package fakes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	osexec "os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/systmms/envlock/pkg/exec"
)

// FakeOnePasswordCLI answers the subset of the op CLI the onepassword
// provider drives, backed by in-memory vaults and items.
type FakeOnePasswordCLI struct {
	mu sync.Mutex

	Email    string
	URL      string
	SignedIn bool
	// Missing makes every call fail as if op were not on PATH.
	Missing bool

	Vaults []FakeOPVault
	// Items maps item IDs to items.
	Items map[string]*FakeOPItem

	// Edits records the stdin payload of every 'op item edit'.
	Edits [][]byte
	// RejectEdits fails 'op item edit', echoing the payload as op does for
	// malformed templates.
	RejectEdits bool

	calls atomic.Int64
}

type FakeOPVault struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type FakeOPItem struct {
	ID       string
	Title    string
	Category string
	VaultID  string
	Fields   []map[string]any
}

// NewFakeOnePasswordCLI returns a signed-in CLI with no vaults.
func NewFakeOnePasswordCLI() *FakeOnePasswordCLI {
	return &FakeOnePasswordCLI{
		Email:    "dev@example.com",
		URL:      "my.1password.com",
		SignedIn: true,
		Items:    make(map[string]*FakeOPItem),
	}
}

// Calls reports how many op invocations the fake has served.
func (f *FakeOnePasswordCLI) Calls() int {
	return int(f.calls.Load())
}

// AddVault registers a vault.
func (f *FakeOnePasswordCLI) AddVault(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Vaults = append(f.Vaults, FakeOPVault{ID: id, Name: name})
}

// AddNote creates a secure note whose concealed fields hold values.
func (f *FakeOnePasswordCLI) AddNote(vaultID, id, title string, values map[string]string) *FakeOPItem {
	f.mu.Lock()
	defer f.mu.Unlock()

	item := &FakeOPItem{
		ID:       id,
		Title:    title,
		Category: "SECURE_NOTE",
		VaultID:  vaultID,
		Fields: []map[string]any{
			{"id": "notesPlain", "type": "STRING", "purpose": "NOTES", "label": "notesPlain", "value": ""},
		},
	}
	labels := make([]string, 0, len(values))
	for label := range values {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		item.Fields = append(item.Fields, map[string]any{
			"id":    strings.ToLower(label),
			"type":  "CONCEALED",
			"label": label,
			"value": values[label],
		})
	}
	f.Items[id] = item
	return item
}

// Field returns the value of the labelled field in item id.
func (f *FakeOnePasswordCLI) Field(id, label string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.Items[id]
	if !ok {
		return "", false
	}
	for _, field := range item.Fields {
		if field["label"] == label {
			value, _ := field["value"].(string)
			return value, true
		}
	}
	return "", false
}

func (f *FakeOnePasswordCLI) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return f.ExecuteWithInput(ctx, nil, name, args...)
}

func (f *FakeOnePasswordCLI) Start(context.Context, string, ...string) error {
	return errors.New("fake op cli does not start background processes")
}

func (f *FakeOnePasswordCLI) ExecuteWithInput(_ context.Context, input []byte, name string, args ...string) ([]byte, []byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Missing || name != "op" {
		return nil, nil, &osexec.Error{Name: name, Err: osexec.ErrNotFound}
	}
	if !f.SignedIn {
		return opFailure("You are not currently signed in. Please run `op signin --help` for instructions")
	}

	positional, flags := splitArgs(args)
	switch strings.Join(positional[:min(2, len(positional))], " ") {
	case "whoami":
		return opJSON(map[string]string{"email": f.Email, "url": f.URL, "user_uuid": "USER1", "account_uuid": "ACCOUNT1"})
	case "vault list":
		return opJSON(f.Vaults)
	case "item list":
		return f.itemList(flags["vault"], flags["categories"])
	case "item get":
		if len(positional) < 3 {
			return opFailure("expected item")
		}
		item, err := f.lookup(flags["vault"], positional[2])
		if err != nil {
			return opFailure(err.Error())
		}
		return opJSON(f.render(item))
	case "item edit":
		if len(positional) < 3 {
			return opFailure("expected item")
		}
		item, err := f.lookup(flags["vault"], positional[2])
		if err != nil {
			return opFailure(err.Error())
		}
		if f.RejectEdits {
			return opFailure("unable to process item template: " + string(input))
		}
		var edited struct {
			Fields []map[string]any `json:"fields"`
		}
		if err := json.Unmarshal(input, &edited); err != nil {
			return opFailure("invalid JSON template: " + err.Error())
		}
		f.Edits = append(f.Edits, append([]byte(nil), input...))
		item.Fields = edited.Fields
		return opJSON(f.render(item))
	}
	return opFailure(fmt.Sprintf("unknown command %q", strings.Join(args, " ")))
}

func (f *FakeOnePasswordCLI) itemList(vault, categories string) ([]byte, []byte, error) {
	v, ok := f.vault(vault)
	if !ok {
		return opFailure(fmt.Sprintf("%q isn't a vault in this account", vault))
	}
	ids := make([]string, 0, len(f.Items))
	for id, item := range f.Items {
		if item.VaultID != v.ID {
			continue
		}
		if categories == "Secure Note" && item.Category != "SECURE_NOTE" {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		item := f.Items[id]
		out = append(out, map[string]any{
			"id":       item.ID,
			"title":    item.Title,
			"category": item.Category,
			"vault":    map[string]string{"id": v.ID, "name": v.Name},
		})
	}
	return opJSON(out)
}

func (f *FakeOnePasswordCLI) vault(ref string) (FakeOPVault, bool) {
	for _, v := range f.Vaults {
		if v.ID == ref || strings.EqualFold(v.Name, ref) {
			return v, true
		}
	}
	return FakeOPVault{}, false
}

func (f *FakeOnePasswordCLI) lookup(vault, ref string) (*FakeOPItem, error) {
	v, ok := f.vault(vault)
	if !ok {
		return nil, fmt.Errorf("%q isn't a vault in this account", vault)
	}
	for _, item := range f.Items {
		if item.VaultID == v.ID && (item.ID == ref || item.Title == ref) {
			return item, nil
		}
	}
	return nil, fmt.Errorf("%q isn't an item in the %q vault", ref, v.Name)
}

func (f *FakeOnePasswordCLI) render(item *FakeOPItem) map[string]any {
	v, _ := f.vault(item.VaultID)
	return map[string]any{
		"id":       item.ID,
		"title":    item.Title,
		"category": item.Category,
		"vault":    map[string]string{"id": v.ID, "name": v.Name},
		"fields":   item.Fields,
		"version":  1,
	}
}

// splitArgs separates positional words from --flag value pairs.
func splitArgs(args []string) ([]string, map[string]string) {
	var positional []string
	flags := map[string]string{}
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") {
			key := strings.TrimPrefix(args[i], "--")
			if i+1 < len(args) {
				flags[key] = args[i+1]
				i++
			}
			continue
		}
		positional = append(positional, args[i])
	}
	return positional, flags
}

func opJSON(v any) ([]byte, []byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}

func opFailure(msg string) ([]byte, []byte, error) {
	return nil, []byte("[ERROR] 2024/01/02 15:04:05 " + msg + "\n"), errors.New("exit status 1")
}

var _ exec.CommandExecutor = (*FakeOnePasswordCLI)(nil)
