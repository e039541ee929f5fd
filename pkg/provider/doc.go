// Package provider defines the contract every envlock secrets backend implements.
//
// A Provider turns a Binding (the persisted association between a project
// directory and a backend scope) into a list of Secrets. Every backend, whether
// a hosted API, a cloud secret manager or a password-manager vault, is driven
// through the same operations:
//
//   - Login establishes credentials, or verifies ambient ones
//   - Configure interactively selects a scope and returns a Binding to persist
//   - Run fetches every secret in the effective scope with values populated
//   - CreateSecret, UpdateSecret and DeleteSecret mutate a single secret
//   - ListSecrets is Run with optional masking of values
//
// Backend pagination, scoping and versioning stay inside each implementation,
// so the injection and CLI layers never need to know which backend they are
// talking to.
//
// # Validation
//
// Secret names must match ^[A-Za-z0-9_-]+$ and values must be non-empty.
// Implementations call ValidateNewSecret before issuing any backend request:
//
//	if err := provider.ValidateNewSecret(name, value); err != nil {
//	    return err
//	}
//
// # Scope
//
// Run and ListSecrets honour an explicit environment override without ever
// mutating the stored Binding. ScopeFor picks the override when present and
// falls back to the binding's default field otherwise.
//
// # Contract tests
//
// RunContractTests exercises the mutation and listing operations against any
// implementation backed by a fake client, so new backends get the same
// behavioural checks as the built-in ones.
package provider
