// Package fakes provides test doubles for envlock providers and the
// backends they talk to.
//
// The SDK fakes (AWS, GCP, Azure) implement the narrow client interfaces
// each provider depends on; the hub fake is an httptest server speaking the
// hub's REST API; the 1Password fake stands in for the op CLI. FakeProvider
// is a complete in-memory provider.Provider for command-level tests.
//
// Usage:
//
//	fake := fakes.NewFakeProvider("fake").
//	    WithSecret("dev", "API_KEY", "secret123")
//	registry := providers.NewRegistry()
//	_ = registry.Register(fake)
package fakes
