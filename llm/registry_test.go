// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeHandler records the config it was constructed with.
type fakeHandler struct {
	name string
	cfg  ResolvedConfig
}

func (h *fakeHandler) Name() string                   { return h.name }
func (h *fakeHandler) RequiredConfigFields() []string { return []string{"api_key"} }
func (h *fakeHandler) AvailableModels(ctx context.Context) ([]string, error) {
	return []string{"fake-1"}, nil
}
func (h *fakeHandler) GenerateText(ctx context.Context, req GenerateRequest) (string, error) {
	return "generated", nil
}
func (h *fakeHandler) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Role: "assistant", Content: "hi", Provider: h.name}, nil
}
func (h *fakeHandler) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 2)
	out <- ContentChunk("hi")
	out <- DoneChunk()
	close(out)
	return out, nil
}
func (h *fakeHandler) TestConnection(ctx context.Context, model string) TestResult {
	return TestResult{Status: TestStatusSuccess}
}

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const testCatalog = `[
	{
		"standard_name": "Acme",
		"display_name": "Acme AI",
		"handler_class_name": "FakeHandler",
		"aliases": ["acme-ai", "ACME AI"],
		"env_prefix": "ACME_"
	},
	{
		"standard_name": "other",
		"display_name": "Other",
		"handler_class_name": "FakeHandler",
		"aliases": ["alt"],
		"env_prefix": "OTHER_"
	}
]`

func testRegistry(t *testing.T, catalog string, src ConfigSource) (*Registry, *int) {
	t.Helper()
	constructed := 0
	factories := map[string]HandlerFactory{
		"FakeHandler": func(fc FactoryContext) (Handler, error) {
			constructed++
			return &fakeHandler{name: fc.Config.GetString("provider_name"), cfg: fc.Config}, nil
		},
	}
	if src == nil {
		src = mapSource{}
	}
	r := NewRegistry(writeCatalog(t, catalog),
		WithConfigSource(src),
		WithFactories(factories),
	)
	return r, &constructed
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"DeepSeek":    "deepseek",
		"deep-seek":   "deep_seek",
		"Acme AI":     "acme_ai",
		" spaced  ":   "spaced",
		"mixed-Case X": "mixed_case_x",
	}
	for in, want := range cases {
		if got := normalizeName(in); got != want {
			t.Errorf("normalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStandardizeNameResolvesAliases(t *testing.T) {
	r, _ := testRegistry(t, testCatalog, nil)

	for _, in := range []string{"acme", "Acme", "acme-ai", "ACME AI", "acme_ai"} {
		got, err := r.StandardizeName(in)
		if err != nil {
			t.Fatalf("StandardizeName(%q): %v", in, err)
		}
		if got != "acme" {
			t.Errorf("StandardizeName(%q) = %q, want acme", in, got)
		}
	}

	if _, err := r.StandardizeName("nope"); err == nil {
		t.Error("unknown provider should error")
	}
}

func TestGetHandlerConstructsFreshInstances(t *testing.T) {
	r, constructed := testRegistry(t, testCatalog, nil)

	h1 := r.GetHandler("acme")
	h2 := r.GetHandler("acme")
	if h1 == nil || h2 == nil {
		t.Fatal("expected handlers")
	}
	if h1 == h2 {
		t.Error("handlers must not be cached across calls")
	}
	if *constructed != 2 {
		t.Errorf("factory invoked %d times, want 2", *constructed)
	}
}

func TestGetHandlerInjectsProviderNameAndConfig(t *testing.T) {
	src := mapSource{
		"ACME_API_KEY":    "sk-live",
		"ACME_MAX_TOKENS": "256",
		"OTHER_API_KEY":   "sk-other",
	}
	r, _ := testRegistry(t, testCatalog, src)

	h := r.GetHandler("acme-ai")
	fake, ok := h.(*fakeHandler)
	if !ok {
		t.Fatalf("unexpected handler %T", h)
	}
	if fake.name != "acme" {
		t.Errorf("provider_name = %q, want acme", fake.name)
	}
	if got := fake.cfg.GetString("api_key"); got != "sk-live" {
		t.Errorf("api_key = %q, want sk-live", got)
	}
	if v, ok := fake.cfg.GetInt("max_tokens"); !ok || v != 256 {
		t.Errorf("max_tokens = %v, %v", v, ok)
	}
	if fake.cfg.GetString("api_key") == "sk-other" {
		t.Error("config leaked across prefixes")
	}
}

func TestGetHandlerSeesConfigEdits(t *testing.T) {
	src := mapSource{"ACME_API_KEY": "first"}
	r, _ := testRegistry(t, testCatalog, src)

	h1 := r.GetHandler("acme").(*fakeHandler)
	src["ACME_API_KEY"] = "second"
	h2 := r.GetHandler("acme").(*fakeHandler)

	if h1.cfg.GetString("api_key") != "first" || h2.cfg.GetString("api_key") != "second" {
		t.Error("each GetHandler call must re-resolve configuration")
	}
}

func TestGetHandlerUnknownProviderNil(t *testing.T) {
	r, constructed := testRegistry(t, testCatalog, nil)

	if h := r.GetHandler("unknown"); h != nil {
		t.Errorf("unknown provider should yield nil, got %T", h)
	}
	if *constructed != 0 {
		t.Error("factory must not run for unknown providers")
	}
}

func TestGetHandlerFactoryFailureNil(t *testing.T) {
	r := NewRegistry(writeCatalog(t, testCatalog),
		WithConfigSource(mapSource{}),
		WithFactories(map[string]HandlerFactory{
			"FakeHandler": func(fc FactoryContext) (Handler, error) {
				return nil, &ConfigError{Provider: "acme", Message: "broken"}
			},
		}),
	)
	if h := r.GetHandler("acme"); h != nil {
		t.Errorf("instantiation failure should yield nil, got %T", h)
	}
}

func TestRegistrySkipsMalformedEntries(t *testing.T) {
	catalog := `[
		{"standard_name": "good", "handler_class_name": "FakeHandler", "env_prefix": "GOOD_"},
		{"display_name": "no standard name", "handler_class_name": "FakeHandler", "env_prefix": "BAD_"},
		{"standard_name": "nohandler", "env_prefix": "NH_"}
	]`
	r, _ := testRegistry(t, catalog, nil)

	providers, err := r.ListProviders()
	if err != nil {
		t.Fatal(err)
	}
	if len(providers) != 1 || providers[0] != "good" {
		t.Errorf("providers = %v, want [good]", providers)
	}
}

func TestRegistryDuplicateAliasLastWins(t *testing.T) {
	catalog := `[
		{"standard_name": "first", "handler_class_name": "FakeHandler", "aliases": ["shared"], "env_prefix": "F_"},
		{"standard_name": "second", "handler_class_name": "FakeHandler", "aliases": ["shared"], "env_prefix": "S_"}
	]`
	r, _ := testRegistry(t, catalog, nil)

	got, err := r.StandardizeName("shared")
	if err != nil {
		t.Fatal(err)
	}
	if got != "second" {
		t.Errorf("duplicate alias resolved to %q, want second (last wins)", got)
	}
}

func TestRegistryMissingCatalogFatal(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "absent.json"),
		WithConfigSource(mapSource{}),
		WithFactories(map[string]HandlerFactory{}),
	)
	if _, err := r.ListProviders(); err == nil {
		t.Error("missing catalog should be fatal")
	}
}

func TestRegistryNonListCatalogFatal(t *testing.T) {
	r, _ := testRegistry(t, `{"standard_name": "acme"}`, nil)
	if _, err := r.ListProviders(); err == nil {
		t.Error("non-list catalog should be fatal")
	}
}

func TestRegistryReload(t *testing.T) {
	path := writeCatalog(t, testCatalog)
	r := NewRegistry(path,
		WithConfigSource(mapSource{}),
		WithFactories(map[string]HandlerFactory{
			"FakeHandler": func(fc FactoryContext) (Handler, error) {
				return &fakeHandler{name: fc.Config.GetString("provider_name")}, nil
			},
		}),
	)

	if _, err := r.StandardizeName("acme"); err != nil {
		t.Fatal(err)
	}

	updated := `[{"standard_name": "renamed", "handler_class_name": "FakeHandler", "env_prefix": "R_"}]`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	r.Reload()

	if _, err := r.StandardizeName("acme"); err == nil {
		t.Error("old provider should be gone after reload")
	}
	if _, err := r.StandardizeName("renamed"); err != nil {
		t.Errorf("new provider missing after reload: %v", err)
	}
}
