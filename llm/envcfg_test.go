// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCoerceValue(t *testing.T) {
	cases := []struct {
		raw  string
		want interface{}
	}{
		{"true", true},
		{"TRUE", true},
		{"false", false},
		{"42", 42},
		{"-7", -7},
		{"0.5", 0.5},
		{"1.25", 1.25},
		{"1.2.3", "1.2.3"},
		{"sk-abc123", "sk-abc123"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := coerceValue(tc.raw); got != tc.want {
			t.Errorf("coerceValue(%q) = %v (%T), want %v (%T)", tc.raw, got, got, tc.want, tc.want)
		}
	}
}

func TestResolveConfig(t *testing.T) {
	src := mapSource{
		"ACME_API_KEY":     "sk-test",
		"ACME_MAX_TOKENS":  "1024",
		"ACME_TEMPERATURE": "0.3",
		"ACME_VERBOSE":     "true",
		"OTHER_API_KEY":    "should-not-appear",
	}

	cfg := resolveConfig(src, "ACME_")
	if got := cfg.GetString("api_key"); got != "sk-test" {
		t.Errorf("api_key = %q, want sk-test", got)
	}
	if v, ok := cfg.GetInt("max_tokens"); !ok || v != 1024 {
		t.Errorf("max_tokens = %v, %v", v, ok)
	}
	if v, ok := cfg.GetFloat("temperature"); !ok || v != 0.3 {
		t.Errorf("temperature = %v, %v", v, ok)
	}
	if v, ok := cfg.GetBool("verbose"); !ok || !v {
		t.Errorf("verbose = %v, %v", v, ok)
	}
	if _, present := cfg["api_key_other"]; len(cfg) != 4 || present {
		t.Errorf("unexpected keys in config: %v", cfg)
	}
}

func TestParamResolverPrecedence(t *testing.T) {
	src := mapSource{
		"ACME_TEMPERATURE":         "0.9",
		"ACME_DEFAULT_TEMPERATURE": "0.2",
		"ACME_DEFAULT_MAX_TOKENS":  "512",
	}
	r := &paramResolver{src: src, prefix: "ACME_"}

	// Specific key wins over the DEFAULT_ variant.
	if got := r.Float("temperature", 0.7); got != 0.9 {
		t.Errorf("temperature = %v, want 0.9", got)
	}
	// DEFAULT_ variant applies when the specific key is absent.
	if got := r.Int("max_tokens", 100); got != 512 {
		t.Errorf("max_tokens = %v, want 512", got)
	}
	// Fallback applies when neither is set.
	if got := r.Int("top_k", 40); got != 40 {
		t.Errorf("top_k = %v, want 40", got)
	}
}

func TestParamResolverCoercionFailure(t *testing.T) {
	src := mapSource{
		"ACME_MAX_TOKENS":  "lots",
		"ACME_TEMPERATURE": "warm",
		"ACME_VERBOSE":     "yes",
	}
	r := &paramResolver{src: src, prefix: "ACME_"}

	if got := r.Int("max_tokens", 256); got != 256 {
		t.Errorf("unparseable int should fall back, got %v", got)
	}
	if got := r.Float("temperature", 0.7); got != 0.7 {
		t.Errorf("unparseable float should fall back, got %v", got)
	}
	if got := r.Bool("verbose", false); got != false {
		t.Errorf("unparseable bool should fall back, got %v", got)
	}
}

func TestParamResolverSeesLiveEdits(t *testing.T) {
	src := mapSource{"ACME_MODEL": "model-a"}
	r := &paramResolver{src: src, prefix: "ACME_"}

	if got := r.String("model", ""); got != "model-a" {
		t.Fatalf("model = %q", got)
	}
	src["ACME_MODEL"] = "model-b"
	if got := r.String("model", ""); got != "model-b" {
		t.Errorf("edit not visible, model = %q, want model-b", got)
	}
}

func TestDotenvSourceFileWinsOverProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("ACME_API_KEY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ACME_API_KEY", "from-env")
	t.Setenv("ACME_MODEL", "env-only")

	src := &DotenvSource{Path: path}
	if v, _ := src.Lookup("ACME_API_KEY"); v != "from-file" {
		t.Errorf("Lookup = %q, want from-file", v)
	}
	if v, _ := src.Lookup("ACME_MODEL"); v != "env-only" {
		t.Errorf("Lookup = %q, want env-only", v)
	}

	snap := src.Snapshot()
	if snap["ACME_API_KEY"] != "from-file" {
		t.Errorf("Snapshot api key = %q, want from-file", snap["ACME_API_KEY"])
	}
}

func TestDotenvSourceMissingFile(t *testing.T) {
	t.Setenv("ACME_API_KEY", "from-env")
	src := &DotenvSource{Path: filepath.Join(t.TempDir(), "absent.env")}

	if v, ok := src.Lookup("ACME_API_KEY"); !ok || v != "from-env" {
		t.Errorf("Lookup = %q, %v; missing file should degrade to process env", v, ok)
	}
}

func TestDotenvSourceRereadsEachCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("ACME_MODEL=first\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	src := &DotenvSource{Path: path}

	if v, _ := src.Lookup("ACME_MODEL"); v != "first" {
		t.Fatalf("Lookup = %q", v)
	}
	if err := os.WriteFile(path, []byte("ACME_MODEL=second\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if v, _ := src.Lookup("ACME_MODEL"); v != "second" {
		t.Errorf("Lookup = %q, want second; edits must apply without restart", v)
	}
}
