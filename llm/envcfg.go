// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"glyphmind/backend/shared/logger"
)

// ResolvedConfig is a provider's configuration snapshot: env keys under the
// provider prefix, stripped of the prefix, lowercased, with values coerced to
// bool/int/float64/string.
type ResolvedConfig map[string]interface{}

// GetString returns the value for key rendered as a string, or "" if absent.
func (c ResolvedConfig) GetString(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// GetInt returns the value for key as an int if it is one, with ok=false
// otherwise.
func (c ResolvedConfig) GetInt(key string) (int, bool) {
	v, ok := c[key].(int)
	return v, ok
}

// GetFloat returns the value for key as a float64, accepting int values too.
func (c ResolvedConfig) GetFloat(key string) (float64, bool) {
	switch t := c[key].(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

// GetBool returns the value for key as a bool if it is one.
func (c ResolvedConfig) GetBool(key string) (bool, bool) {
	v, ok := c[key].(bool)
	return v, ok
}

// ConfigSource supplies environment values for providers. Implementations
// must read fresh state on every call so that edits to the backing store take
// effect without a restart.
type ConfigSource interface {
	// Lookup returns the raw value for an exact key, reading the store
	// fresh.
	Lookup(key string) (string, bool)

	// Snapshot returns every key currently in the store.
	Snapshot() map[string]string
}

// DotenvSource reads a dotenv file on every call. Values in the file win
// over process environment variables; a missing or unreadable file degrades
// to the process environment alone.
type DotenvSource struct {
	// Path is the dotenv file location, e.g. ".env".
	Path string
}

// Snapshot merges the process environment with the dotenv file, file wins.
func (s *DotenvSource) Snapshot() map[string]string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	if s.Path != "" {
		if fileVals, err := godotenv.Read(s.Path); err == nil {
			for k, v := range fileVals {
				merged[k] = v
			}
		}
	}
	return merged
}

// Lookup reads the store fresh and returns the value for key.
func (s *DotenvSource) Lookup(key string) (string, bool) {
	if s.Path != "" {
		if fileVals, err := godotenv.Read(s.Path); err == nil {
			if v, ok := fileVals[key]; ok {
				return v, true
			}
		}
	}
	v, ok := os.LookupEnv(key)
	return v, ok
}

// mapSource is a fixed in-memory ConfigSource used by tests.
type mapSource map[string]string

func (m mapSource) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m mapSource) Snapshot() map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// coerceValue converts a raw env string to its natural type: "true"/"false"
// (case-insensitive) become bool, digit strings become int, digit strings
// with a single dot become float64, everything else stays a string.
func coerceValue(raw string) interface{} {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if strings.Count(raw, ".") == 1 {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	}
	if i, err := strconv.Atoi(raw); err == nil {
		return i
	}
	return raw
}

// resolveConfig gathers every key under prefix from the source, strips the
// prefix, lowercases the remainder and coerces the values.
func resolveConfig(src ConfigSource, prefix string) ResolvedConfig {
	cfg := make(ResolvedConfig)
	for k, v := range src.Snapshot() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(k, prefix))
		if name == "" {
			continue
		}
		cfg[name] = coerceValue(v)
	}
	return cfg
}

// paramResolver resolves a single named parameter at call time. Lookup order
// is {PREFIX}{NAME}, then {PREFIX}DEFAULT_{NAME}, then the caller's fallback;
// each call reads the store fresh so live edits take effect immediately.
type paramResolver struct {
	src    ConfigSource
	prefix string
	log    *logger.Logger
}

func (r *paramResolver) raw(name string) (string, bool) {
	upper := strings.ToUpper(name)
	if v, ok := r.src.Lookup(r.prefix + upper); ok && v != "" {
		return v, true
	}
	if v, ok := r.src.Lookup(r.prefix + "DEFAULT_" + upper); ok && v != "" {
		return v, true
	}
	return "", false
}

// String resolves a string parameter.
func (r *paramResolver) String(name, fallback string) string {
	if v, ok := r.raw(name); ok {
		return v
	}
	return fallback
}

// Float resolves a float parameter; an unparseable value logs a warning and
// yields the fallback.
func (r *paramResolver) Float(name string, fallback float64) float64 {
	v, ok := r.raw(name)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.warnCoerce(name, v, "float")
		return fallback
	}
	return f
}

// Int resolves an integer parameter; an unparseable value logs a warning and
// yields the fallback.
func (r *paramResolver) Int(name string, fallback int) int {
	v, ok := r.raw(name)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.warnCoerce(name, v, "int")
		return fallback
	}
	return i
}

// Bool resolves a boolean parameter; only "true"/"false" (case-insensitive)
// parse, anything else logs a warning and yields the fallback.
func (r *paramResolver) Bool(name string, fallback bool) bool {
	v, ok := r.raw(name)
	if !ok {
		return fallback
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	r.warnCoerce(name, v, "bool")
	return fallback
}

func (r *paramResolver) warnCoerce(name, value, want string) {
	if r.log == nil {
		return
	}
	r.log.Warn("parameter coercion failed, using fallback", map[string]interface{}{
		"param": name,
		"value": value,
		"want":  want,
	})
}

// effectiveParams merges request-level parameter overrides with live env
// resolution: an explicit request value always wins, otherwise the env store
// is consulted fresh, otherwise the given defaults apply.
func effectiveParams(r *paramResolver, p Params, defTemp float64, defMaxTokens int) (temperature float64, maxTokens int) {
	if p.Temperature != nil {
		temperature = *p.Temperature
	} else {
		temperature = r.Float("temperature", defTemp)
	}
	if p.MaxTokens != nil {
		maxTokens = *p.MaxTokens
	} else {
		maxTokens = r.Int("max_tokens", defMaxTokens)
	}
	return temperature, maxTokens
}
