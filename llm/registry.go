// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"fmt"
	"sync"

	"glyphmind/backend/shared/logger"
)

// Registry resolves provider names to freshly constructed handlers using the
// declarative metadata catalog. It never caches handler instances: every
// GetHandler call re-resolves configuration so env edits apply immediately.
type Registry struct {
	mu sync.Mutex

	metadataPath string
	source       ConfigSource
	factories    map[string]HandlerFactory
	log          *logger.Logger

	loaded    bool
	providers map[string]ProviderMetadata // standard name -> entry
	aliases   map[string]string           // alias -> standard name
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithConfigSource overrides the environment store backing the registry.
func WithConfigSource(src ConfigSource) RegistryOption {
	return func(r *Registry) { r.source = src }
}

// WithFactories overrides the handler factory table. Used by tests to
// register fakes.
func WithFactories(factories map[string]HandlerFactory) RegistryOption {
	return func(r *Registry) { r.factories = factories }
}

// WithLogger overrides the registry's logger.
func WithLogger(log *logger.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry builds a registry over the given metadata file. The catalog is
// loaded lazily on first use.
func NewRegistry(metadataPath string, opts ...RegistryOption) *Registry {
	r := &Registry{
		metadataPath: metadataPath,
		source:       &DotenvSource{Path: ".env"},
		factories:    builtinFactories(),
		log:          logger.New("llm-registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ensureLoaded parses the catalog once. A missing or malformed catalog file
// is fatal; individually malformed entries are skipped with a logged error.
func (r *Registry) ensureLoaded() error {
	if r.loaded {
		return nil
	}

	entries, err := loadMetadataFile(r.metadataPath)
	if err != nil {
		return err
	}

	r.providers = make(map[string]ProviderMetadata)
	r.aliases = make(map[string]string)

	for i, entry := range entries {
		if err := entry.validate(); err != nil {
			r.log.Error("skipping malformed provider entry", map[string]interface{}{
				"index": i,
				"error": err.Error(),
			})
			continue
		}

		std := normalizeName(entry.StandardName)
		entry.StandardName = std
		r.providers[std] = entry

		for _, alias := range entry.Aliases {
			a := normalizeName(alias)
			if prev, exists := r.aliases[a]; exists && prev != std {
				r.log.Warn("duplicate provider alias, later entry wins", map[string]interface{}{
					"alias":    a,
					"previous": prev,
					"winner":   std,
				})
			}
			r.aliases[a] = std
		}
	}

	r.loaded = true
	r.log.Info("provider catalog loaded", map[string]interface{}{
		"providers": len(r.providers),
		"aliases":   len(r.aliases),
	})
	return nil
}

// StandardizeName maps any accepted spelling of a provider name to its
// canonical form. Aliases are consulted before standard names so an alias
// can shadow nothing it shouldn't; unknown names return an error.
func (r *Registry) StandardizeName(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return "", err
	}

	n := normalizeName(name)
	if std, ok := r.aliases[n]; ok {
		return std, nil
	}
	if _, ok := r.providers[n]; ok {
		return n, nil
	}
	return "", fmt.Errorf("unknown provider: %q", name)
}

// Metadata returns the catalog entry for a provider name or alias.
func (r *Registry) Metadata(name string) (ProviderMetadata, error) {
	std, err := r.StandardizeName(name)
	if err != nil {
		return ProviderMetadata{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.providers[std], nil
}

// ListProviders returns every canonical provider name in the catalog.
func (r *Registry) ListProviders() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names, nil
}

// GetHandler constructs a fresh handler for the named provider. Config is
// resolved from the environment store at call time and handed to the
// provider's factory; instantiation failures are logged and yield nil so
// callers can treat "no handler" uniformly with "unknown provider".
func (r *Registry) GetHandler(name string) Handler {
	std, err := r.StandardizeName(name)
	if err != nil {
		r.log.Error("provider resolution failed", map[string]interface{}{
			"provider": name,
			"error":    err.Error(),
		})
		return nil
	}

	r.mu.Lock()
	entry := r.providers[std]
	factory, ok := r.factories[entry.HandlerClass]
	src := r.source
	r.mu.Unlock()

	if !ok {
		r.log.Error("no factory registered for handler class", map[string]interface{}{
			"provider": std,
			"class":    entry.HandlerClass,
		})
		return nil
	}

	cfg := resolveConfig(src, entry.EnvPrefix)
	cfg["provider_name"] = std

	h, err := factory(FactoryContext{
		Config:    cfg,
		Source:    src,
		EnvPrefix: entry.EnvPrefix,
		Log:       logger.New("llm-" + std),
	})
	if err != nil {
		r.log.Error("handler instantiation failed", map[string]interface{}{
			"provider": std,
			"error":    err.Error(),
		})
		return nil
	}
	return h
}

// Reload discards the parsed catalog so the next call re-reads the file.
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	r.providers = nil
	r.aliases = nil
}
