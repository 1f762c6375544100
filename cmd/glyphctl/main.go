// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

// glyphctl is an operator tool for the provider catalog: list providers,
// list a provider's models, show its required configuration and probe
// connectivity, all against the same catalog and env store the server uses.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"glyphmind/backend/llm"
)

const usage = `usage: glyphctl [-catalog path] [-env path] <command> [args]

commands:
  providers                 list catalog providers
  models <provider>         list a provider's models
  config <provider>         show a provider's required config fields
  test <provider> [model]   probe provider connectivity
`

func main() {
	catalog := flag.String("catalog", "config/providers.json", "provider catalog path")
	envFile := flag.String("env", ".env", "dotenv store path")
	timeout := flag.Duration("timeout", 60*time.Second, "command timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	registry := llm.NewRegistry(*catalog,
		llm.WithConfigSource(&llm.DotenvSource{Path: *envFile}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, registry, args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, registry *llm.Registry, args []string) error {
	switch args[0] {
	case "providers":
		providers, err := registry.ListProviders()
		if err != nil {
			return err
		}
		for _, p := range providers {
			fmt.Println(p)
		}
		return nil

	case "models":
		h, err := resolve(registry, args[1:])
		if err != nil {
			return err
		}
		models, err := h.AvailableModels(ctx)
		if err != nil {
			return err
		}
		for _, m := range models {
			fmt.Println(m)
		}
		return nil

	case "config":
		h, err := resolve(registry, args[1:])
		if err != nil {
			return err
		}
		meta, err := registry.Metadata(h.Name())
		if err != nil {
			return err
		}
		fmt.Printf("provider: %s\nenv prefix: %s\n", h.Name(), meta.EnvPrefix)
		for _, field := range h.RequiredConfigFields() {
			fmt.Printf("  %s%s\n", meta.EnvPrefix, strings.ToUpper(field))
		}
		return nil

	case "test":
		h, err := resolve(registry, args[1:])
		if err != nil {
			return err
		}
		model := ""
		if len(args) > 2 {
			model = args[2]
		}
		result := h.TestConnection(ctx, model)
		fmt.Printf("%s: %s\n", result.Status, result.Message)
		if result.Status != llm.TestStatusSuccess {
			return fmt.Errorf("connection test failed")
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func resolve(registry *llm.Registry, args []string) (llm.Handler, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("provider name required")
	}
	h := registry.GetHandler(args[0])
	if h == nil {
		return nil, fmt.Errorf("no usable provider %q", args[0])
	}
	return h, nil
}
