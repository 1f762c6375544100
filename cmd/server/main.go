// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"glyphmind/backend/api"
	"glyphmind/backend/config"
	"glyphmind/backend/llm"
	"glyphmind/backend/results"
	"glyphmind/backend/shared/logger"
	"glyphmind/backend/tasks"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "service configuration file")
	flag.Parse()

	log := logger.New("server")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("configuration load failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	registry := llm.NewRegistry(cfg.ProvidersFile,
		llm.WithConfigSource(&llm.DotenvSource{Path: cfg.EnvFile}),
	)
	// Surface catalog problems at startup instead of on the first request.
	if _, err := registry.ListProviders(); err != nil {
		log.Error("provider catalog load failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	var opts []api.ServerOption

	if cfg.PostgresURL != "" {
		store, err := results.NewStore(cfg.PostgresURL)
		if err != nil {
			log.Error("result store unavailable", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.Migrate(ctx); err != nil {
			cancel()
			log.Error("result store migration failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		cancel()
		opts = append(opts, api.WithStore(store))
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Error("redis unavailable", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		defer rdb.Close()
		opts = append(opts, api.WithTasks(tasks.NewManager(rdb)))
	}

	server := api.NewServer(registry, opts...)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", map[string]interface{}{"addr": cfg.ListenAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
}
