// Copyright 2026 QueryCanvas
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// engine is the query orchestration service: it turns natural-language
// questions into chart and dashboard operations over configured tool
// servers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"querycanvas/platform/api"
	"querycanvas/platform/config"
	"querycanvas/platform/keystore"
	"querycanvas/platform/llm"
	"querycanvas/platform/llm/anthropic"
	"querycanvas/platform/llm/openai"
	"querycanvas/platform/query"
	"querycanvas/platform/shared/logger"
	"querycanvas/platform/toolserver"
)

func backendFactory(cfg *config.Config) (query.BackendFactory, error) {
	switch cfg.Backend {
	case "anthropic":
		return func() (llm.Backend, error) {
			return anthropic.New(anthropic.Config{
				APIKey:        cfg.Anthropic.APIKey,
				BaseURL:       cfg.Anthropic.BaseURL,
				Model:         cfg.Anthropic.Model,
				MaxIterations: cfg.MaxIterations,
			})
		}, nil
	case "openai":
		return func() (llm.Backend, error) {
			return openai.New(openai.Config{
				APIKey:        cfg.OpenAI.APIKey,
				BaseURL:       cfg.OpenAI.BaseURL,
				Model:         cfg.OpenAI.Model,
				MaxIterations: cfg.MaxIterations,
			})
		}, nil
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.Backend)
	}
}

func connectRedis(url string, log *logger.Logger) *redis.Client {
	if url == "" {
		return nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("", "", "invalid redis url, rate limiting disabled", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("", "", "redis unreachable, rate limiting disabled", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return client
}

func run() error {
	configPath := flag.String("config", "engine.yaml", "path to the engine configuration file")
	flag.Parse()

	log := logger.New("engine")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	manager, err := toolserver.NewManager(cfg.ToolServerFile)
	if err != nil {
		return fmt.Errorf("failed to load tool server configuration: %w", err)
	}

	keys, err := keystore.Open(cfg.KeyDBPath)
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	defer keys.Close()

	factory, err := backendFactory(cfg)
	if err != nil {
		return err
	}

	registry := query.NewRegistry(manager, factory)
	redisClient := connectRedis(cfg.RedisURL, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	server := api.NewServer(api.Options{
		Registry:           registry,
		Keys:               keys,
		Redis:              redisClient,
		AdminKey:           cfg.AdminKey,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	log.Info("", "", "engine listening", map[string]interface{}{
		"addr":    cfg.ListenAddr,
		"backend": cfg.Backend,
	})
	return http.ListenAndServe(cfg.ListenAddr, server.Handler(cfg.CORSOrigins))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
