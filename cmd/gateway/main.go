// Package main is the entry point for the llmrouter gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tzrouter/gateway/internal/config"
	"github.com/tzrouter/gateway/internal/metrics"
	"github.com/tzrouter/gateway/internal/server"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	ctx := context.Background()
	rt, err := config.Build(ctx, cfg, metrics.NewObserver(m))
	if err != nil {
		log.Fatalf("failed to build runtime: %v", err)
	}
	defer rt.Close()
	m.SetCache(rt.Cache)

	mux := http.NewServeMux()
	mux.Handle("/", server.New(rt.Coordinator))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("llmrouter gateway listening on :%d", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
