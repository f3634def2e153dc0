// Package main is the entry point for the brokerage conversation API server.
//
// Startup order: environment, config, logging, tracing, storage, the LLM and
// vector collaborators, then the HTTP server. Shutdown unwinds the same way
// on SIGINT/SIGTERM, draining in-flight requests first.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nileproptech/go-brokerage-backend/internal/agents"
	"github.com/nileproptech/go-brokerage-backend/internal/config"
	httpapi "github.com/nileproptech/go-brokerage-backend/internal/http"
	"github.com/nileproptech/go-brokerage-backend/internal/llm"
	"github.com/nileproptech/go-brokerage-backend/internal/observability"
	"github.com/nileproptech/go-brokerage-backend/internal/repo"
	"github.com/nileproptech/go-brokerage-backend/internal/sysutil"
	"github.com/nileproptech/go-brokerage-backend/internal/vector"
)

// serviceVersion tags traces and spans; bump on release.
const serviceVersion = "1.0.0"

func main() {
	// Load .env if present (development convenience; real env wins).
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", serviceVersion).Msg("starting server")

	// Tracing
	ctx := context.Background()
	shutdownTracing, err := observability.SetupOTel(ctx, cfg.OTEL, serviceVersion)
	if err != nil {
		log.Fatal().Err(err).Msg("opentelemetry setup failed")
	}

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.EnableTracing(db); err != nil {
		log.Warn().Err(err).Msg("database tracing not enabled")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// LLM collaborator (relevance gate, extraction, recommendation, embeddings)
	client, err := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	if err != nil {
		log.Fatal().Err(err).Msg("openai client init failed")
	}

	// Vector store collaborator (entity resolution)
	searcher, err := vector.NewQdrantSearcher(vector.QdrantConfig{
		URL:    cfg.Qdrant.URL,
		APIKey: cfg.Qdrant.APIKey,
	})
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.Qdrant.URL).Msg("qdrant client init failed")
	}
	defer func() {
		if err := searcher.Close(); err != nil {
			log.Warn().Err(err).Msg("qdrant close failed")
		}
	}()

	pipeline := httpapi.PipelineAgents{
		Gate:        agents.NewRelevanceGate(client, cfg.OpenAI.Model, cfg.OpenAI.Timeout),
		Extractor:   agents.NewExtractor(client, cfg.OpenAI.Model, cfg.Pipeline.DefaultCurrency, cfg.OpenAI.Timeout),
		Resolver:    vector.NewResolver(searcher, client, float32(cfg.Pipeline.ResolveCertainty), cfg.OpenAI.Timeout),
		Recommender: agents.NewRecommender(client, cfg.OpenAI.Model, cfg.OpenAI.Timeout),
	}

	// HTTP
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, pipeline, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown failed")
	}

	log.Info().Msg("server stopped")
}
