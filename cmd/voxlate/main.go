package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/voxlate/voxlate/internal/admission"
	"github.com/voxlate/voxlate/internal/broadcast"
	"github.com/voxlate/voxlate/internal/config"
	"github.com/voxlate/voxlate/internal/httpapi"
	"github.com/voxlate/voxlate/internal/jobs"
	"github.com/voxlate/voxlate/internal/observability"
	"github.com/voxlate/voxlate/internal/realtime"
	"github.com/voxlate/voxlate/internal/session"
	"github.com/voxlate/voxlate/internal/speech"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := session.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("session store init failed: %v", err)
	}
	defer store.Close()
	registry := session.NewRegistry(store)

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		log.Printf("redis: job progress and connection counts at %s", opts.Addr)
	}

	limiter, err := admission.NewLimiter(cfg.RedisURL, cfg.MaxConnectionsPerIP, cfg.ConnectionCountTTL)
	if err != nil {
		log.Fatalf("admission limiter init failed: %v", err)
	}

	provider, providerMode, err := speech.SelectProvider(cfg.SpeechProvider, speech.HTTPConfig{
		TranscriberURL: cfg.TranscriberURL,
		TranslatorURL:  cfg.TranslatorURL,
		SynthesizerURL: cfg.SynthesizerURL,
		APIKey:         cfg.SpeechAPIKey,
	})
	if err != nil {
		log.Fatalf("speech provider init failed: %v", err)
	}
	log.Printf("speech provider: %s", providerMode)

	pipeline := speech.NewPipeline(provider, speech.PipelineOptions{
		RetryMax:  cfg.JobRetryMax,
		RetryBase: cfg.JobRetryBase,
		Metrics:   metrics,
	})

	realtimeOpts := realtime.TranslateOptions{
		SampleRate:        cfg.SampleRate,
		MaxBufferDuration: cfg.MaxBufferDuration,
		VADAggressiveness: cfg.VADAggressiveness,
		SilenceFrames:     cfg.VADSilenceFrames,
	}
	hub := broadcast.NewHub()
	translator := realtime.NewTranslator(pipeline, realtimeOpts)
	rooms := realtime.NewRooms(registry, hub, pipeline, realtimeOpts)

	jobService := jobs.NewService(provider, jobs.Options{
		Workers:           cfg.JobWorkers,
		QueueSize:         cfg.JobQueueSize,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		MaxUploadDuration: cfg.MaxUploadDuration,
		RetryMax:          cfg.JobRetryMax,
		RetryBase:         cfg.JobRetryBase,
		Metrics:           metrics,
		Redis:             redisClient,
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	jobService.Start(runCtx)

	api := httpapi.New(cfg, registry, translator, rooms, jobService, limiter, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	runCancel()
	jobService.Wait()
	log.Printf("shutdown complete")
}
