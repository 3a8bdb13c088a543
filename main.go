package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"videoflow/api"
	"videoflow/artifact"
	"videoflow/broker"
	"videoflow/config"
	"videoflow/dispatch"
	"videoflow/media"
	"videoflow/pipeline"
	"videoflow/schedule"
	"videoflow/titles"
	"videoflow/transcribe"
	"videoflow/upload"
	"videoflow/worker"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env for local development; production uses real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	artifacts, err := artifact.NewStore(cfg.WorkDir)
	if err != nil {
		log.Fatalf("Failed to initialize artifact store: %v", err)
	}
	log.Printf("Using work directory: %s", artifacts.Root())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var bk broker.Broker
	if cfg.RedisURL != "" {
		bk, err = broker.NewRedis(cfg.RedisURL, cfg.QueueName, cfg.ResultTTL)
		if err != nil {
			log.Fatalf("Failed to connect broker: %v", err)
		}
		log.Println("Using redis broker:", cfg.RedisURL)
	} else {
		mem := broker.NewMemory(cfg.ResultTTL)
		mem.Start(ctx)
		bk = mem
		log.Println("Using in-process broker")
	}
	defer bk.Close()

	var runner *media.Runner
	if cfg.RunWorker {
		runner, err = media.NewRunner(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize media runner: %v", err)
		}

		plan, err := schedule.Load(cfg.ScheduleFile)
		if err != nil {
			log.Fatalf("Failed to load publish schedule: %v", err)
		}

		var uploader upload.Uploader
		yt, err := upload.NewYouTubeUploader()
		if err != nil {
			log.Printf("Upload disabled, tasks enabling upload_shorts will fail: %v", err)
		} else {
			uploader = yt
		}

		deps := pipeline.Deps{
			Media:       runner,
			Transcriber: transcribe.NewClient(cfg.TranscribeURL, cfg.TranscribeKey),
			Titles:      titles.NewClient(cfg.TitlesURL, cfg.TitlesKey, cfg.TitlesModel),
			Uploader:    uploader,
			Plan:        plan,
			Cfg:         cfg,
		}

		exec := worker.NewExecutor(cfg, bk, artifacts, deps)
		worker.NewWorker(bk, exec, runner, cfg.MaxConcurrency).Start(ctx)
	}

	if cfg.RunServer {
		dispatcher := dispatch.New(bk, bk, artifacts)
		router := api.SetupRouter(dispatcher, artifacts, cfg)
		srv := &http.Server{
			Addr:    ":" + cfg.Port,
			Handler: router,
		}

		go func() {
			log.Printf("Server starting on port %s", cfg.Port)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("listen: %s\n", err)
			}
		}()

		<-ctx.Done()
		stop()
		log.Println("Shutting down gracefully, press Ctrl+C again to force")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Fatal("Server forced to shutdown: ", err)
		}
		log.Println("Server exiting")
		return
	}

	<-ctx.Done()
	log.Println("Worker exiting")
}
