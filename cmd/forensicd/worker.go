package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/sightline/forensic/camera"
	"github.com/sightline/forensic/cluster"
	"github.com/sightline/forensic/engine"
	"github.com/sightline/forensic/infer"
	"github.com/sightline/forensic/pipeline"
	redisstore "github.com/sightline/forensic/store/redis"
)

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run a search worker process",
		Description: `Polls the job queue and executes forensic search jobs: replay
camera footage, run frames through inference, and publish filtered
detections to the result store.`,
		Action: runWorker,
	}
}

func runWorker(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	core := cfg.coreConfig()
	if err := core.Validate(); err != nil {
		return err
	}
	logger := cfg.newLogger()

	client := cfg.newRedisClient()
	defer client.Close()

	store := redisstore.New(client,
		redisstore.WithLogger(logger),
		redisstore.WithResultHistory(core.ResultHistory),
		redisstore.WithFrameTTL(core.FrameTTL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}

	eng, err := engine.New(store, core, logger)
	if err != nil {
		return err
	}

	cameras := camera.NewClient(core.CameraHost, core.CameraPort, logger)
	ai := infer.NewClient(core.InferenceAddr, logger)
	defer ai.Close()

	search := pipeline.NewSearch(cameras, ai, logger)
	search.Register(eng.Registry())

	if err := eng.Start(ctx); err != nil {
		return err
	}
	presence := cluster.NewPresence(store, eng.WorkerID(), core.Queue, logger)
	if err := presence.Start(ctx); err != nil {
		return err
	}
	logger.Info("worker started",
		"worker_id", eng.WorkerID().String(),
		"queue", core.Queue,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), core.ShutdownTimeout)
	defer cancel()

	if err := presence.Drain(shutdownCtx); err != nil {
		logger.Warn("drain failed", "error", err)
	}
	stopErr := eng.Stop(shutdownCtx)
	if err := presence.Stop(shutdownCtx); err != nil {
		logger.Warn("presence stop failed", "error", err)
	}
	return stopErr
}
