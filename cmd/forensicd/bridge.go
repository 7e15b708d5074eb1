package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/sightline/forensic/engine"
	redisstore "github.com/sightline/forensic/store/redis"
	"github.com/sightline/forensic/stream"
)

func bridgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "bridge",
		Usage: "Run the WebSocket result bridge",
		Description: `Serves live job result streams to dashboard clients. A client
connects to /jobs/{job_id}/results (with ?replay=true for stored
history first) and receives metadata text frames interleaved with
binary frame payloads.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "HTTP listen address (overrides the config file)",
			},
		},
		Action: runBridge,
	}
}

func runBridge(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if addr := c.String("listen"); addr != "" {
		cfg.Listen = addr
	}
	logger := cfg.newLogger()

	client := cfg.newRedisClient()
	defer client.Close()

	store := redisstore.New(client,
		redisstore.WithLogger(logger),
		redisstore.WithResultHistory(cfg.coreConfig().ResultHistory),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}

	// The bridge only reads: the engine is used for its subscription
	// logic and is never started.
	eng, err := engine.New(store, cfg.coreConfig(), logger)
	if err != nil {
		return err
	}

	bridge := stream.NewBridge(eng.Subscribe, logger)
	mux := http.NewServeMux()
	mux.Handle("/jobs/", bridge)

	srv := &http.Server{Addr: cfg.Listen, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("bridge listening", "addr", cfg.Listen)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
