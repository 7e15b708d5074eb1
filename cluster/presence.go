package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sightline/forensic/id"
)

// DefaultHeartbeatInterval is how often a presence refreshes its
// registration. The registration TTL is three intervals, so two missed
// heartbeats still keep the worker visible.
const DefaultHeartbeatInterval = 10 * time.Second

// Presence keeps one worker's registration alive for the lifetime of
// the process.
type Presence struct {
	store    Store
	worker   Worker
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	state WorkerState

	stopCh chan struct{}
	done   chan struct{}
}

// PresenceOption configures a Presence.
type PresenceOption func(*Presence)

// WithHeartbeatInterval sets the refresh interval.
func WithHeartbeatInterval(d time.Duration) PresenceOption {
	return func(p *Presence) { p.interval = d }
}

// NewPresence creates a presence for a worker identified by workerID
// polling the named queue.
func NewPresence(store Store, workerID id.WorkerID, queue string, logger *slog.Logger, opts ...PresenceOption) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	hostname, _ := os.Hostname()

	p := &Presence{
		store: store,
		worker: Worker{
			ID:       workerID,
			Hostname: hostname,
			Queue:    queue,
			State:    WorkerActive,
		},
		interval: DefaultHeartbeatInterval,
		logger:   logger,
		state:    WorkerActive,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ttl is the registration expiry derived from the heartbeat interval.
func (p *Presence) ttl() time.Duration { return 3 * p.interval }

// Start registers the worker and launches the heartbeat loop.
func (p *Presence) Start(ctx context.Context) error {
	now := time.Now().UTC()
	p.worker.StartedAt = now
	p.worker.LastSeen = now

	if err := p.store.RegisterWorker(ctx, &p.worker, p.ttl()); err != nil {
		return fmt.Errorf("cluster: register worker: %w", err)
	}
	p.logger.Info("worker registered",
		slog.String("worker_id", p.worker.ID.String()),
		slog.String("hostname", p.worker.Hostname),
	)

	go p.heartbeatLoop()
	return nil
}

// Drain marks the worker as draining so operators can tell a shutting
// down worker from a crashed one while it finishes its in-flight job.
func (p *Presence) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.state = WorkerDraining
	p.mu.Unlock()
	if err := p.store.HeartbeatWorker(ctx, p.worker.ID, WorkerDraining, p.ttl()); err != nil {
		return fmt.Errorf("cluster: drain worker: %w", err)
	}
	return nil
}

func (p *Presence) currentState() WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stop halts the heartbeat loop and removes the registration.
func (p *Presence) Stop(ctx context.Context) error {
	close(p.stopCh)
	<-p.done

	if err := p.store.DeregisterWorker(ctx, p.worker.ID); err != nil {
		return fmt.Errorf("cluster: deregister worker: %w", err)
	}
	p.logger.Info("worker deregistered", slog.String("worker_id", p.worker.ID.String()))
	return nil
}

func (p *Presence) heartbeatLoop() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.interval)
			err := p.store.HeartbeatWorker(ctx, p.worker.ID, p.currentState(), p.ttl())
			cancel()
			if err != nil {
				p.logger.Warn("worker heartbeat failed",
					slog.String("worker_id", p.worker.ID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
