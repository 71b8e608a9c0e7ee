package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/player-leaderboard/internal/config"
)

// Rebuilder reconstructs the rank index from the durable store
type Rebuilder interface {
	RebuildRankIndex(ctx context.Context) (int, error)
}

// RebuildWorker periodically rebuilds the rank index so drift left by failed
// write-throughs does not outlive one interval
type RebuildWorker struct {
	rebuilder Rebuilder
	config    *config.RebuildConfig
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewRebuildWorker creates a new rebuild worker
func NewRebuildWorker(rebuilder Rebuilder, cfg *config.RebuildConfig, logger *slog.Logger) *RebuildWorker {
	return &RebuildWorker{
		rebuilder: rebuilder,
		config:    cfg,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background rebuild loop. With OnStartup set, a first
// rebuild runs before the first tick.
func (w *RebuildWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("rebuild worker started", "interval", w.config.Interval, "on_startup", w.config.OnStartup)

	go w.run(ctx)
	return nil
}

// Stop stops the background loop and waits for an in-progress rebuild
func (w *RebuildWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("rebuild worker stopped")
	return nil
}

func (w *RebuildWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	if w.config.OnStartup {
		w.RunOnce(ctx)
	}

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single rebuild. Failures are logged; the next tick
// retries.
func (w *RebuildWorker) RunOnce(ctx context.Context) {
	startTime := time.Now()

	count, err := w.rebuilder.RebuildRankIndex(ctx)
	if err != nil {
		w.logger.Warn("rank index rebuild failed", "error", err, "duration", time.Since(startTime))
		return
	}

	w.logger.Debug("rank index rebuild cycle completed", "player_count", count, "duration", time.Since(startTime))
}

// IsRunning returns whether the worker is currently running
func (w *RebuildWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
