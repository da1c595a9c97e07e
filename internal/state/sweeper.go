// Package state keeps the sync registry free of handles whose viewports are
// gone.
package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tOgg1/scrollsync/internal/logging"
	"github.com/tOgg1/scrollsync/internal/metrics"
	"github.com/tOgg1/scrollsync/internal/models"
	"github.com/tOgg1/scrollsync/internal/scrollsync"
)

// Sweeper errors.
var (
	ErrSweeperAlreadyRunning = errors.New("sweeper already running")
	ErrSweeperNotRunning     = errors.New("sweeper not running")
)

// DefaultInterval is the sweep period used when none is configured.
const DefaultInterval = 5 * time.Second

// Sweeper periodically prunes dead handles from a registry. Broadcasts drop
// dead followers on their own; the sweep covers viewports that close while
// nobody scrolls, so the registry and the instances gauge stay accurate.
type Sweeper struct {
	registry *scrollsync.Registry
	interval time.Duration
	sink     scrollsync.EventSink
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pruned  int
}

// NewSweeper creates a Sweeper. sink and m may be nil.
func NewSweeper(registry *scrollsync.Registry, interval time.Duration, sink scrollsync.EventSink, m *metrics.Metrics) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		sink:     sink,
		metrics:  m,
		logger:   logging.Component("registry-sweeper"),
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSweeperAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.logger.Debug().Dur("interval", s.interval).Msg("registry sweeper starting")

	s.wg.Add(1)
	go s.runLoop()
	return nil
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSweeperNotRunning
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Debug().Int("pruned", s.Pruned()).Msg("registry sweeper stopped")
	return nil
}

// IsRunning returns true if the sweeper is running.
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Pruned returns how many handles the sweeper has removed so far.
func (s *Sweeper) Pruned() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pruned
}

func (s *Sweeper) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.SweepNow(s.ctx)
		}
	}
}

// SweepNow prunes dead handles immediately and returns how many were removed.
func (s *Sweeper) SweepNow(ctx context.Context) int {
	removed := s.registry.Prune()
	if len(removed) == 0 {
		return 0
	}

	s.mu.Lock()
	s.pruned += len(removed)
	s.mu.Unlock()

	s.metrics.SetInstances(s.registry.Len())
	for _, entry := range removed {
		s.metrics.ObserveStale()
		s.logger.Debug().
			Str("instance_id", entry.Handle.ID()).
			Str("key", entry.Key.String()).
			Msg("pruned dead handle")
		if s.sink != nil {
			s.sink.Publish(ctx, &models.SyncEvent{
				ID:         uuid.NewString(),
				Timestamp:  time.Now().UTC(),
				Type:       models.SyncEventStaleHandle,
				InstanceID: entry.Handle.ID(),
				Key:        entry.Key,
				Metadata:   map[string]string{"source": "sweep"},
			})
		}
	}
	return len(removed)
}
