package scrollsync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tOgg1/scrollsync/internal/logging"
	"github.com/tOgg1/scrollsync/internal/metrics"
	"github.com/tOgg1/scrollsync/internal/models"
)

// ErrorAnnotation is the name of the annotation drawn when history runs out.
const ErrorAnnotation = "ScrollError"

// DefaultErrorMessage is shown on a viewport that cannot page back far enough.
const DefaultErrorMessage = "Cannot load more history to stay in sync with other viewports: no older data is available for this one"

// Synchronizer is one viewport's member of the synchronization group.
type Synchronizer struct {
	registry     *Registry
	host         Host
	mode         models.SyncMode
	logger       zerolog.Logger
	sink         EventSink
	metrics      *metrics.Metrics
	errorMessage string
	loader       *HistoryLoader

	ctx    context.Context
	handle *Handle

	// budget is the only field touched from other instances' contexts.
	budget suppressBudget

	// Owned by the host context.
	last     time.Time
	hasLast  bool
	echoes   []expectedEcho
	applying *inlineApply
}

// inlineApply is set while this instance is inside Host.ApplyScroll.
type inlineApply struct {
	token    echoToken
	consumed bool
}

// expectedEcho is a scroll notification this instance will raise because it
// applied a follower scroll.
type expectedEcho struct {
	at    time.Time
	token echoToken
}

// scrollRequest asks a follower to scroll to at.
type scrollRequest struct {
	at       time.Time
	leaderID string
	token    echoToken
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithMode sets the follower filter. Defaults to models.SyncModeAll.
func WithMode(mode models.SyncMode) Option {
	return func(s *Synchronizer) {
		s.mode = mode
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithEventSink publishes diagnostics to sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Synchronizer) {
		s.sink = sink
	}
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// WithErrorMessage overrides the exhausted-history annotation text.
func WithErrorMessage(message string) Option {
	return func(s *Synchronizer) {
		if message != "" {
			s.errorMessage = message
		}
	}
}

// New creates a Synchronizer for host. It does nothing until Attach.
func New(registry *Registry, host Host, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		registry:     registry,
		host:         host,
		mode:         models.SyncModeAll,
		logger:       logging.Component("scrollsync"),
		errorMessage: DefaultErrorMessage,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loader = NewHistoryLoader(host, s.metrics, s.logger)
	return s
}

// Attach registers the instance and installs its scroll handler. It is the
// host's single lifecycle entry point, called once per viewport creation.
// If the key's previous handle left a pending scroll target, Attach
// inherits it and schedules a resume on the viewport's own context.
func (s *Synchronizer) Attach(ctx context.Context) error {
	if s.handle != nil {
		return ErrAlreadyAttached
	}
	if s.registry == nil || s.host == nil {
		return fmt.Errorf("synchronizer requires a registry and a host")
	}

	key := s.host.Key()
	if err := key.Validate(); err != nil {
		return fmt.Errorf("invalid classification key: %w", err)
	}
	if !s.mode.Valid() {
		return fmt.Errorf("%w: %q", models.ErrUnknownSyncMode, s.mode)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx
	s.handle = newHandle(key, s)
	s.logger = logging.WithInstance(s.logger, s.handle.id, key.String())
	s.loader.logger = s.logger

	s.host.SetScrollHandler(s.OnScrollChanged)

	prior := s.registry.Register(s.handle)
	s.metrics.SetInstances(s.registry.Len())

	if prior == nil {
		s.logger.Debug().Str("mode", string(s.mode)).Msg("instance registered")
		s.emit(models.SyncEventInstanceRegistered, nil, map[string]string{"mode": string(s.mode)})
		return nil
	}

	s.logger.Info().
		Str("prior_id", prior.id).
		Bool("prior_alive", prior.Alive()).
		Msg("instance replaced previous handle")
	s.emit(models.SyncEventInstanceReplaced, nil, map[string]string{
		"prior_id":    prior.id,
		"prior_alive": strconv.FormatBool(prior.Alive()),
	})

	at, ok := prior.pending.Take()
	if !ok {
		return nil
	}
	s.handle.pending.Store(at)
	if err := s.host.RunOnOwnContext(func() { s.resume(at) }); err != nil {
		return fmt.Errorf("schedule pending resume: %w", err)
	}
	return nil
}

// Detach removes the instance from the registry if it is still the current
// entry for its key. Hosts that never announce teardown can skip it: a dead
// handle is dropped the first time a broadcast fails to reach it.
func (s *Synchronizer) Detach() error {
	if s.handle == nil {
		return ErrNotAttached
	}
	removed := s.registry.Remove(s.handle.key, s.handle)
	s.metrics.SetInstances(s.registry.Len())
	s.logger.Debug().Bool("removed", removed).Msg("instance detached")
	s.emit(models.SyncEventInstanceDetached, nil, map[string]string{"removed": strconv.FormatBool(removed)})
	return nil
}

// Handle returns the registry handle, or nil before Attach.
func (s *Synchronizer) Handle() *Handle { return s.handle }

// Mode returns the follower filter.
func (s *Synchronizer) Mode() models.SyncMode { return s.mode }

// PendingSuppress returns how many echoes of the latest broadcast are still
// outstanding.
func (s *Synchronizer) PendingSuppress() int { return s.budget.pending() }

// LastBroadcast returns the last position this instance broadcast or
// absorbed. Call it on the host context.
func (s *Synchronizer) LastBroadcast() (time.Time, bool) { return s.last, s.hasLast }

func (s *Synchronizer) emit(eventType models.SyncEventType, at *time.Time, metadata map[string]string) {
	if s.sink == nil || s.handle == nil {
		return
	}

	var target *time.Time
	if at != nil {
		t := *at
		target = &t
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.sink.Publish(ctx, &models.SyncEvent{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Type:       eventType,
		InstanceID: s.handle.id,
		Key:        s.handle.key,
		Target:     target,
		Metadata:   metadata,
	})
}
