// Package viewport provides a goroutine-backed timeline viewport that serves
// as a scrollsync.Host.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/scrollsync/internal/logging"
	"github.com/tOgg1/scrollsync/internal/models"
)

// Viewport errors.
var (
	ErrClosed         = errors.New("viewport closed")
	ErrAlreadyRunning = errors.New("viewport already running")
)

// Config contains viewport settings.
type Config struct {
	// PageSize is how many bars each history load requests.
	// Default: 200
	PageSize int

	// VisibleBars is the width of the visible window.
	// Default: 100
	VisibleBars int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:    200,
		VisibleBars: 100,
	}
}

// State is a point-in-time view of a viewport.
type State struct {
	Key         models.ClassificationKey
	Leftmost    time.Time
	Rightmost   time.Time
	Earliest    time.Time
	Buffered    int
	Annotations map[string]string
}

// Viewport owns a buffer of bars and a visible window over it. All buffer
// and window state is confined to one goroutine; other goroutines reach it by
// posting tasks through RunOnOwnContext or Do.
type Viewport struct {
	key     models.ClassificationKey
	config  Config
	source  Source
	tracker *Tracker
	logger  zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	queue   []func()
	closed  bool
	running bool
	notify  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	handler func(time.Time)

	// Owned by the viewport goroutine.
	bars        []models.Bar
	first       int
	annotations map[string]string
}

// Option configures a Viewport.
type Option func(*Viewport)

// WithTracker counts the viewport's tasks in t.
func WithTracker(t *Tracker) Option {
	return func(v *Viewport) {
		v.tracker = t
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(v *Viewport) {
		v.logger = logger
	}
}

// New creates a viewport for key backed by source. It processes no tasks
// until Start.
func New(key models.ClassificationKey, source Source, config Config, opts ...Option) *Viewport {
	if config.PageSize <= 0 {
		config.PageSize = DefaultConfig().PageSize
	}
	if config.VisibleBars <= 0 {
		config.VisibleBars = DefaultConfig().VisibleBars
	}

	v := &Viewport{
		key:         key,
		config:      config,
		source:      source,
		logger:      logging.WithKey(logging.Component("viewport"), key.String()),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		ctx:         context.Background(),
		annotations: make(map[string]string),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Start launches the viewport goroutine. Cancelling ctx closes the viewport.
func (v *Viewport) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrClosed
	}
	if v.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	v.ctx = runCtx
	v.cancel = cancel
	v.running = true

	v.wg.Add(1)
	go v.run(runCtx)
	return nil
}

// Close stops the viewport and discards queued tasks. After Close the
// viewport reports itself dead and rejects new tasks. It must not be called
// from the viewport's own goroutine.
func (v *Viewport) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	dropped := len(v.queue)
	v.queue = nil
	close(v.done)
	cancel := v.cancel
	v.mu.Unlock()

	v.tracker.add(-dropped)
	if cancel != nil {
		cancel()
	}
	v.wg.Wait()

	v.logger.Debug().Int("dropped_tasks", dropped).Msg("viewport closed")
	return nil
}

// Key implements scrollsync.Host.
func (v *Viewport) Key() models.ClassificationKey { return v.key }

// Alive implements scrollsync.Host.
func (v *Viewport) Alive() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.closed
}

// RunOnOwnContext implements scrollsync.Host. fn runs later on the viewport
// goroutine, never inline.
func (v *Viewport) RunOnOwnContext(fn func()) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.queue = append(v.queue, fn)
	v.tracker.add(1)
	v.mu.Unlock()

	select {
	case v.notify <- struct{}{}:
	default:
	}
	return nil
}

// Do runs fn on the viewport goroutine and waits for it to finish. It must
// not be called from the viewport's own goroutine.
func (v *Viewport) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := v.RunOnOwnContext(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-v.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *Viewport) run(ctx context.Context) {
	defer v.wg.Done()

	for {
		select {
		case <-ctx.Done():
			go v.Close()
			return
		case <-v.done:
			return
		case <-v.notify:
		}

		for {
			v.mu.Lock()
			if v.closed || len(v.queue) == 0 {
				v.mu.Unlock()
				break
			}
			task := v.queue[0]
			v.queue[0] = nil
			v.queue = v.queue[1:]
			v.mu.Unlock()

			v.runTask(task)
		}
	}
}

func (v *Viewport) runTask(task func()) {
	defer v.tracker.add(-1)
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error().Interface("panic", r).Msg("viewport task panicked")
		}
	}()
	task()
}

// Load buffers the newest page of history. Call it on the viewport goroutine,
// typically through Do, before attaching a synchronizer.
func (v *Viewport) Load(ctx context.Context) (int, error) {
	bars, err := v.source.PageBefore(ctx, v.key.Series(), time.Time{}, v.config.PageSize)
	if err != nil {
		return 0, fmt.Errorf("load newest page: %w", err)
	}
	v.bars = bars
	v.first = max(0, len(bars)-v.config.VisibleBars)
	return len(bars), nil
}

// SetScrollHandler implements scrollsync.Host.
func (v *Viewport) SetScrollHandler(fn func(time.Time)) {
	v.mu.Lock()
	v.handler = fn
	v.mu.Unlock()
}

// ApplyScroll implements scrollsync.Host. The leftmost bar becomes the first
// buffered bar at or after t, clamped to the buffer. A move raises a scroll
// notification on the viewport goroutine.
func (v *Viewport) ApplyScroll(t time.Time) {
	if len(v.bars) == 0 {
		return
	}
	idx := sort.Search(len(v.bars), func(i int) bool { return !v.bars[i].OpenTime.Before(t) })
	v.moveTo(idx)
}

// ScrollTo simulates a user scroll to t.
func (v *Viewport) ScrollTo(t time.Time) error {
	return v.RunOnOwnContext(func() { v.ApplyScroll(t) })
}

// ScrollBy simulates a user pan by delta bars. Negative deltas go back in
// time, paging in older history as the pan passes the start of the buffer.
func (v *Viewport) ScrollBy(delta int) error {
	return v.RunOnOwnContext(func() {
		if len(v.bars) == 0 {
			return
		}
		target := v.first + delta
		for target < 0 {
			n, err := v.LoadOlderPage(v.Context())
			if err != nil {
				v.logger.Warn().Err(err).Msg("failed to page history during pan")
				break
			}
			if n == 0 {
				break
			}
			target += n
		}
		v.moveTo(target)
	})
}

func (v *Viewport) moveTo(idx int) {
	idx = min(max(idx, 0), len(v.bars)-1)
	if idx == v.first {
		return
	}
	v.first = idx
	at := v.bars[idx].OpenTime

	v.mu.Lock()
	handler := v.handler
	v.mu.Unlock()
	if handler == nil {
		return
	}
	if err := v.RunOnOwnContext(func() { handler(at) }); err != nil {
		v.logger.Debug().Err(err).Msg("scroll notification dropped")
	}
}

// FirstVisibleTime implements scrollsync.Host.
func (v *Viewport) FirstVisibleTime() (time.Time, bool) {
	if len(v.bars) == 0 {
		return time.Time{}, false
	}
	return v.bars[v.first].OpenTime, true
}

// EarliestBufferedTime implements scrollsync.Host.
func (v *Viewport) EarliestBufferedTime() (time.Time, bool) {
	if len(v.bars) == 0 {
		return time.Time{}, false
	}
	return v.bars[0].OpenTime, true
}

// LoadOlderPage implements scrollsync.Host. The visible window keeps its
// position while older bars are prepended.
func (v *Viewport) LoadOlderPage(ctx context.Context) (int, error) {
	if len(v.bars) == 0 {
		return v.Load(ctx)
	}

	page, err := v.source.PageBefore(ctx, v.key.Series(), v.bars[0].OpenTime, v.config.PageSize)
	if err != nil {
		return 0, err
	}
	if len(page) == 0 {
		return 0, nil
	}

	bars := make([]models.Bar, 0, len(page)+len(v.bars))
	bars = append(bars, page...)
	bars = append(bars, v.bars...)
	v.bars = bars
	v.first += len(page)

	v.logger.Debug().
		Int("loaded", len(page)).
		Int("buffered", len(v.bars)).
		Time("earliest", v.bars[0].OpenTime).
		Msg("loaded older page")
	return len(page), nil
}

// DrawPersistentError implements scrollsync.Host.
func (v *Viewport) DrawPersistentError(name, message string) {
	v.annotations[name] = message
}

// Annotation returns the named annotation. Call it on the viewport goroutine.
func (v *Viewport) Annotation(name string) (string, bool) {
	message, ok := v.annotations[name]
	return message, ok
}

// Snapshot captures the viewport state from any goroutine.
func (v *Viewport) Snapshot(ctx context.Context) (State, error) {
	var state State
	err := v.Do(ctx, func() {
		state = State{
			Key:         v.key,
			Buffered:    len(v.bars),
			Annotations: make(map[string]string, len(v.annotations)),
		}
		for name, message := range v.annotations {
			state.Annotations[name] = message
		}
		if len(v.bars) == 0 {
			return
		}
		state.Earliest = v.bars[0].OpenTime
		state.Leftmost = v.bars[v.first].OpenTime
		state.Rightmost = v.bars[min(v.first+v.config.VisibleBars, len(v.bars))-1].OpenTime
	})
	return state, err
}

// Context returns the viewport's run context. It is done once the viewport
// stops.
func (v *Viewport) Context() context.Context {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ctx
}
