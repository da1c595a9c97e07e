package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/tOgg1/scrollsync/internal/config"
	"github.com/tOgg1/scrollsync/internal/db"
	"github.com/tOgg1/scrollsync/internal/events"
	"github.com/tOgg1/scrollsync/internal/logging"
	"github.com/tOgg1/scrollsync/internal/metrics"
	"github.com/tOgg1/scrollsync/internal/models"
	"github.com/tOgg1/scrollsync/internal/scrollsync"
	"github.com/tOgg1/scrollsync/internal/state"
	"github.com/tOgg1/scrollsync/internal/viewport"
	"golang.org/x/sync/errgroup"
)

type simulateOptions struct {
	leader      int
	back        int
	to          string
	mode        string
	viewports   string
	metricsAddr string
	hold        time.Duration
	timeout     time.Duration
	jsonOut     bool
	saveLayout  bool
	restore     bool
}

// member is one simulated viewport and its synchronizer.
type member struct {
	config config.ViewportConfig
	view   *viewport.Viewport
	sync   *scrollsync.Synchronizer
}

type simulateViewport struct {
	Key        string    `json:"key"`
	Leader     bool      `json:"leader,omitempty"`
	Leftmost   time.Time `json:"leftmost"`
	Rightmost  time.Time `json:"rightmost"`
	Earliest   time.Time `json:"earliest"`
	Buffered   int       `json:"buffered"`
	Annotation string    `json:"annotation,omitempty"`
}

type simulateResult struct {
	Mode      models.SyncMode                `json:"mode"`
	Viewports []simulateViewport             `json:"viewports"`
	Events    map[models.SyncEventType]int64 `json:"events"`
	Recent    []*models.SyncEvent            `json:"recent,omitempty"`
}

func newSimulateCmd(a *app) *cobra.Command {
	opts := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Open synchronized viewports and scroll one of them",
		Long: "Open one viewport per configured series, link them with a synchronizer,\n" +
			"then scroll the leader and report where every viewport ended up.",
		Example: `  scrollsync simulate --back 450
  scrollsync simulate --leader 1 --to 2024-05-01T00:00:00Z --mode same_instrument
  scrollsync simulate --viewports EURUSD/h1,GBPUSD/h1/line --back 300 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSimulate(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.leader, "leader", 0, "index of the viewport the user scrolls")
	flags.IntVar(&opts.back, "back", 0, "pan the leader this many bars back in time")
	flags.StringVar(&opts.to, "to", "", "scroll the leader to this RFC3339 time")
	flags.StringVar(&opts.mode, "mode", "", "sync mode (all, same_granularity, same_instrument)")
	flags.StringVar(&opts.viewports, "viewports", "", "comma-separated instrument/granularity[/view] list overriding the config")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.DurationVar(&opts.hold, "hold", 0, "keep viewports open this long after the scroll settles")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall time limit")
	flags.BoolVar(&opts.jsonOut, "json", false, "output as JSON")
	flags.BoolVar(&opts.saveLayout, "save-layout", false, "save final positions to the layout file")
	flags.BoolVar(&opts.restore, "restore", false, "start from the positions in the layout file")
	return cmd
}

func (a *app) runSimulate(cmd *cobra.Command, opts *simulateOptions) error {
	logger := logging.Component("simulate")

	var layout *config.Layout
	layoutStore := config.NewLayoutStore(a.cfg.LayoutPath())
	if opts.restore {
		loaded, err := layoutStore.Load()
		if err != nil {
			return err
		}
		layout = loaded
	}

	viewportConfigs, err := a.simulateViewports(opts, layout)
	if err != nil {
		return err
	}
	if opts.leader < 0 || opts.leader >= len(viewportConfigs) {
		return fmt.Errorf("--leader %d out of range (have %d viewports)", opts.leader, len(viewportConfigs))
	}

	modeName := opts.mode
	if modeName == "" && layout != nil && layout.Mode != "" {
		modeName = layout.Mode
	}
	if modeName == "" {
		modeName = a.cfg.Sync.Mode
	}
	mode, err := models.ParseSyncMode(modeName)
	if err != nil {
		return err
	}

	var scrollTo time.Time
	if opts.to != "" {
		scrollTo, err = time.Parse(time.RFC3339, opts.to)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	database, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	eventRepo := db.NewEventRepository(database)
	if a.cfg.Events.MaxAge > 0 {
		deleted, err := pruneEvents(ctx, eventRepo, time.Now().Add(-a.cfg.Events.MaxAge))
		if err != nil {
			return err
		}
		if deleted > 0 {
			logger.Info().Int64("deleted", deleted).Msg("pruned old sync events")
		}
	}

	publisherOpts := []events.PublisherOption{events.WithHistory(a.cfg.Events.History)}
	if a.cfg.Events.Persist {
		publisherOpts = append(publisherOpts, events.WithRepository(eventRepo))
	}
	publisher := events.NewInMemoryPublisher(publisherOpts...)
	defer publisher.Close()

	counts := newEventCounter()
	if err := publisher.Subscribe("simulate", events.Filter{}, counts.observe); err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	metricsAddr := opts.metricsAddr
	if metricsAddr == "" && a.cfg.Metrics.Enabled {
		metricsAddr = a.cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		_, stop, err := serveMetrics(metricsAddr, promRegistry, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	registry := scrollsync.NewRegistry()
	tracker := viewport.NewTracker()

	if a.cfg.Sync.SweepInterval > 0 {
		sweeper := state.NewSweeper(registry, a.cfg.Sync.SweepInterval, publisher, m)
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sweeper.Stop() }()
	}

	bars := db.NewBarRepository(database)
	viewportCfg := viewport.Config{
		PageSize:    a.cfg.Sync.PageSize,
		VisibleBars: a.cfg.Sync.VisibleBars,
	}

	members := make([]*member, 0, len(viewportConfigs))
	defer func() {
		for _, mb := range members {
			if mb.sync.Handle() != nil {
				_ = mb.sync.Detach()
			}
			_ = mb.view.Close()
		}
	}()

	for _, vc := range viewportConfigs {
		key, err := vc.Key()
		if err != nil {
			return err
		}
		view := viewport.New(key, bars, viewportCfg, viewport.WithTracker(tracker))
		if err := view.Start(ctx); err != nil {
			return err
		}
		synchronizer := scrollsync.New(registry, view,
			scrollsync.WithMode(mode),
			scrollsync.WithEventSink(publisher),
			scrollsync.WithMetrics(m),
			scrollsync.WithErrorMessage(a.cfg.Sync.ErrorMessage),
		)
		members = append(members, &member{config: vc, view: view, sync: synchronizer})
	}

	if err := openMembers(ctx, members, layout); err != nil {
		return err
	}
	logger.Info().
		Int("viewports", len(members)).
		Str("mode", string(mode)).
		Msg("viewports attached")

	leader := members[opts.leader]
	switch {
	case !scrollTo.IsZero():
		err = leader.view.ScrollTo(scrollTo)
	case opts.back != 0:
		err = leader.view.ScrollBy(-opts.back)
	}
	if err != nil {
		return fmt.Errorf("scroll leader: %w", err)
	}

	if err := tracker.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for viewports to settle: %w", err)
	}

	if opts.hold > 0 {
		logger.Info().Dur("hold", opts.hold).Msg("holding viewports open")
		select {
		case <-time.After(opts.hold):
		case <-ctx.Done():
		}
	}

	// The counts cover the scroll episode only, not the teardown below.
	if err := publisher.Unsubscribe("simulate"); err != nil {
		return err
	}
	result := simulateResult{Mode: mode, Events: counts.snapshot(), Recent: publisher.Recent()}
	for i, mb := range members {
		snap, err := mb.view.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", mb.view.Key(), err)
		}
		result.Viewports = append(result.Viewports, simulateViewport{
			Key:        snap.Key.String(),
			Leader:     i == opts.leader,
			Leftmost:   snap.Leftmost,
			Rightmost:  snap.Rightmost,
			Earliest:   snap.Earliest,
			Buffered:   snap.Buffered,
			Annotation: snap.Annotations[scrollsync.ErrorAnnotation],
		})
	}

	if opts.saveLayout {
		if err := saveLayout(layoutStore, mode, members, result.Viewports); err != nil {
			return err
		}
		logger.Info().Str("path", layoutStore.Path()).Msg("layout saved")
	}

	return writeSimulateResult(cmd, result, opts.jsonOut)
}

// simulateViewports picks the viewport list: --viewports first, then a
// restored layout, then the config.
func (a *app) simulateViewports(opts *simulateOptions, layout *config.Layout) ([]config.ViewportConfig, error) {
	if opts.viewports != "" {
		return config.ParseViewports(opts.viewports)
	}
	if layout != nil && !layout.IsEmpty() {
		out := make([]config.ViewportConfig, 0, len(layout.Viewports))
		for _, saved := range layout.Viewports {
			out = append(out, saved.ViewportConfig)
		}
		return out, nil
	}
	if len(a.cfg.Viewports) == 0 {
		return nil, fmt.Errorf("no viewports configured")
	}
	return a.cfg.Viewports, nil
}

// openMembers loads and attaches every member in parallel. A restored
// position is applied before Attach so that it is not broadcast.
func openMembers(ctx context.Context, members []*member, layout *config.Layout) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, mb := range members {
		g.Go(func() error {
			var loadErr, attachErr error
			err := mb.view.Do(gctx, func() {
				if _, loadErr = mb.view.Load(gctx); loadErr != nil {
					return
				}
				if layout != nil {
					if at, ok := layout.Position(mb.config); ok {
						restorePosition(gctx, mb.view, at)
					}
				}
				attachErr = mb.sync.Attach(mb.view.Context())
			})
			if err = errors.Join(err, loadErr, attachErr); err != nil {
				return fmt.Errorf("open %s: %w", mb.view.Key(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// restorePosition pages in history until at is buffered and scrolls there.
// Call it on the viewport goroutine before a scroll handler is installed.
func restorePosition(ctx context.Context, view *viewport.Viewport, at time.Time) {
	for {
		earliest, ok := view.EarliestBufferedTime()
		if !ok || !earliest.After(at) {
			break
		}
		n, err := view.LoadOlderPage(ctx)
		if err != nil || n == 0 {
			break
		}
	}
	view.ApplyScroll(at)
}

func saveLayout(store *config.LayoutStore, mode models.SyncMode, members []*member, states []simulateViewport) error {
	layout := &config.Layout{
		Mode:      string(mode),
		UpdatedAt: time.Now().UTC(),
	}
	for i, mb := range members {
		layout.Viewports = append(layout.Viewports, config.LayoutViewport{
			ViewportConfig: mb.config,
			Leftmost:       states[i].Leftmost,
		})
	}
	return store.Save(layout)
}

func writeSimulateResult(cmd *cobra.Command, result simulateResult, jsonOut bool) error {
	out := cmd.OutOrStdout()
	if jsonOut {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	rows := make([][]string, 0, len(result.Viewports))
	for _, vp := range result.Viewports {
		status := colorize(out, okStyle, "ok")
		if vp.Annotation != "" {
			status = colorize(out, exhaustedStyle, "exhausted")
		}
		if vp.Leader {
			status = colorize(out, leaderStyle, "leader")
		}
		rows = append(rows, []string{
			vp.Key,
			formatTime(vp.Leftmost),
			formatTime(vp.Rightmost),
			formatTime(vp.Earliest),
			fmt.Sprintf("%d", vp.Buffered),
			status,
		})
	}
	if err := writeTable(out, []string{"KEY", "LEFTMOST", "RIGHTMOST", "EARLIEST", "BUFFERED", "STATUS"}, rows); err != nil {
		return err
	}

	types := make([]string, 0, len(result.Events))
	for eventType := range result.Events {
		types = append(types, string(eventType))
	}
	sort.Strings(types)
	fmt.Fprintln(out)
	eventRows := make([][]string, 0, len(types))
	for _, eventType := range types {
		eventRows = append(eventRows, []string{eventType, fmt.Sprintf("%d", result.Events[models.SyncEventType(eventType)])})
	}
	return writeTable(out, []string{"EVENT", "COUNT"}, eventRows)
}

// serveMetrics exposes reg on addr. It returns the bound address and a
// function that stops the server.
func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", listener.Addr().String()).Msg("serving metrics")

	return listener.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

// eventCounter tallies published events by type.
type eventCounter struct {
	mu     sync.Mutex
	counts map[models.SyncEventType]int64
}

func newEventCounter() *eventCounter {
	return &eventCounter{counts: make(map[models.SyncEventType]int64)}
}

func (c *eventCounter) observe(event *models.SyncEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[event.Type]++
}

func (c *eventCounter) snapshot() map[models.SyncEventType]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[models.SyncEventType]int64, len(c.counts))
	for eventType, n := range c.counts {
		out[eventType] = n
	}
	return out
}

// pruneEvents deletes every event older than before in batches.
func pruneEvents(ctx context.Context, repo *db.EventRepository, before time.Time) (int64, error) {
	const batch = 1000
	var total int64
	for {
		n, err := repo.DeleteOlderThan(ctx, before, batch)
		if err != nil {
			return total, err
		}
		total += n
		if n < batch {
			return total, nil
		}
	}
}
