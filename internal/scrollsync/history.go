package scrollsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/scrollsync/internal/metrics"
)

// Outcome is the result of a history catch-up.
type Outcome int

const (
	// Sufficient means the buffer now covers the target.
	Sufficient Outcome = iota
	// Exhausted means paging ran out before reaching the target.
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Sufficient:
		return "sufficient"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// HistoryLoader pages a viewport's timeline backward until a target
// timestamp is buffered.
type HistoryLoader struct {
	host    Host
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHistoryLoader creates a loader for host. m may be nil.
func NewHistoryLoader(host Host, m *metrics.Metrics, logger zerolog.Logger) *HistoryLoader {
	return &HistoryLoader{host: host, metrics: m, logger: logger}
}

// EnsureCovers requests older pages until the earliest buffered timestamp is
// at or before target. There is no iteration cap: only an empty page (or a
// failing one) stops the loop early, reported as Exhausted. A cancelled
// context is returned unwrapped so callers can tell shutdown from exhaustion.
func (l *HistoryLoader) EnsureCovers(ctx context.Context, target time.Time) (Outcome, error) {
	pages := 0
	defer func() { l.metrics.ObservePages(pages) }()

	for {
		earliest, ok := l.host.EarliestBufferedTime()
		if ok && !earliest.After(target) {
			if pages > 0 {
				l.logger.Debug().
					Int("pages", pages).
					Time("earliest", earliest).
					Time("target", target).
					Msg("history covers target")
			}
			return Sufficient, nil
		}

		loaded, err := l.host.LoadOlderPage(ctx)
		pages++
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Exhausted, err
			}
			return Exhausted, fmt.Errorf("%w: load older page: %w", ErrHistoryExhausted, err)
		}
		if loaded == 0 {
			return Exhausted, ErrHistoryExhausted
		}
	}
}
