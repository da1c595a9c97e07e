package viewport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tOgg1/scrollsync/internal/models"
)

// Source serves a series' history in pages.
type Source interface {
	// PageBefore returns up to limit bars of series strictly older than
	// before, oldest first. A zero before asks for the newest bars.
	PageBefore(ctx context.Context, series models.SeriesKey, before time.Time, limit int) ([]models.Bar, error)
}

// SliceSource is an in-memory Source keyed by series.
type SliceSource struct {
	mu     sync.RWMutex
	series map[models.SeriesKey][]models.Bar
}

// NewSliceSource creates an empty SliceSource.
func NewSliceSource() *SliceSource {
	return &SliceSource{series: make(map[models.SeriesKey][]models.Bar)}
}

// Add appends bars to series and keeps it ordered by open time.
func (s *SliceSource) Add(series models.SeriesKey, bars ...models.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := append(s.series[series], bars...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].OpenTime.Before(merged[j].OpenTime)
	})
	s.series[series] = merged
}

// PageBefore implements Source.
func (s *SliceSource) PageBefore(ctx context.Context, series models.SeriesKey, before time.Time, limit int) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.series[series]
	end := len(bars)
	if !before.IsZero() {
		end = sort.Search(len(bars), func(i int) bool { return !bars[i].OpenTime.Before(before) })
	}
	start := end - limit
	if start < 0 || limit <= 0 {
		start = 0
	}

	page := make([]models.Bar, end-start)
	copy(page, bars[start:end])
	return page, nil
}
