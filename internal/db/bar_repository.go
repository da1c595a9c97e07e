package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/scrollsync/internal/models"
)

// ErrSeriesNotFound is returned when a series has no stored bars.
var ErrSeriesNotFound = errors.New("series not found")

// BarRepository stores bar history per series. It satisfies viewport.Source.
type BarRepository struct {
	db *DB
}

// NewBarRepository creates a new BarRepository.
func NewBarRepository(db *DB) *BarRepository {
	return &BarRepository{db: db}
}

// InsertBatch upserts bars for series in one transaction and returns the
// number of rows written.
func (r *BarRepository) InsertBatch(ctx context.Context, series models.SeriesKey, bars []models.Bar) (int, error) {
	if series.InstrumentID == "" || !series.Granularity.Valid() {
		return 0, fmt.Errorf("invalid series %q", series.String())
	}
	for i, bar := range bars {
		if err := bar.Validate(); err != nil {
			return 0, fmt.Errorf("bar %d: %w", i, err)
		}
	}

	written := 0
	err := r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		written = 0
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO bars (instrument, granularity, open_time, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instrument, granularity, open_time) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare bar insert: %w", err)
		}
		defer stmt.Close()

		for _, bar := range bars {
			if _, err := stmt.ExecContext(ctx,
				series.InstrumentID,
				string(series.Granularity),
				bar.OpenTime.UTC().UnixMilli(),
				bar.Open,
				bar.High,
				bar.Low,
				bar.Close,
				bar.Volume,
			); err != nil {
				return fmt.Errorf("failed to insert bar: %w", err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// PageBefore returns up to limit bars of series strictly older than before,
// oldest first. A zero before returns the newest bars.
func (r *BarRepository) PageBefore(ctx context.Context, series models.SeriesKey, before time.Time, limit int) ([]models.Bar, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT open_time, open, high, low, close, volume FROM bars WHERE instrument = ? AND granularity = ?`
	args := []any{series.InstrumentID, string(series.Granularity)}
	if !before.IsZero() {
		query += ` AND open_time < ?`
		args = append(args, before.UTC().UnixMilli())
	}
	query += ` ORDER BY open_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var bar models.Bar
		var openTime int64
		if err := rows.Scan(&openTime, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bar.OpenTime = time.UnixMilli(openTime).UTC()
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	// Newest-first from the query; callers want oldest first.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// SeriesRange describes the stored extent of one series.
type SeriesRange struct {
	Series   models.SeriesKey
	Count    int64
	Earliest time.Time
	Latest   time.Time
}

// Range returns the stored extent of series, or ErrSeriesNotFound.
func (r *BarRepository) Range(ctx context.Context, series models.SeriesKey) (SeriesRange, error) {
	var count int64
	var earliest, latest sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(open_time), MAX(open_time)
		FROM bars WHERE instrument = ? AND granularity = ?
	`, series.InstrumentID, string(series.Granularity)).Scan(&count, &earliest, &latest)
	if err != nil {
		return SeriesRange{}, fmt.Errorf("failed to read series range: %w", err)
	}
	if count == 0 {
		return SeriesRange{}, ErrSeriesNotFound
	}

	return SeriesRange{
		Series:   series,
		Count:    count,
		Earliest: time.UnixMilli(earliest.Int64).UTC(),
		Latest:   time.UnixMilli(latest.Int64).UTC(),
	}, nil
}

// ListSeries returns every stored series ordered by instrument and
// granularity.
func (r *BarRepository) ListSeries(ctx context.Context) ([]models.SeriesKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT instrument, granularity FROM bars ORDER BY instrument, granularity
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	var out []models.SeriesKey
	for rows.Next() {
		var series models.SeriesKey
		var granularity string
		if err := rows.Scan(&series.InstrumentID, &granularity); err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		series.Granularity = models.Granularity(granularity)
		out = append(out, series)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating series: %w", err)
	}
	return out, nil
}

// DeleteSeries removes all bars of series and returns the number deleted.
func (r *BarRepository) DeleteSeries(ctx context.Context, series models.SeriesKey) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM bars WHERE instrument = ? AND granularity = ?`,
		series.InstrumentID, string(series.Granularity))
	if err != nil {
		return 0, fmt.Errorf("failed to delete series: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return count, nil
}
