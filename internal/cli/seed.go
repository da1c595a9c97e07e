package cli

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tOgg1/scrollsync/internal/db"
	"github.com/tOgg1/scrollsync/internal/logging"
	"github.com/tOgg1/scrollsync/internal/models"
)

type seedOptions struct {
	instruments []string
	granularity []string
	bars        int
	end         string
	randSeed    uint64
	depth       map[string]int
	replace     bool
}

func newSeedCmd(a *app) *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate synthetic bar history",
		Long: "Generate a random-walk bar series for each instrument and granularity and\n" +
			"store it in the database. Defaults to the series of the configured viewports.",
		Example: `  scrollsync seed
  scrollsync seed --instrument EURUSD --instrument GBPUSD --granularity h1 --bars 5000
  scrollsync seed --depth GBPUSD=300 --end 2024-06-01T00:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSeed(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.instruments, "instrument", nil, "instrument to seed (repeatable; default: configured viewports)")
	cmd.Flags().StringSliceVar(&opts.granularity, "granularity", nil, "granularity to seed (repeatable; default: configured viewports)")
	cmd.Flags().IntVar(&opts.bars, "bars", 2000, "bars per series")
	cmd.Flags().StringVar(&opts.end, "end", "", "open time of the newest bar, RFC3339 (default: now, truncated)")
	cmd.Flags().Uint64Var(&opts.randSeed, "rand-seed", 1, "random seed")
	cmd.Flags().StringToIntVar(&opts.depth, "depth", nil, "per-instrument bar count override, e.g. GBPUSD=300")
	cmd.Flags().BoolVar(&opts.replace, "replace", false, "delete existing bars of each series first")
	return cmd
}

func (a *app) runSeed(cmd *cobra.Command, opts *seedOptions) error {
	if opts.bars < 1 {
		return fmt.Errorf("--bars must be at least 1")
	}
	end := time.Now().UTC()
	if opts.end != "" {
		parsed, err := time.Parse(time.RFC3339, opts.end)
		if err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
		end = parsed.UTC()
	}

	seriesList, err := a.seedSeries(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	database, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	repo := db.NewBarRepository(database)
	logger := logging.Component("seed")
	rng := rand.New(rand.NewPCG(opts.randSeed, opts.randSeed^0x9e3779b97f4a7c15))

	rows := make([][]string, 0, len(seriesList))
	for _, series := range seriesList {
		count := opts.bars
		if depth, ok := opts.depth[series.InstrumentID]; ok {
			count = depth
		}
		if count < 1 {
			return fmt.Errorf("--depth for %s must be at least 1", series.InstrumentID)
		}
		if opts.replace {
			if _, err := repo.DeleteSeries(ctx, series); err != nil {
				return err
			}
		}

		bars := randomWalk(rng, series.Granularity, end, count)
		inserted, err := repo.InsertBatch(ctx, series, bars)
		if err != nil {
			return fmt.Errorf("seed %s: %w", series, err)
		}
		logger.Info().Str("series", series.String()).Int("bars", inserted).Msg("series seeded")

		stored, err := repo.Range(ctx, series)
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			series.String(),
			fmt.Sprintf("%d", stored.Count),
			formatTime(stored.Earliest),
			formatTime(stored.Latest),
		})
	}

	return writeTable(cmd.OutOrStdout(), []string{"SERIES", "BARS", "EARLIEST", "LATEST"}, rows)
}

// seedSeries resolves the flag selection against the configured viewports.
func (a *app) seedSeries(opts *seedOptions) ([]models.SeriesKey, error) {
	var out []models.SeriesKey
	seen := make(map[models.SeriesKey]bool)
	addSeries := func(series models.SeriesKey) {
		if !seen[series] {
			seen[series] = true
			out = append(out, series)
		}
	}

	if len(opts.instruments) == 0 && len(opts.granularity) == 0 {
		for _, viewport := range a.cfg.Viewports {
			key, err := viewport.Key()
			if err != nil {
				return nil, err
			}
			addSeries(key.Series())
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no viewports configured; pass --instrument and --granularity")
		}
		return out, nil
	}

	instruments := opts.instruments
	if len(instruments) == 0 {
		for _, viewport := range a.cfg.Viewports {
			instruments = append(instruments, viewport.Instrument)
		}
	}
	granularities := opts.granularity
	if len(granularities) == 0 {
		granularities = []string{string(models.GranularityH1)}
	}

	for _, instrument := range instruments {
		instrument = strings.TrimSpace(instrument)
		if instrument == "" {
			return nil, models.ErrEmptyInstrument
		}
		for _, raw := range granularities {
			granularity, err := models.ParseGranularity(raw)
			if err != nil {
				return nil, err
			}
			addSeries(models.SeriesKey{InstrumentID: instrument, Granularity: granularity})
		}
	}
	return out, nil
}

// randomWalk generates count bars ending at end, aligned to the granularity.
func randomWalk(rng *rand.Rand, granularity models.Granularity, end time.Time, count int) []models.Bar {
	step := granularity.Duration()
	last := end.Truncate(step)
	start := last.Add(-time.Duration(count-1) * step)

	bars := make([]models.Bar, count)
	price := 1 + rng.Float64()
	for i := range bars {
		open := price
		closePrice := math.Max(0.0001, open*(1+rng.NormFloat64()*0.002))
		spread := math.Abs(rng.NormFloat64()) * 0.001 * open
		bars[i] = models.Bar{
			OpenTime: start.Add(time.Duration(i) * step),
			Open:     open,
			High:     math.Max(open, closePrice) + spread,
			Low:      math.Max(0, math.Min(open, closePrice)-spread),
			Close:    closePrice,
			Volume:   rng.Int64N(10_000),
		}
		price = closePrice
	}
	return bars
}
