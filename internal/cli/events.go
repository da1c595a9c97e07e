package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tOgg1/scrollsync/internal/db"
	"github.com/tOgg1/scrollsync/internal/models"
)

type eventsListOptions struct {
	eventType  string
	instance   string
	instrument string
	since      string
	limit      int
	cursor     string
	jsonOut    bool
}

func newEventsCmd(a *app) *cobra.Command {
	opts := &eventsListOptions{}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the sync event log",
		Example: `  scrollsync events --type history.exhausted
  scrollsync events --instrument GBPUSD --since 1h --json
  scrollsync events stats
  scrollsync events show 3f2b9c1e-6d4a-4f7e-9a51-0c8e2d7b1a64`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runEventsList(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.eventType, "type", "", "filter by event type")
	flags.StringVar(&opts.instance, "instance", "", "filter by instance id")
	flags.StringVar(&opts.instrument, "instrument", "", "filter by instrument")
	flags.StringVar(&opts.since, "since", "", "only events newer than a duration (1h) or RFC3339 time")
	flags.IntVar(&opts.limit, "limit", 50, "max events to show")
	flags.StringVar(&opts.cursor, "cursor", "", "continue after this event id")
	flags.BoolVar(&opts.jsonOut, "json", false, "output as JSON")

	cmd.AddCommand(newEventsShowCmd(a), newEventsStatsCmd(a), newEventsPruneCmd(a))
	return cmd
}

type eventsListResult struct {
	Events     []*models.SyncEvent `json:"events"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

func (a *app) runEventsList(cmd *cobra.Command, opts *eventsListOptions) error {
	query := db.EventQuery{Cursor: opts.cursor, Limit: opts.limit}
	if opts.eventType != "" {
		eventType := models.SyncEventType(opts.eventType)
		query.Type = &eventType
	}
	if opts.instance != "" {
		query.InstanceID = &opts.instance
	}
	if opts.instrument != "" {
		query.InstrumentID = &opts.instrument
	}
	if opts.since != "" {
		since, err := parseSince(opts.since, time.Now())
		if err != nil {
			return err
		}
		query.Since = &since
	}

	ctx := cmd.Context()
	database, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	page, err := db.NewEventRepository(database).Query(ctx, query)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		result := eventsListResult{Events: page.Events, NextCursor: page.NextCursor}
		if result.Events == nil {
			result.Events = []*models.SyncEvent{}
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	if len(page.Events) == 0 {
		fmt.Fprintln(out, "No events found.")
		return nil
	}

	rows := make([][]string, 0, len(page.Events))
	for _, event := range page.Events {
		target := "-"
		if event.Target != nil {
			target = formatTime(*event.Target)
		}
		rows = append(rows, []string{
			event.Timestamp.Local().Format("15:04:05.000"),
			string(event.Type),
			shortID(event.InstanceID),
			event.Key.String(),
			target,
			formatMetadata(event.Metadata),
		})
	}
	if err := writeTable(out, []string{"TIME", "TYPE", "INSTANCE", "KEY", "TARGET", "DETAILS"}, rows); err != nil {
		return err
	}
	if page.NextCursor != "" {
		fmt.Fprintf(out, "\nMore events: --cursor %s\n", page.NextCursor)
	}
	return nil
}

func newEventsShowCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show one logged event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			database, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			event, err := db.NewEventRepository(database).Get(ctx, args[0])
			if errors.Is(err, db.ErrEventNotFound) {
				return fmt.Errorf("event %q not found", args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(event)
			}

			target := "-"
			if event.Target != nil {
				target = formatTime(*event.Target)
			}
			fmt.Fprintf(out, "ID:        %s\n", event.ID)
			fmt.Fprintf(out, "Time:      %s\n", event.Timestamp.Local().Format(time.RFC3339Nano))
			fmt.Fprintf(out, "Type:      %s\n", event.Type)
			fmt.Fprintf(out, "Instance:  %s\n", event.InstanceID)
			fmt.Fprintf(out, "Key:       %s\n", event.Key)
			fmt.Fprintf(out, "Target:    %s\n", target)
			if details := formatMetadata(event.Metadata); details != "" {
				fmt.Fprintf(out, "Details:   %s\n", details)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

type eventsStatsResult struct {
	Total  int64                          `json:"total"`
	ByType map[models.SyncEventType]int64 `json:"by_type"`
}

func newEventsStatsCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count logged events by type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			database, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			repo := db.NewEventRepository(database)
			total, err := repo.Count(ctx)
			if err != nil {
				return err
			}
			counts, err := repo.CountByType(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(eventsStatsResult{Total: total, ByType: counts})
			}

			types := make([]string, 0, len(counts))
			for eventType := range counts {
				types = append(types, string(eventType))
			}
			sort.Strings(types)
			rows := make([][]string, 0, len(types))
			for _, eventType := range types {
				rows = append(rows, []string{eventType, fmt.Sprintf("%d", counts[models.SyncEventType(eventType)])})
			}
			rows = append(rows, []string{"total", fmt.Sprintf("%d", total)})
			return writeTable(out, []string{"TYPE", "COUNT"}, rows)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func newEventsPruneCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				olderThan = a.cfg.Events.MaxAge
			}
			if olderThan <= 0 {
				return fmt.Errorf("--older-than is required when events.max_age is unset")
			}

			ctx := cmd.Context()
			database, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			deleted, err := pruneEvents(ctx, db.NewEventRepository(database), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d events older than %s\n", deleted, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete events older than this (default: events.max_age)")
	return cmd
}

// parseSince accepts a duration relative to now or an RFC3339 time.
func parseSince(value string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: expected a duration or RFC3339 time", value)
	}
	return t, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+metadata[k])
	}
	return strings.Join(parts, " ")
}
