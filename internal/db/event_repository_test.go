package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tOgg1/scrollsync/internal/models"
)

var eventKey = models.NewKey("EURUSD", models.GranularityH1, models.ViewKindCandlestick)

func TestEventRepositoryCreateAndQuery(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	defer database.Close()

	repo := NewEventRepository(database)
	base := time.Now().UTC().Truncate(time.Second)
	target := base.Add(-72 * time.Hour)

	event := &models.SyncEvent{
		Type:       models.SyncEventBroadcast,
		InstanceID: "inst-1",
		Key:        eventKey,
		Timestamp:  base,
		Target:     &target,
		Metadata:   map[string]string{"targets": "3"},
	}

	if err := repo.Create(ctx, event); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if event.ID == "" {
		t.Fatal("Create did not set event ID")
	}

	page, err := repo.Query(ctx, EventQuery{Type: &event.Type, Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(page.Events))
	}

	got := page.Events[0]
	if got.Type != event.Type || got.InstanceID != "inst-1" || got.Key != eventKey {
		t.Fatalf("unexpected event fields: %+v", got)
	}
	if got.Target == nil || !got.Target.Equal(target) {
		t.Fatalf("unexpected target: %v", got.Target)
	}
	if !got.Timestamp.Equal(base) {
		t.Fatalf("unexpected timestamp: %v", got.Timestamp)
	}
	if got.Metadata["targets"] != "3" {
		t.Fatalf("unexpected metadata: %+v", got.Metadata)
	}

	fetched, err := repo.Get(ctx, event.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.ID != event.ID {
		t.Fatalf("Get returned %s", fetched.ID)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestEventRepositoryCursorPagination(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	defer database.Close()

	repo := NewEventRepository(database)
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		event := &models.SyncEvent{
			Type:       models.SyncEventApplied,
			InstanceID: "inst-1",
			Key:        eventKey,
			Timestamp:  base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := repo.Create(ctx, event); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	page, err := repo.Query(ctx, EventQuery{Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(page.Events))
	}
	if page.NextCursor == "" {
		t.Fatal("expected NextCursor")
	}

	page2, err := repo.Query(ctx, EventQuery{Cursor: page.NextCursor, Limit: 2})
	if err != nil {
		t.Fatalf("Query page 2: %v", err)
	}
	if len(page2.Events) != 1 || page2.NextCursor != "" {
		t.Fatalf("expected 1 final event, got %d (cursor %q)", len(page2.Events), page2.NextCursor)
	}
}

func TestEventRepositoryFilters(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	defer database.Close()

	repo := NewEventRepository(database)
	base := time.Now().UTC().Truncate(time.Second)
	other := models.NewKey("GBPUSD", models.GranularityM5, models.ViewKindLine)

	events := []*models.SyncEvent{
		{Type: models.SyncEventBroadcast, InstanceID: "a", Key: eventKey, Timestamp: base},
		{Type: models.SyncEventApplied, InstanceID: "b", Key: other, Timestamp: base.Add(5 * time.Second)},
		{Type: models.SyncEventStaleHandle, InstanceID: "a", Key: eventKey, Timestamp: base.Add(10 * time.Second)},
	}
	for _, event := range events {
		if err := repo.Create(ctx, event); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	instance := "a"
	page, err := repo.Query(ctx, EventQuery{InstanceID: &instance})
	if err != nil {
		t.Fatalf("Query instance: %v", err)
	}
	if len(page.Events) != 2 {
		t.Fatalf("expected 2 events for instance a, got %d", len(page.Events))
	}

	instrument := "GBPUSD"
	page, err = repo.Query(ctx, EventQuery{InstrumentID: &instrument})
	if err != nil {
		t.Fatalf("Query instrument: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].Key != other {
		t.Fatalf("expected GBPUSD event, got %+v", page.Events)
	}

	since := base.Add(3 * time.Second)
	until := base.Add(7 * time.Second)
	page, err = repo.Query(ctx, EventQuery{Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("Query range: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].InstanceID != "b" {
		t.Fatalf("expected instance b event, got %+v", page.Events)
	}

	counts, err := repo.CountByType(ctx)
	if err != nil {
		t.Fatalf("CountByType: %v", err)
	}
	if counts[models.SyncEventBroadcast] != 1 || counts[models.SyncEventStaleHandle] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}

	deleted, err := repo.DeleteOlderThan(ctx, since, 0)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	total, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 remaining, got %d", total)
	}
}

func TestEventRepositoryValidation(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	defer database.Close()

	repo := NewEventRepository(database)

	if err := repo.Create(ctx, &models.SyncEvent{}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := repo.Create(ctx, nil); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for nil, got %v", err)
	}
}
