package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/scrollsync/internal/db"
	"github.com/tOgg1/scrollsync/internal/models"
)

var (
	h1Key = models.NewKey("EURUSD", models.GranularityH1, models.ViewKindCandlestick)
	m5Key = models.NewKey("GBPUSD", models.GranularityM5, models.ViewKindLine)
)

func event(eventType models.SyncEventType, instanceID string, key models.ClassificationKey) *models.SyncEvent {
	return &models.SyncEvent{
		ID:         instanceID + "-" + string(eventType),
		Type:       eventType,
		InstanceID: instanceID,
		Key:        key,
	}
}

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  *models.SyncEvent
		want   bool
	}{
		{
			name:   "empty filter matches any event",
			filter: Filter{},
			event:  event(models.SyncEventBroadcast, "a", h1Key),
			want:   true,
		},
		{
			name:   "nil event returns false",
			filter: Filter{},
			event:  nil,
			want:   false,
		},
		{
			name:   "type filter matches",
			filter: Filter{Types: []models.SyncEventType{models.SyncEventBroadcast}},
			event:  event(models.SyncEventBroadcast, "a", h1Key),
			want:   true,
		},
		{
			name:   "type filter rejects non-matching",
			filter: Filter{Types: []models.SyncEventType{models.SyncEventBroadcast}},
			event:  event(models.SyncEventApplied, "a", h1Key),
			want:   false,
		},
		{
			name: "multiple types - matches any",
			filter: Filter{Types: []models.SyncEventType{
				models.SyncEventStaleHandle,
				models.SyncEventHistoryExhausted,
			}},
			event: event(models.SyncEventHistoryExhausted, "a", h1Key),
			want:  true,
		},
		{
			name:   "instance filter rejects other instance",
			filter: Filter{InstanceID: "b"},
			event:  event(models.SyncEventBroadcast, "a", h1Key),
			want:   false,
		},
		{
			name:   "instrument filter matches",
			filter: Filter{InstrumentID: "GBPUSD"},
			event:  event(models.SyncEventApplied, "a", m5Key),
			want:   true,
		},
		{
			name:   "granularity filter rejects",
			filter: Filter{Granularity: models.GranularityM5},
			event:  event(models.SyncEventApplied, "a", h1Key),
			want:   false,
		},
		{
			name: "combined filters all must match",
			filter: Filter{
				Types:        []models.SyncEventType{models.SyncEventApplied},
				InstrumentID: "GBPUSD",
				Granularity:  models.GranularityH1,
			},
			event: event(models.SyncEventApplied, "a", m5Key),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInMemoryPublisher_Subscribe(t *testing.T) {
	pub := NewInMemoryPublisher()
	handler := func(event *models.SyncEvent) {}

	if err := pub.Subscribe("sub-1", Filter{}, handler); err != nil {
		t.Errorf("Subscribe() error = %v, want nil", err)
	}

	if err := pub.Subscribe("sub-1", Filter{}, handler); err != ErrSubscriptionExists {
		t.Errorf("Subscribe() duplicate error = %v, want %v", err, ErrSubscriptionExists)
	}
	if err := pub.Subscribe("", Filter{}, handler); err != ErrInvalidSubscriptionID {
		t.Errorf("Subscribe() empty ID error = %v, want %v", err, ErrInvalidSubscriptionID)
	}
	if err := pub.Subscribe("sub-2", Filter{}, nil); err != ErrNilHandler {
		t.Errorf("Subscribe() nil handler error = %v, want %v", err, ErrNilHandler)
	}
}

func TestInMemoryPublisher_Unsubscribe(t *testing.T) {
	pub := NewInMemoryPublisher()
	ctx := context.Background()

	var received int
	_ = pub.Subscribe("sub-1", Filter{InstrumentID: "EURUSD"}, func(*models.SyncEvent) { received++ })

	pub.Publish(ctx, event(models.SyncEventApplied, "a", h1Key))
	if received != 1 {
		t.Fatalf("received %d, want 1", received)
	}

	if err := pub.Unsubscribe("sub-1"); err != nil {
		t.Errorf("Unsubscribe() error = %v, want nil", err)
	}
	pub.Publish(ctx, event(models.SyncEventApplied, "a", h1Key))
	if received != 1 {
		t.Errorf("received %d after Unsubscribe, want 1", received)
	}
	if err := pub.Unsubscribe("sub-1"); err != ErrSubscriptionNotFound {
		t.Errorf("Unsubscribe() non-existent error = %v, want %v", err, ErrSubscriptionNotFound)
	}
	if err := pub.Subscribe("sub-1", Filter{}, func(*models.SyncEvent) {}); err != nil {
		t.Errorf("Subscribe() after Unsubscribe error = %v, want nil", err)
	}
}

func TestInMemoryPublisher_Close(t *testing.T) {
	pub := NewInMemoryPublisher()
	_ = pub.Subscribe("sub-1", Filter{}, func(*models.SyncEvent) {})
	_ = pub.Subscribe("sub-2", Filter{}, func(*models.SyncEvent) {})

	pub.Close()
	if err := pub.Unsubscribe("sub-1"); err != ErrSubscriptionNotFound {
		t.Errorf("Unsubscribe() after Close error = %v, want %v", err, ErrSubscriptionNotFound)
	}
	if err := pub.Subscribe("sub-2", Filter{}, func(*models.SyncEvent) {}); err != nil {
		t.Errorf("Subscribe() after Close error = %v, want nil", err)
	}
}

func TestInMemoryPublisher_ConcurrentAccess(t *testing.T) {
	pub := NewInMemoryPublisher(WithHistory(16))
	ctx := context.Background()

	var wg sync.WaitGroup
	var count int64

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = pub.Subscribe(fmt.Sprintf("sub-%d", id), Filter{}, func(*models.SyncEvent) {
				atomic.AddInt64(&count, 1)
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Publish(ctx, event(models.SyncEventApplied, "a", h1Key))
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&count); got != 10*100 {
		t.Errorf("count = %d, want %d", got, 10*100)
	}
	if got := len(pub.Recent()); got != 16 {
		t.Errorf("len(Recent()) = %d, want 16", got)
	}
}

func TestInMemoryPublisher_HistoryKeepsNewestInOrder(t *testing.T) {
	pub := NewInMemoryPublisher(WithHistory(3))
	for i := 0; i < 5; i++ {
		pub.Publish(context.Background(), &models.SyncEvent{ID: fmt.Sprint(i), Type: models.SyncEventApplied, InstanceID: "a"})
	}

	var ids []string
	for _, e := range pub.Recent() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"2", "3", "4"}, ids)
	assert.Empty(t, NewInMemoryPublisher().Recent())
}

type failingRepository struct{ calls int }

func (f *failingRepository) Create(context.Context, *models.SyncEvent) error {
	f.calls++
	return errors.New("disk full")
}

func TestInMemoryPublisher_PersistFailureStillDelivers(t *testing.T) {
	repo := &failingRepository{}
	pub := NewInMemoryPublisher(WithRepository(repo))

	delivered := false
	_ = pub.Subscribe("sub-1", Filter{}, func(*models.SyncEvent) { delivered = true })
	pub.Publish(context.Background(), event(models.SyncEventBroadcast, "a", h1Key))

	assert.Equal(t, 1, repo.calls)
	assert.True(t, delivered)
}

func TestInMemoryPublisher_WithEventRepository(t *testing.T) {
	ctx := context.Background()
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	defer database.Close()
	_, err = database.MigrateUp(ctx)
	require.NoError(t, err)

	repo := db.NewEventRepository(database)
	pub := NewInMemoryPublisher(WithRepository(repo))

	target := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	pub.Publish(ctx, &models.SyncEvent{
		Type:       models.SyncEventHistoryExhausted,
		InstanceID: "inst-1",
		Key:        h1Key,
		Target:     &target,
	})

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	page, err := repo.Query(ctx, db.EventQuery{})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, models.SyncEventHistoryExhausted, page.Events[0].Type)
	assert.True(t, page.Events[0].Target.Equal(target))
}
