package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLayoutStore_LoadMissingFile(t *testing.T) {
	store := NewLayoutStore(filepath.Join(t.TempDir(), "layout.yaml"))

	layout, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !layout.IsEmpty() {
		t.Errorf("Load() of missing file returned %+v, want empty", layout)
	}
}

func TestLayoutStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "layout.yaml")
	store := NewLayoutStore(path)

	eur := ViewportConfig{Instrument: "EURUSD", Granularity: "h1", ViewKind: "candlestick"}
	gbp := ViewportConfig{Instrument: "GBPUSD", Granularity: "m5", ViewKind: "line"}
	leftmost := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	saved := &Layout{
		Mode: "same_instrument",
		Viewports: []LayoutViewport{
			{ViewportConfig: eur, Leftmost: leftmost},
			{ViewportConfig: gbp},
		},
	}
	if err := store.Save(saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.UpdatedAt.IsZero() {
		t.Error("Save() did not stamp UpdatedAt")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Mode != "same_instrument" || len(loaded.Viewports) != 2 {
		t.Fatalf("Load() = %+v", loaded)
	}

	if at, ok := loaded.Position(eur); !ok || !at.Equal(leftmost) {
		t.Errorf("Position(eur) = %v, %v; want %v", at, ok, leftmost)
	}
	if _, ok := loaded.Position(gbp); ok {
		t.Error("Position(gbp) should report no saved position")
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("layout file still exists after Clear()")
	}
	if err := store.Clear(); err != nil {
		t.Errorf("Clear() on missing file error = %v", err)
	}
}

func TestLayoutStore_LoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	if err := os.WriteFile(path, []byte("viewports: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLayoutStore(path).Load(); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}
