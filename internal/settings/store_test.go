package settings

import (
	"path/filepath"
	"testing"
	"time"
)

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func TestDefaultsWrittenOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}

	got := store.Get()
	if !got.Enabled || !got.ShowOverlayAffordance {
		t.Errorf("expected enabled defaults, got %+v", got)
	}

	// A second store on the same path reads what the first one wrote.
	store2, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if store2.Get() != got {
		t.Errorf("expected persisted defaults, got %+v", store2.Get())
	}
}

func TestPartialUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}

	updated, err := store.Set(Update{Enabled: boolPtr(false), Model: strPtr("gemini-2.5-pro")})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Enabled {
		t.Error("expected enabled=false after update")
	}
	if updated.Model != "gemini-2.5-pro" {
		t.Errorf("expected updated model, got %s", updated.Model)
	}
	if updated.Provider != Defaults().Provider {
		t.Errorf("untouched field changed: %s", updated.Provider)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Get() != updated {
		t.Errorf("expected persisted update, got %+v", reloaded.Get())
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}

	ch, cancel := store.Subscribe()
	defer cancel()

	if _, err := store.Set(Update{APIKey: strPtr("sk-test")}); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ch:
		if got.APIKey != "sk-test" {
			t.Errorf("expected api key in change feed, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no change notification received")
	}

	cancel()
	if _, err := store.Set(Update{APIKey: strPtr("sk-other")}); err != nil {
		t.Fatal(err)
	}
	select {
	case got, ok := <-ch:
		if ok {
			t.Errorf("unexpected notification after unsubscribe: %+v", got)
		}
	case <-time.After(50 * time.Millisecond):
	}
}
