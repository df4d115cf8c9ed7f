package mode

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	xerrors "AgentFi-Client/internal/errors"
)

func TestSelectorRequiresExplicitChoice(t *testing.T) {
	ctx := context.Background()
	selector := NewSelector(ctx, NewMemoryStore())

	if selector.Selected() {
		t.Fatal("expected no mode before first choice")
	}
	if _, err := selector.Get(); !errors.Is(err, ErrNotSelected) {
		t.Fatalf("expected ErrNotSelected, got %v", err)
	}

	if err := selector.Set(ctx, Compliant); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	m, err := selector.Get()
	if err != nil {
		t.Fatalf("get mode: %v", err)
	}
	if m.Name != Compliant || m.ChainID.Int64() != 99999 || !m.RequiresKYC {
		t.Fatalf("unexpected mode: %+v", m)
	}
}

func TestSelectorRejectsUnknownMode(t *testing.T) {
	selector := NewSelector(context.Background(), NewMemoryStore())
	err := selector.Set(context.Background(), Name("hybrid"))
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected error code: %s", xerrors.CodeOf(err))
	}
}

func TestSelectorResetClearsChoice(t *testing.T) {
	ctx := context.Background()
	selector := NewSelector(ctx, NewMemoryStore())

	if err := selector.Set(ctx, Permissionless); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := selector.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if selector.Selected() {
		t.Fatal("expected selection to be cleared")
	}
	if _, err := selector.Get(); !errors.Is(err, ErrNotSelected) {
		t.Fatalf("expected ErrNotSelected after reset, got %v", err)
	}
}

func TestSelectorRestoresPersistedChoice(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := NewSelector(ctx, store)
	if err := first.Set(ctx, Compliant); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	second := NewSelector(ctx, store)
	if !second.Selected() {
		t.Fatal("expected restored selection")
	}
	m, err := second.Get()
	if err != nil {
		t.Fatalf("get mode: %v", err)
	}
	if m.Name != Compliant {
		t.Fatalf("unexpected restored mode: %s", m.Name)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	if err := store.Save(ctx, Permissionless); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen file store: %v", err)
	}
	name, ok, err := reopened.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("expected persisted mode, got ok=%v err=%v", ok, err)
	}
	if name != Permissionless {
		t.Fatalf("unexpected persisted mode: %s", name)
	}

	if err := reopened.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := reopened.Load(ctx); ok {
		t.Fatal("expected no mode after clear")
	}
}

func TestFileStoreUsesFixedKey(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := store.Save(context.Background(), Compliant); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, want := store.path, filepath.Join(dir, StorageKey); got != want {
		t.Fatalf("unexpected storage path: got %s want %s", got, want)
	}
}

func TestParseNormalizesInput(t *testing.T) {
	if name, ok := Parse("  Compliant "); !ok || name != Compliant {
		t.Fatalf("unexpected parse result: %s %v", name, ok)
	}
	if _, ok := Parse("unknown"); ok {
		t.Fatal("expected parse failure")
	}
}
