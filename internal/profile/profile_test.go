package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/Joseda-hg/taskwatch/internal/db"
)

type brokenStorage struct{}

func (brokenStorage) Get(ctx context.Context, key string, dest any) (bool, error) {
	return false, errors.New("disk gone")
}

func (brokenStorage) Set(ctx context.Context, key string, value any) error {
	return errors.New("disk gone")
}

func TestNameDefaultsAndPersists(t *testing.T) {
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	store := NewStore(db.NewKVStore(conn))
	ctx := context.Background()

	if got := store.Name(ctx); got != DefaultName {
		t.Fatalf("expected default name, got %q", got)
	}
	if err := store.SetName(ctx, "  Dana "); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if got := store.Name(ctx); got != "Dana" {
		t.Fatalf("expected Dana, got %q", got)
	}
	if err := store.SetName(ctx, " "); err == nil {
		t.Fatalf("expected error for blank name")
	}
}

func TestNameFallsBackOnStorageError(t *testing.T) {
	store := NewStore(brokenStorage{})
	if got := store.Name(context.Background()); got != DefaultName {
		t.Fatalf("expected default name on error, got %q", got)
	}
	if !store.ShowHelp(context.Background()) {
		t.Fatalf("expected help to default to shown")
	}
}

func TestShowHelpPreference(t *testing.T) {
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	store := NewStore(db.NewKVStore(conn))
	ctx := context.Background()
	if err := store.SetShowHelp(ctx, false); err != nil {
		t.Fatalf("set show help: %v", err)
	}
	if store.ShowHelp(ctx) {
		t.Fatalf("expected help to be hidden")
	}
}
