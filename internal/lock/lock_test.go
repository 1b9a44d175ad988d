package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalExclusive(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	first, err := l.Obtain(ctx, "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Obtain(ctx, "k", time.Minute); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("second obtain err = %v, want ErrNotObtained", err)
	}
	if _, err := l.Obtain(ctx, "other", time.Minute); err != nil {
		t.Fatalf("independent key: %v", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Obtain(ctx, "k", time.Minute); err != nil {
		t.Fatalf("obtain after release: %v", err)
	}
}

func TestLocalExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLocal()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Obtain(ctx, "k", 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(31 * time.Second)
	fresh, err := l.Obtain(ctx, "k", 30*time.Second)
	if err != nil {
		t.Fatalf("obtain after expiry: %v", err)
	}

	// the expired holder must not release the new owner's lock
	if err := stale.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Obtain(ctx, "k", 30*time.Second); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("err = %v, want ErrNotObtained", err)
	}
	_ = fresh.Release(ctx)
}
