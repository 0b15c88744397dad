package dedupe

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFileGuard_CheckMarkClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dedupe.json")

	g, err := NewFileGuard(path)
	if err != nil {
		t.Fatalf("NewFileGuard: %v", err)
	}

	sent, err := g.Check(ctx, "ORD-1", "0100", "سارة", "shipped")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if sent {
		t.Fatal("expected Check = false before Mark")
	}

	if err := g.Mark(ctx, "ORD-1", "0100", "سارة", "shipped"); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	sent, err = g.Check(ctx, "ORD-1", "0100", "سارة", "shipped")
	if err != nil {
		t.Fatalf("Check after Mark: %v", err)
	}
	if !sent {
		t.Fatal("expected Check = true after Mark")
	}

	// A second reload from disk must see the same state (durability).
	reloaded, err := NewFileGuard(path)
	if err != nil {
		t.Fatalf("NewFileGuard (reload): %v", err)
	}
	sent, err = reloaded.Check(ctx, "ORD-1", "0100", "سارة", "shipped")
	if err != nil {
		t.Fatalf("Check after reload: %v", err)
	}
	if !sent {
		t.Fatal("expected Check = true after reload from disk")
	}

	if err := g.Clear(ctx, "ORD-1", "0100", "سارة", "shipped"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	sent, err = g.Check(ctx, "ORD-1", "0100", "سارة", "shipped")
	if err != nil {
		t.Fatalf("Check after Clear: %v", err)
	}
	if sent {
		t.Fatal("expected Check = false after Clear")
	}
}

func TestFileGuard_DifferentMessageTypesAreIndependent(t *testing.T) {
	ctx := context.Background()
	g, err := NewFileGuard(filepath.Join(t.TempDir(), "dedupe.json"))
	if err != nil {
		t.Fatalf("NewFileGuard: %v", err)
	}

	if err := g.Mark(ctx, "ORD-1", "0100", "سارة", "shipped"); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	sent, err := g.Check(ctx, "ORD-1", "0100", "سارة", "delivered")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if sent {
		t.Fatal("expected a different message type to be independent of shipped")
	}
}

func TestFileGuard_SharedPhoneAcrossDifferentOrderIsCaught(t *testing.T) {
	ctx := context.Background()
	g, err := NewFileGuard(filepath.Join(t.TempDir(), "dedupe.json"))
	if err != nil {
		t.Fatalf("NewFileGuard: %v", err)
	}

	if err := g.Mark(ctx, "ORD-1", "0100", "سارة", "shipped"); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	// Same phone, different order ID and name: the phone key family alone
	// should still flag it as already sent.
	sent, err := g.Check(ctx, "ORD-2", "0100", "مريم", "shipped")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !sent {
		t.Fatal("expected phone key family to catch a resend to the same number under a different order")
	}
}
