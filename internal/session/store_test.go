package session

import (
	"context"
	"testing"
	"time"
)

func TestMemory_NoteRoundTrip(t *testing.T) {
	st := NewMemory(time.Minute)
	ctx := context.Background()

	if _, err := st.GetNote(ctx, "s1", "k"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := st.SetNote(ctx, "s1", "k", "v"); err != nil {
		t.Fatal(err)
	}
	v, err := st.GetNote(ctx, "s1", "k")
	if err != nil {
		t.Fatal(err)
	}
	if v != "v" {
		t.Fatalf("got %q", v)
	}

	// overwrite, last writer wins
	if err := st.SetNote(ctx, "s1", "k", "v2"); err != nil {
		t.Fatal(err)
	}
	v, _ = st.GetNote(ctx, "s1", "k")
	if v != "v2" {
		t.Fatalf("got %q", v)
	}
}

func TestMemory_SessionsAreIsolated(t *testing.T) {
	st := NewMemory(time.Minute)
	ctx := context.Background()

	_ = st.SetNote(ctx, "s1", "k", "one")
	_ = st.SetNote(ctx, "s2", "k", "two")

	v, err := st.GetNote(ctx, "s2", "k")
	if err != nil || v != "two" {
		t.Fatalf("got %q, %v", v, err)
	}
}

func TestMemory_DiscardDropsOnlyTheSession(t *testing.T) {
	st := NewMemory(time.Minute)
	ctx := context.Background()

	_ = st.SetNote(ctx, "s1", "a", "1")
	_ = st.SetNote(ctx, "s1", "b", "2")
	_ = st.SetNote(ctx, "s2", "a", "3")

	if err := st.Discard(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetNote(ctx, "s1", "a"); !IsNotFound(err) {
		t.Fatal("s1 notes must be gone")
	}
	if _, err := st.GetNote(ctx, "s1", "b"); !IsNotFound(err) {
		t.Fatal("s1 notes must be gone")
	}
	if v, err := st.GetNote(ctx, "s2", "a"); err != nil || v != "3" {
		t.Fatalf("s2 must survive: %q, %v", v, err)
	}
}

func TestMemory_DiscardUnknownSessionIsNoop(t *testing.T) {
	st := NewMemory(time.Minute)
	if err := st.Discard(context.Background(), "never-seen"); err != nil {
		t.Fatal(err)
	}
}

func TestAttempt_RoundTrip(t *testing.T) {
	st := NewMemory(time.Minute)
	ctx := context.Background()

	in := Attempt{TransactionID: "tx1", Counter: 3}
	if err := in.Save(ctx, st, "s1"); err != nil {
		t.Fatal(err)
	}

	out, err := LoadAttempt(ctx, st, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestAttempt_EmptyTransactionIDNotPersisted(t *testing.T) {
	st := NewMemory(time.Minute)
	ctx := context.Background()

	// A previous step stored a transaction id.
	if err := (Attempt{TransactionID: "tx1", Counter: 0}).Save(ctx, st, "s1"); err != nil {
		t.Fatal(err)
	}
	// Saving with an empty id must not clobber the stored one.
	if err := (Attempt{Counter: 1}).Save(ctx, st, "s1"); err != nil {
		t.Fatal(err)
	}

	out, err := LoadAttempt(ctx, st, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if out.TransactionID != "tx1" {
		t.Fatalf("expected tx1 preserved, got %q", out.TransactionID)
	}
	if out.Counter != 1 {
		t.Fatalf("expected counter 1, got %d", out.Counter)
	}
}

func TestAttempt_MissingTransactionIDIsNormal(t *testing.T) {
	st := NewMemory(time.Minute)
	ctx := context.Background()

	if err := (Attempt{Counter: 0}).Save(ctx, st, "s1"); err != nil {
		t.Fatal(err)
	}
	out, err := LoadAttempt(ctx, st, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if out.TransactionID != "" {
		t.Fatalf("expected empty id, got %q", out.TransactionID)
	}
}

func TestAttempt_MissingCounterIsError(t *testing.T) {
	st := NewMemory(time.Minute)
	ctx := context.Background()

	_ = st.SetNote(ctx, "s1", NoteTransactionID, "tx1")
	if _, err := LoadAttempt(ctx, st, "s1"); err == nil {
		t.Fatal("a session without a counter is corrupt, expected error")
	}
}

func TestAttempt_CorruptCounterIsError(t *testing.T) {
	st := NewMemory(time.Minute)
	ctx := context.Background()

	_ = st.SetNote(ctx, "s1", NoteAuthCounter, "not-a-number")
	if _, err := LoadAttempt(ctx, st, "s1"); err == nil {
		t.Fatal("expected error for a non-numeric counter")
	}
}

func TestNew_UnknownKind(t *testing.T) {
	if _, err := New(Config{Kind: "etcd"}); err == nil {
		t.Fatal("expected error for unknown store kind")
	}
}

func TestNew_DefaultsToMemory(t *testing.T) {
	st, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
