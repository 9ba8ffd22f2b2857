package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyLockerSerializesSameKey(t *testing.T) {
	l := NewKeyLocker(nil)
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "lineItem:a")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected one holder at a time, saw %d", maxInside)
	}
	if len(l.entries) != 0 {
		t.Fatalf("expected entries released, got %d", len(l.entries))
	}
}

func TestKeyLockerIndependentKeys(t *testing.T) {
	l := NewKeyLocker(nil)
	ctx := context.Background()

	unlockA, _ := l.Lock(ctx, "a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, _ := l.Lock(ctx, "b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on b blocked behind a")
	}

	// unlock is idempotent
	unlockA()
	unlockA()
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"  ACME Trading ": "acme trading",
		"Tyre 17":         "tyre 17",
		"":                "",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
	if !KeyEquals("ACME ", "acme") || KeyEquals("ACME", "ACME Trading") {
		t.Fatalf("KeyEquals must compare normalized keys exactly")
	}
	if !ContainsFold("ACME Trading", "trad") {
		t.Fatalf("ContainsFold should match case-insensitively")
	}
}

func TestKeyLockerGivesUpOnCancelledContext(t *testing.T) {
	l := NewKeyLocker(nil)
	unlock, err := l.Lock(context.Background(), "lineItem:a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "lineItem:a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if entry := l.entries["lineItem:a"]; entry == nil || entry.refs != 1 {
		t.Fatalf("expected only the holder to be counted, got %+v", entry)
	}

	unlock()
	again, err := l.Lock(context.Background(), "lineItem:a")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
	if len(l.entries) != 0 {
		t.Fatalf("expected entries released, got %d", len(l.entries))
	}
}
