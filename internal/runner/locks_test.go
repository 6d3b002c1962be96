package runner

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestLockRegistryMutualExclusion verifies same-key acquires serialize and
// the winner's critical section completes before the loser's begins.
func TestLockRegistryMutualExclusion(t *testing.T) {
	reg := NewLockRegistry()
	ctx := context.Background()

	release1, err := reg.Acquire(ctx, "codex:s1")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	entered := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		release2, err := reg.Acquire(ctx, "codex:s1")
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}
		close(entered)
		release2()
	}()

	select {
	case <-entered:
		t.Fatal("second holder entered while first still holds the lock")
	case <-time.After(50 * time.Millisecond):
	}

	release1()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never entered after release")
	}
	wg.Wait()

	if n := reg.Len(); n != 0 {
		t.Errorf("registry holds %d entries after full release, want 0", n)
	}
}

// TestLockRegistryIndependentKeys verifies different keys do not contend.
func TestLockRegistryIndependentKeys(t *testing.T) {
	reg := NewLockRegistry()
	ctx := context.Background()

	r1, err := reg.Acquire(ctx, "codex:a")
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	defer r1()

	done := make(chan struct{})
	go func() {
		r2, err := reg.Acquire(ctx, "codex:b")
		if err == nil {
			r2()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("independent key blocked")
	}
}

// TestLockRegistryCancelledWait verifies a waiter can give up via context
// without leaking its registry entry.
func TestLockRegistryCancelledWait(t *testing.T) {
	reg := NewLockRegistry()

	release, err := reg.Acquire(context.Background(), "claude:s")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := reg.Acquire(ctx, "claude:s"); err == nil {
		t.Fatal("Acquire with expired context returned nil error")
	}

	release()
	if n := reg.Len(); n != 0 {
		t.Errorf("registry holds %d entries, want 0", n)
	}

	// The key is usable again after the table emptied.
	release, err = reg.Acquire(context.Background(), "claude:s")
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	release()
}

// TestLockRegistryReleaseIdempotent verifies double release is harmless.
func TestLockRegistryReleaseIdempotent(t *testing.T) {
	reg := NewLockRegistry()
	release, err := reg.Acquire(context.Background(), "codex:x")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	release()
	if n := reg.Len(); n != 0 {
		t.Errorf("registry holds %d entries, want 0", n)
	}
}
