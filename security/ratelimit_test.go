package security

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2, 100, slog.Default())
	defer rl.Stop()

	if !rl.Allow("client-a") {
		t.Error("first request denied")
	}
	if !rl.Allow("client-a") {
		t.Error("second request within burst denied")
	}
	if rl.Allow("client-a") {
		t.Error("request over burst allowed")
	}

	// A different identifier has its own bucket.
	if !rl.Allow("client-b") {
		t.Error("unrelated identifier denied")
	}
}

func TestRateLimiterLRUEviction(t *testing.T) {
	rl := NewRateLimiter(10, 10, 3, slog.Default())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("id-%d", i))
	}

	if got := rl.Len(); got != 3 {
		t.Errorf("tracked identifiers = %d, want 3", got)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, 100, slog.Default())
	defer rl.Stop()

	rl.Allow("stale")
	rl.Cleanup(0)
	time.Sleep(time.Millisecond)
	rl.Cleanup(time.Nanosecond)

	if got := rl.Len(); got != 0 {
		t.Errorf("tracked identifiers after cleanup = %d, want 0", got)
	}
}

func TestIsExpired(t *testing.T) {
	if IsExpired(time.Time{}) {
		t.Error("zero deadline reported expired")
	}
	if IsExpired(time.Now().Add(time.Minute)) {
		t.Error("future deadline reported expired")
	}
	if !IsExpired(time.Now().Add(-time.Minute)) {
		t.Error("past deadline not reported expired")
	}
	// Within the grace period the credential is still accepted.
	if IsExpired(time.Now().Add(-time.Second)) {
		t.Error("deadline within grace period reported expired")
	}
	if !IsExpiredWithGracePeriod(time.Now().Add(-time.Second), 0) {
		t.Error("zero grace period did not expire a past deadline")
	}
}
