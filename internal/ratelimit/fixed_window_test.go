package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestLimiter(t *testing.T, limit int) *FixedWindowLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	l, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return l
}

func TestFixedWindowLimiterAllowsWithinQuota(t *testing.T) {
	l := newTestLimiter(t, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow("login:1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("login:1.2.3.4") {
		t.Fatalf("request over quota should be rejected")
	}
}

func TestFixedWindowLimiterIsolatesKeys(t *testing.T) {
	l := newTestLimiter(t, 1)
	if !l.Allow("login:1.1.1.1") {
		t.Fatalf("first key should be allowed")
	}
	if !l.Allow("login:2.2.2.2") {
		t.Fatalf("second key should have its own quota")
	}
}

func TestFixedWindowLimiterFailsClosedWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "", 5, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	mr.Close()
	if l.Allow("login:3.3.3.3") {
		t.Fatalf("expected fail-closed when redis is unreachable")
	}
}
