package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryTokenRevoker(t *testing.T) {
	r := NewMemoryTokenRevoker()
	if err := r.Revoke("jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}
	revoked, err = r.IsRevoked("jti-other")
	if err != nil || revoked {
		t.Fatalf("unexpected revocation for unknown jti")
	}
	// Non-positive TTL is a no-op: the token expires on its own.
	if err := r.Revoke("jti-2", 0); err != nil {
		t.Fatalf("revoke with zero ttl: %v", err)
	}
	if revoked, _ := r.IsRevoked("jti-2"); revoked {
		t.Fatalf("zero ttl revoke must be a no-op")
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisTokenRevoker(mr.Addr(), "")

	if err := r.Revoke("jti-9", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("jti-9")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}

	mr.FastForward(2 * time.Minute)
	revoked, err = r.IsRevoked("jti-9")
	if err != nil || revoked {
		t.Fatalf("expected expiry to clear revocation, got %v err=%v", revoked, err)
	}
}
