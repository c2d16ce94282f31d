package configcache

import "testing"

func TestGetReturnsStoredSnapshot(t *testing.T) {
	c := New(Snapshot{AuthToken: "tok", RateLimitPerSec: 5, RateLimitBurst: 10})
	got := c.Get()
	if got.AuthToken != "tok" || got.RateLimitPerSec != 5 || got.RateLimitBurst != 10 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestSetReplacesSnapshot(t *testing.T) {
	c := New(Snapshot{AuthToken: "old"})
	c.Set(Snapshot{AuthToken: "new"})
	if got := c.Get().AuthToken; got != "new" {
		t.Fatalf("expected new token, got %s", got)
	}
}

func TestEnvOverridesAuthToken(t *testing.T) {
	c := New(Snapshot{AuthToken: "stored"})
	t.Setenv("TOSKA_AUTH_TOKEN", "from-env")
	if got := c.Get().AuthToken; got != "from-env" {
		t.Fatalf("expected env override, got %s", got)
	}
}

func TestEnvOverridesRateLimit(t *testing.T) {
	c := New(Snapshot{RateLimitPerSec: 1, RateLimitBurst: 1})
	t.Setenv("TOSKA_RATE_LIMIT_PER_SEC", "42.5")
	t.Setenv("TOSKA_RATE_LIMIT_BURST", "100")
	got := c.Get()
	if got.RateLimitPerSec != 42.5 || got.RateLimitBurst != 100 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestEnvOverridesReplicaURL(t *testing.T) {
	c := New(Snapshot{ReplicaURL: ""})
	t.Setenv("TOSKA_REPLICA_URL", "http://leader:7070")
	if got := c.Get().ReplicaURL; got != "http://leader:7070" {
		t.Fatalf("expected env override, got %s", got)
	}
}
