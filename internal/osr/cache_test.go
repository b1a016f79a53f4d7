package osr

import (
	"testing"

	"blockvm/internal/cfg"
	"blockvm/internal/vm"
)

func TestProfileCachePrewarmsLaterRun(t *testing.T) {
	cache, err := NewProfileCache(t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	fn := countLoop(t, 30)
	base, err := vm.New(fn, vm.Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// First process: make the header hot and persist the profile.
	first := NewBackend(Config{HotThreshold: 2, OSRThreshold: 1 << 40}, nil)
	tier := first.For(base)
	if _, err := base.WithTier(tier).Execute(fn.NewFrame()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := cache.Put(tier.Profile()); err != nil {
		t.Fatalf("put: %v", err)
	}
	first.Close()

	var loaded ProfilePayload
	ok, err := cache.Get(cfg.Hash(fn), &loaded)
	if err != nil || !ok {
		t.Fatalf("get: %v, %v", ok, err)
	}
	if len(loaded.Targets) != 1 || loaded.Targets[0].Block != 1 || loaded.Targets[0].BackEdges != 30 {
		t.Fatalf("loaded profile = %+v", loaded)
	}

	// Second process: prewarm compiles before anything is hot.
	second := NewBackend(Config{HotThreshold: 1 << 40, OSRThreshold: 3}, nil)
	defer second.Close()
	tier = second.For(base)
	if n := tier.Prewarm(&loaded); n != 1 {
		t.Fatalf("prewarmed %d targets, want 1", n)
	}
	drain(t, second)
	res, err := base.WithTier(tier).Run(fn.NewFrame())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Transferred || res.BackEdges != 30 || res.Value.AsInt() != 30 {
		t.Fatalf("prewarmed run = %+v", res)
	}
}

func TestProfileCacheMisses(t *testing.T) {
	cache, err := NewProfileCache(t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	var out ProfilePayload
	if ok, err := cache.Get(cfg.Digest{1}, &out); ok || err != nil {
		t.Fatalf("missing key: %v, %v", ok, err)
	}
	stale := &ProfilePayload{Schema: profileSchemaVersion + 1, Hash: cfg.Digest{2}}
	if err := cache.Put(stale); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := cache.Get(cfg.Digest{2}, &out); ok || err != nil {
		t.Fatalf("stale schema: %v, %v", ok, err)
	}
	if err := cache.DropAll(); err != nil {
		t.Fatalf("drop: %v", err)
	}
}
