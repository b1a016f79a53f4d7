package main

import (
	"errors"
	"fmt"
	"sync"

	"blockvm/internal/cfg"
	"blockvm/internal/config"
	"blockvm/internal/osr"
	"blockvm/internal/trace"
	"blockvm/internal/vm"
)

// tiering owns the OSR backend of one command and, if enabled, the profile
// cache that pre-warms it.
type tiering struct {
	backend *osr.Backend
	cache   *osr.ProfileCache
	events  trace.Tracer

	mu    sync.Mutex
	tiers []*osr.Tier
}

func newTiering(c config.OSRConfig, events trace.Tracer) (*tiering, error) {
	bc, err := c.Backend()
	if err != nil {
		return nil, err
	}
	t := &tiering{backend: osr.NewBackend(bc, events), events: events}
	if c.Cache {
		if c.CacheDir != "" {
			t.cache, err = osr.NewProfileCache(c.CacheDir)
		} else {
			t.cache, err = osr.OpenProfileCache("blockvm")
		}
		if err != nil {
			t.backend.Close()
			return nil, fmt.Errorf("osr cache: %w", err)
		}
	}
	return t, nil
}

// tierFor is installed with fixture.Module.Configure.
func (t *tiering) tierFor(in *vm.Interpreter) vm.Tier {
	tier := t.backend.For(in)
	if t.cache != nil {
		var p osr.ProfilePayload
		ok, err := t.cache.Get(cfg.Hash(in.Func()), &p)
		switch {
		case err != nil:
			trace.Point(t.events, trace.ScopeFunc, "osr-cache", "read failed: "+err.Error())
		case ok:
			n := tier.Prewarm(&p)
			trace.Point(t.events, trace.ScopeFunc, "osr-cache", fmt.Sprintf("%s: prewarmed %d targets", in.Func().Name, n))
		}
	}
	t.mu.Lock()
	t.tiers = append(t.tiers, tier)
	t.mu.Unlock()
	return tier
}

// close persists the hot targets of every tier and stops the backend.
func (t *tiering) close() error {
	var errs []error
	if t.cache != nil {
		t.mu.Lock()
		for _, tier := range t.tiers {
			if p := tier.Profile(); len(p.Targets) > 0 {
				errs = append(errs, t.cache.Put(p))
			}
		}
		t.mu.Unlock()
	}
	errs = append(errs, t.backend.Close())
	return errors.Join(errs...)
}
