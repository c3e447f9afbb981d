package networks

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainvoice/txcore/cache"
	"github.com/chainvoice/txcore/logger"
	"github.com/chainvoice/txcore/metrics"
	"github.com/chainvoice/txcore/types"
)

const (
	locationTTL   = 10 * time.Minute
	sweepInterval = 2 * time.Minute
)

// Locator finds which registered network contains a transaction hash by
// fanning one lookup out per network and awaiting all of them. No early
// cancellation: losing branches run to completion so partial RPC outages
// surface uniformly and the winner is deterministic.
type Locator struct {
	reg *Registry
	log logger.Logger
	rec metrics.Recorder

	// locations caches found-or-absent per hash; existence caches the
	// boolean under an independent key space.
	locations *cache.Cache[*types.NetworkDescriptor]
	existence *cache.Cache[bool]
}

// NewLocator creates a locator over the given registry.
func NewLocator(reg *Registry, log logger.Logger, rec metrics.Recorder) *Locator {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Locator{
		reg:       reg,
		log:       log,
		rec:       rec,
		locations: cache.New[*types.NetworkDescriptor](locationTTL),
		existence: cache.New[bool](locationTTL),
	}
}

// Caches exposes the locator's caches for background sweeping.
func (l *Locator) Caches() []cache.Sweepable {
	return []cache.Sweepable{l.locations, l.existence}
}

// SweepInterval is the recommended interval for sweeping location caches.
func SweepInterval() time.Duration { return sweepInterval }

// Locate returns the first network, in registration order, that reports the
// transaction as existing, or nil if no network has it. Per-network RPC
// errors count as "not found there" and are never propagated.
func (l *Locator) Locate(ctx context.Context, hash common.Hash) (*types.NetworkDescriptor, error) {
	key := "locate:" + hash.Hex()
	if cached, ok := l.locations.Get(key); ok {
		l.rec.IncCounter("locate_cache_hit", map[string]string{"component": "locator"})
		return cached, nil
	}

	found := l.fanOut(ctx, hash)

	descs := l.reg.All()
	var match *types.NetworkDescriptor
	for i := range descs {
		if found[i] {
			d := descs[i]
			match = &d
			break
		}
	}

	l.locations.Set(key, match)
	if match != nil {
		l.log.Debug("transaction located", map[string]any{
			"hash":     hash.Hex(),
			"chain_id": match.ChainID,
			"network":  match.Name,
		})
	} else {
		l.log.Debug("transaction not found on any network", map[string]any{
			"hash": hash.Hex(),
		})
	}
	return match, nil
}

// ExistsAcrossNetworks reports whether any registered network contains the
// hash. It reuses the fan-out pattern under an independent cache key.
func (l *Locator) ExistsAcrossNetworks(ctx context.Context, hash common.Hash) bool {
	key := "exists:" + hash.Hex()
	if cached, ok := l.existence.Get(key); ok {
		l.rec.IncCounter("exists_cache_hit", map[string]string{"component": "locator"})
		return cached
	}

	found := l.fanOut(ctx, hash)

	exists := false
	for _, ok := range found {
		if ok {
			exists = true
			break
		}
	}
	l.existence.Set(key, exists)
	return exists
}

// ClearCache drops all cached locations and existence flags.
func (l *Locator) ClearCache() {
	l.locations.Clear()
	l.existence.Clear()
}

// fanOut issues one getTransaction per registered network concurrently and
// waits for all of them. The result slice is index-aligned with reg.All().
func (l *Locator) fanOut(ctx context.Context, hash common.Hash) []bool {
	start := time.Now()
	descs := l.reg.All()
	found := make([]bool, len(descs))

	var wg sync.WaitGroup
	for i, desc := range descs {
		wg.Add(1)
		go func(i int, desc types.NetworkDescriptor) {
			defer wg.Done()
			client, err := l.reg.Client(desc.ChainID)
			if err != nil {
				l.log.Warn("RPC client unavailable", map[string]any{
					"network": desc.Name,
					"error":   err.Error(),
				})
				return
			}
			tx, _, err := client.TransactionByHash(ctx, hash)
			if err != nil || tx == nil {
				// Absence and RPC failure are both "not found there".
				return
			}
			found[i] = true
		}(i, desc)
	}
	wg.Wait()

	l.rec.ObserveLatency("locate_fanout", time.Since(start), map[string]string{"component": "locator"})
	return found
}
