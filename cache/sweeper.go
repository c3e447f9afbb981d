package cache

import (
	"sync"
	"time"
)

// Sweepable is anything the background sweeper can evict expired entries
// from. *Cache[V] satisfies it for every V.
type Sweepable interface {
	Sweep() int
}

// Sweeper periodically sweeps a set of caches to bound memory.
type Sweeper struct {
	interval time.Duration
	targets  []Sweepable

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper ticking every interval over targets.
// Call Start to launch it and Stop to shut it down.
func NewSweeper(interval time.Duration, targets ...Sweepable) *Sweeper {
	return &Sweeper{
		interval: interval,
		targets:  targets,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, t := range s.targets {
					t.Sweep()
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit. Idempotent.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
