// Package pool keeps pre-warmed automation contexts for fast session start.
// Pool absence or exhaustion never blocks session creation: callers fall
// back to cold context initialization.
package pool

import (
	"log"
	"sync"

	"github.com/browsergate/browsergate/internal/engine"
)

// Pool holds zero or more idle contexts. A context is either free in the
// pool or exclusively checked out, never both. A size of zero disables
// pooling; callers need no separate configuration branch.
type Pool struct {
	eng  engine.Engine
	size int

	mu     sync.Mutex
	free   []engine.Context
	closed bool
}

// New creates a pool bounded at size contexts.
func New(eng engine.Engine, size int) *Pool {
	if size < 0 {
		size = 0
	}
	return &Pool{eng: eng, size: size}
}

// Enabled reports whether pooling is in effect.
func (p *Pool) Enabled() bool {
	return p.size > 0
}

// Warm fills the pool to its configured size. Called at startup.
func (p *Pool) Warm() error {
	for {
		p.mu.Lock()
		if p.closed || len(p.free) >= p.size {
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		ctx, err := p.eng.NewContext(engine.ContextOptions{})
		if err != nil {
			return err
		}

		p.mu.Lock()
		if p.closed || len(p.free) >= p.size {
			p.mu.Unlock()
			ctx.Close()
			return nil
		}
		p.free = append(p.free, ctx)
		p.mu.Unlock()
	}
}

// Checkout returns an idle pre-warmed context, or nil when none is
// available.
func (p *Pool) Checkout() engine.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.free) == 0 {
		return nil
	}
	ctx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return ctx
}

// Release resets a context to a clean baseline and returns it to the pool.
// If the reset fails the context is discarded and a replacement is warmed
// asynchronously; if the pool is already full the context is torn down.
func (p *Pool) Release(ctx engine.Context) {
	if !p.Enabled() {
		ctx.Close()
		return
	}

	if err := ctx.Reset(); err != nil {
		log.Printf("pool: discarding context after failed reset: %v", err)
		ctx.Close()
		go func() {
			if err := p.Warm(); err != nil {
				log.Printf("pool: failed to warm replacement context: %v", err)
			}
		}()
		return
	}

	p.mu.Lock()
	full := p.closed || len(p.free) >= p.size
	if !full {
		p.free = append(p.free, ctx)
	}
	p.mu.Unlock()

	if full {
		ctx.Close()
	}
}

// FreeSlots reports how many contexts are idle in the pool.
func (p *Pool) FreeSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Close tears down every idle context. Checked-out contexts belong to their
// sessions and are torn down by the registry.
func (p *Pool) Close() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.closed = true
	p.mu.Unlock()

	for _, ctx := range free {
		if err := ctx.Close(); err != nil {
			log.Printf("pool: error closing pooled context: %v", err)
		}
	}
}
