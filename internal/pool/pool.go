// Package pool leases reusable browser sessions to render workers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
	"github.com/JakeFAU/html-cache-renderer/internal/metrics"
)

// ErrDrained is returned by Acquire once Drain has been called.
var ErrDrained = errors.New("session pool drained")

const defaultResetTimeout = 10 * time.Second

// Config sizes the pool.
type Config struct {
	// Size is the number of sessions opened up front.
	Size int
	// MaxLeases caps concurrently leased sessions. Zero or values above Size
	// mean Size.
	MaxLeases int
	// ResetTimeout bounds the blank-page navigation on release.
	ResetTimeout time.Duration
}

// Pool is a bounded set of browser sessions. Acquire and Release are safe for
// concurrent use.
type Pool struct {
	browser      crawler.Browser
	logger       *zap.Logger
	size         int
	resetTimeout time.Duration

	idle   chan crawler.Session
	leases chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	open     map[crawler.Session]struct{}
	drained  bool
	inUse    atomic.Int64
	maxInUse atomic.Int64
}

// New opens cfg.Size sessions on browser. Any session opened before a failure
// is closed again.
func New(ctx context.Context, browser crawler.Browser, cfg Config, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.Size
	if size <= 0 {
		size = 1
	}
	maxLeases := cfg.MaxLeases
	if maxLeases <= 0 || maxLeases > size {
		maxLeases = size
	}
	resetTimeout := cfg.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = defaultResetTimeout
	}
	p := &Pool{
		browser:      browser,
		logger:       logger.Named("pool"),
		size:         size,
		resetTimeout: resetTimeout,
		idle:         make(chan crawler.Session, size),
		leases:       make(chan struct{}, maxLeases),
		done:         make(chan struct{}),
		open:         make(map[crawler.Session]struct{}, size),
	}
	for i := 0; i < size; i++ {
		session, err := browser.OpenSession(ctx)
		if err != nil {
			drainErr := p.Drain(ctx)
			return nil, errors.Join(fmt.Errorf("open session %d of %d: %w", i+1, size, err), drainErr)
		}
		p.track(session)
		p.idle <- session
	}
	p.logger.Debug("session pool warmed", zap.Int("size", size), zap.Int("max_leases", maxLeases))
	return p, nil
}

// Acquire blocks until a lease slot and an idle session are available.
func (p *Pool) Acquire(ctx context.Context) (crawler.Session, error) {
	select {
	case <-p.done:
		return nil, ErrDrained
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session: %w", ctx.Err())
	case p.leases <- struct{}{}:
	}

	session, err := p.take(ctx)
	if err != nil {
		<-p.leases
		return nil, err
	}
	n := p.inUse.Add(1)
	for {
		peak := p.maxInUse.Load()
		if n <= peak || p.maxInUse.CompareAndSwap(peak, n) {
			break
		}
	}
	metrics.IncSessionsInUse()
	return session, nil
}

// take returns an idle session, replacing lost sessions lazily when the pool
// has shrunk below its size.
func (p *Pool) take(ctx context.Context) (crawler.Session, error) {
	select {
	case session := <-p.idle:
		return session, nil
	default:
	}
	if p.openCount() < p.size {
		session, err := p.browser.OpenSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("open replacement session: %w", err)
		}
		if !p.track(session) {
			_ = session.Close()
			return nil, ErrDrained
		}
		return session, nil
	}
	select {
	case session := <-p.idle:
		return session, nil
	case <-p.done:
		return nil, ErrDrained
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session: %w", ctx.Err())
	}
}

// Release resets session to a blank document and returns it to the pool. A
// session that cannot be reset is closed and dropped.
func (p *Pool) Release(ctx context.Context, session crawler.Session) {
	defer func() {
		p.inUse.Add(-1)
		metrics.DecSessionsInUse()
		<-p.leases
	}()

	if p.isDrained() {
		p.discard(session)
		return
	}

	resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.resetTimeout)
	defer cancel()
	if err := session.Reset(resetCtx); err != nil {
		p.logger.Warn("session reset failed; discarding", zap.Error(err))
		p.discard(session)
		return
	}
	select {
	case p.idle <- session:
	default:
		p.discard(session)
	}
}

// Drain closes every session the pool opened. It is safe to call more than
// once; later calls are no-ops.
func (p *Pool) Drain(_ context.Context) error {
	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return nil
	}
	p.drained = true
	close(p.done)
	sessions := make([]crawler.Session, 0, len(p.open))
	for s := range p.open {
		sessions = append(sessions, s)
	}
	p.open = map[crawler.Session]struct{}{}
	p.mu.Unlock()

	for {
		select {
		case <-p.idle:
			continue
		default:
		}
		break
	}

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Debug("session pool drained", zap.Int("closed", len(sessions)))
	if len(errs) > 0 {
		return fmt.Errorf("drain sessions: %w", errors.Join(errs...))
	}
	return nil
}

// Size returns the configured number of pooled sessions.
func (p *Pool) Size() int {
	return p.size
}

// InUse reports currently leased sessions.
func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

// PeakInUse reports the highest concurrent lease count seen.
func (p *Pool) PeakInUse() int {
	return int(p.maxInUse.Load())
}

func (p *Pool) track(s crawler.Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drained {
		return false
	}
	p.open[s] = struct{}{}
	return true
}

func (p *Pool) discard(s crawler.Session) {
	p.mu.Lock()
	_, owned := p.open[s]
	delete(p.open, s)
	p.mu.Unlock()
	if !owned {
		return
	}
	if err := s.Close(); err != nil {
		p.logger.Warn("close session failed", zap.Error(err))
	}
}

func (p *Pool) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

func (p *Pool) isDrained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drained
}

// EffectiveWorkers applies the sizing rule: configured when it lies in
// (0, available], otherwise available.
func EffectiveWorkers(configured, available int) int {
	if available < 1 {
		available = 1
	}
	if configured > 0 && configured <= available {
		return configured
	}
	return available
}
