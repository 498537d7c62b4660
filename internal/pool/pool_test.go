package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/html-cache-renderer/internal/browser/browsertest"
)

func TestNewWarmsSessions(t *testing.T) {
	t.Parallel()

	b := browsertest.New()
	p, err := New(context.Background(), b, Config{Size: 6, MaxLeases: 3}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 6, p.Size())
	require.Equal(t, 6, b.Opened())
	require.NoError(t, p.Drain(context.Background()))
	require.Equal(t, 6, b.Closed())
}

func TestNewClosesOnOpenFailure(t *testing.T) {
	t.Parallel()

	b := browsertest.New()
	b.OpenErr = errors.New("no tabs")
	_, err := New(context.Background(), b, Config{Size: 2}, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no tabs")
}

func TestLeaseBoundRespected(t *testing.T) {
	t.Parallel()

	const workers = 3
	b := browsertest.New()
	p, err := New(context.Background(), b, Config{Size: 2 * workers, MaxLeases: workers}, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Drain(context.Background())) }()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			time.Sleep(2 * time.Millisecond)
			p.Release(context.Background(), s)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, p.PeakInUse(), workers)
	require.Equal(t, 0, p.InUse())
	require.Equal(t, 40, b.Resets())
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	p, err := New(context.Background(), browsertest.New(), Config{Size: 2, MaxLeases: 1}, zap.NewNop())
	require.NoError(t, err)
	defer p.Drain(context.Background()) //nolint:errcheck

	first, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan error, 1)
	go func() {
		s, err := p.Acquire(context.Background())
		if err == nil {
			p.Release(context.Background(), s)
		}
		got <- err
	}()
	p.Release(context.Background(), first)
	require.NoError(t, <-got)
}

func TestReleaseReplacesBrokenSession(t *testing.T) {
	t.Parallel()

	b := browsertest.New()
	p, err := New(context.Background(), b, Config{Size: 1}, zap.NewNop())
	require.NoError(t, err)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b.ResetErr = errors.New("tab crashed")
	p.Release(context.Background(), s)
	require.Equal(t, 1, b.Closed())

	b.ResetErr = nil
	again, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, s, again)
	require.Equal(t, 2, b.Opened())
	p.Release(context.Background(), again)

	require.NoError(t, p.Drain(context.Background()))
	require.Equal(t, 2, b.Closed())
}

func TestDrainUnblocksAndRejects(t *testing.T) {
	t.Parallel()

	b := browsertest.New()
	p, err := New(context.Background(), b, Config{Size: 1}, zap.NewNop())
	require.NoError(t, err)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Drain(context.Background()))
	require.NoError(t, p.Drain(context.Background()))
	require.Equal(t, 1, b.Closed())

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrDrained)

	p.Release(context.Background(), held)
	require.Equal(t, 1, b.Closed())
	require.Equal(t, 0, p.InUse())
}

func TestEffectiveWorkers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		configured, available, want int
	}{
		{configured: 4, available: 8, want: 4},
		{configured: 8, available: 8, want: 8},
		{configured: 9, available: 8, want: 8},
		{configured: 0, available: 8, want: 8},
		{configured: -3, available: 8, want: 8},
		{configured: 2, available: 0, want: 1},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, EffectiveWorkers(tt.configured, tt.available), "%+v", tt)
	}
}
