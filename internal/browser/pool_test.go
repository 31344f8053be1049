package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/flathunter-go/internal/types"
)

type fakeInstance struct {
	id      int
	healthy atomic.Bool
	closed  atomic.Int32
}

func (f *fakeInstance) NewPage(context.Context) (*Page, error) {
	return nil, errors.New("not supported")
}
func (f *fakeInstance) Healthy() bool { return f.healthy.Load() }
func (f *fakeInstance) Close() error {
	f.closed.Add(1)
	return nil
}

type fakeLauncher struct {
	mu        sync.Mutex
	launched  []*fakeInstance
	failAfter int
}

func (l *fakeLauncher) launch(context.Context) (Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAfter > 0 && len(l.launched) >= l.failAfter {
		return nil, errors.New("chrome exploded")
	}
	inst := &fakeInstance{id: len(l.launched)}
	inst.healthy.Store(true)
	l.launched = append(l.launched, inst)
	return inst, nil
}

func TestPool_AcquireRelease(t *testing.T) {
	fl := &fakeLauncher{}
	p, err := NewPoolWithLauncher(context.Background(), 2, fl.launch)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 2, p.Size())
	assert.Equal(t, 2, p.Available())

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 0, p.Available())

	p.Release(a)
	assert.Equal(t, 1, p.Available())
	p.Release(nil)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Acquired)
	assert.Equal(t, int64(1), stats.Released)
}

func TestPool_AcquireBlocksUntilContextDone(t *testing.T) {
	fl := &fakeLauncher{}
	p, err := NewPoolWithLauncher(context.Background(), 1, fl.launch)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_RecyclesUnhealthy(t *testing.T) {
	fl := &fakeLauncher{}
	p, err := NewPoolWithLauncher(context.Background(), 1, fl.launch)
	require.NoError(t, err)
	defer p.Close()

	fl.launched[0].healthy.Store(false)

	inst, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, fl.launched[1], inst)
	assert.Equal(t, int32(1), fl.launched[0].closed.Load())
	assert.Equal(t, int64(1), p.Stats().Recycled)
	assert.Equal(t, 1, p.Size())
}

func TestPool_RecycleFailureShrinksPool(t *testing.T) {
	fl := &fakeLauncher{failAfter: 1}
	p, err := NewPoolWithLauncher(context.Background(), 1, fl.launch)
	require.NoError(t, err)
	defer p.Close()

	fl.launched[0].healthy.Store(false)

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, p.Size())
	assert.Equal(t, int64(1), p.Stats().Errors)
}

func TestPool_InitFailureClosesStarted(t *testing.T) {
	fl := &fakeLauncher{failAfter: 2}
	_, err := NewPoolWithLauncher(context.Background(), 3, fl.launch)
	require.Error(t, err)

	require.Len(t, fl.launched, 2)
	for _, inst := range fl.launched {
		assert.Equal(t, int32(1), inst.closed.Load())
	}
}

func TestPool_Close(t *testing.T) {
	fl := &fakeLauncher{}
	p, err := NewPoolWithLauncher(context.Background(), 2, fl.launch)
	require.NoError(t, err)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	for _, inst := range fl.launched {
		assert.Equal(t, int32(1), inst.closed.Load())
	}
	assert.Equal(t, 0, p.Available())

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, types.ErrBrowserPoolClosed)

	// Releasing after close shuts the instance down again.
	p.Release(held)
	assert.Equal(t, int32(2), held.(*fakeInstance).closed.Load())
}

func TestPool_ConcurrentAcquireRelease(t *testing.T) {
	fl := &fakeLauncher{}
	p, err := NewPoolWithLauncher(context.Background(), 2, fl.launch)
	require.NoError(t, err)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := p.Acquire(context.Background())
			if err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			p.Release(inst)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, p.Available())
	assert.Equal(t, int64(20), p.Stats().Acquired)
}
