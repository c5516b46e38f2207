package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManagerMutualExclusion(t *testing.T) {
	m := NewLockManager()
	key := AccountKey(1)

	release, err := m.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()

	release2, err := m.Acquire(context.Background(), key)
	require.NoError(t, err)
	release2()
}

func TestLockManagerIndependentKeys(t *testing.T) {
	m := NewLockManager()

	releaseA, err := m.Acquire(context.Background(), HoldingKey(1, "btc"))
	require.NoError(t, err)
	defer releaseA()

	// A different holding of the same account must not block
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	releaseB, err := m.Acquire(ctx, HoldingKey(1, "eth"))
	require.NoError(t, err)
	releaseB()
}

func TestLockManagerReleaseIsIdempotent(t *testing.T) {
	m := NewLockManager()
	key := AccountKey(7)

	release, err := m.Acquire(context.Background(), key)
	require.NoError(t, err)
	release()
	release()

	release2, err := m.Acquire(context.Background(), key)
	require.NoError(t, err)
	release2()
}

func TestLockManagerCleansUpEntries(t *testing.T) {
	m := NewLockManager()

	release, err := m.Acquire(context.Background(), AccountKey(1))
	require.NoError(t, err)
	release()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.locks)
}

func TestLockManagerSerializesCounter(t *testing.T) {
	m := NewLockManager()
	key := HoldingKey(1, "BTC")

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), key)
			if err != nil {
				return
			}
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, counter)
}

func TestHoldingKeyNormalizesCase(t *testing.T) {
	assert.Equal(t, HoldingKey(1, "btc"), HoldingKey(1, "BTC"))
}
