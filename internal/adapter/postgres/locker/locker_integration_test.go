//go:build integration

package locker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pglocker "github.com/alanyang/domain-server/internal/adapter/postgres/locker"
	"github.com/alanyang/domain-server/internal/testutil"
)

func TestWithLock_Serialises(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	l := pglocker.New(pool)
	key := pglocker.Key(t.Name())

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), key, func(context.Context) error {
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(20 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load())
}

func TestKey_Stable(t *testing.T) {
	require.Equal(t, pglocker.Key("migrations"), pglocker.Key("migrations"))
	assert.NotEqual(t, pglocker.Key("migrations"), pglocker.Key("other"))
}
