package oauth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingFlowStore_TakeIsSingleUse(t *testing.T) {
	s := NewPendingFlowStore(0)
	defer s.Stop()

	s.Store(&PendingFlow{State: "abc", ProviderID: "google", ServerID: "gmail", StartedAt: time.Now()})
	assert.True(t, s.Has("abc"))
	assert.Equal(t, 1, s.Len())

	flow, ok := s.Take("abc")
	require.True(t, ok)
	assert.Equal(t, "gmail", flow.ServerID)

	_, ok = s.Take("abc")
	assert.False(t, ok)
	assert.False(t, s.Has("abc"))
	assert.Equal(t, 0, s.Len())
}

func TestPendingFlowStore_UnknownState(t *testing.T) {
	s := NewPendingFlowStore(0)
	defer s.Stop()

	_, ok := s.Take("missing")
	assert.False(t, ok)
}

func TestPendingFlowStore_ConcurrentTakeMatchesOnce(t *testing.T) {
	s := NewPendingFlowStore(0)
	defer s.Stop()
	s.Store(&PendingFlow{State: "race", StartedAt: time.Now()})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Take("race"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestPendingFlowStore_TTL(t *testing.T) {
	s := NewPendingFlowStore(10 * time.Minute)
	defer s.Stop()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Store(&PendingFlow{State: "old", StartedAt: now.Add(-11 * time.Minute)})
	s.Store(&PendingFlow{State: "fresh", StartedAt: now.Add(-time.Minute)})

	assert.False(t, s.Has("old"))
	assert.True(t, s.Has("fresh"))

	_, ok := s.Take("old")
	assert.False(t, ok, "expired flow must not be claimable")

	s.Store(&PendingFlow{State: "old2", StartedAt: now.Add(-time.Hour)})
	s.cleanup()
	assert.Equal(t, 1, s.Len())

	_, ok = s.Take("fresh")
	assert.True(t, ok)
}

func TestPendingFlowStore_ZeroTTLNeverExpires(t *testing.T) {
	s := NewPendingFlowStore(0)
	defer s.Stop()

	s.Store(&PendingFlow{State: "ancient", StartedAt: time.Now().Add(-24 * time.Hour)})
	s.cleanup()

	_, ok := s.Take("ancient")
	assert.True(t, ok)
}

func TestPendingFlowStore_StopIsIdempotent(t *testing.T) {
	s := NewPendingFlowStore(time.Minute)
	s.Stop()
	s.Stop()
}
