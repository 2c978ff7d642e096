package oauth

import (
	"sync"
	"time"

	"harbor-bridge/pkg/logging"
)

// pendingSweepInterval is how often expired flows are swept when a TTL is set.
const pendingSweepInterval = time.Minute

// PendingFlowStore holds in-flight authorization attempts keyed by state.
//
// A flow is claimed at most once: Take removes it under the same lock that
// finds it. With a zero TTL flows that never see a callback stay until the
// process exits.
type PendingFlowStore struct {
	mu    sync.RWMutex
	flows map[string]*PendingFlow

	ttl      time.Duration
	now      func() time.Time
	stopOnce sync.Once
	stop     chan struct{}
}

// NewPendingFlowStore creates a store. A positive ttl starts a background
// sweep that drops flows older than ttl; call Stop to end it.
func NewPendingFlowStore(ttl time.Duration) *PendingFlowStore {
	s := &PendingFlowStore{
		flows: make(map[string]*PendingFlow),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	if ttl > 0 {
		go s.cleanupLoop()
	}

	return s
}

// Store registers a flow under its state, replacing any flow with the same state.
func (s *PendingFlowStore) Store(flow *PendingFlow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[flow.State] = flow
	logging.Debug("OAuth", "Registered pending flow state=%s provider=%s server=%s",
		logging.TruncateID(flow.State), flow.ProviderID, flow.ServerID)
}

// Take removes and returns the flow for state. A flow past its TTL is
// removed and reported as absent.
func (s *PendingFlowStore) Take(state string) (*PendingFlow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[state]
	if !ok {
		return nil, false
	}
	delete(s.flows, state)

	if s.expired(flow) {
		logging.Debug("OAuth", "Pending flow state=%s expired after %v",
			logging.TruncateID(state), s.now().Sub(flow.StartedAt))
		return nil, false
	}
	return flow, true
}

// Has reports whether a flow is pending for state, without claiming it.
func (s *PendingFlowStore) Has(state string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flow, ok := s.flows[state]
	return ok && !s.expired(flow)
}

// Len returns the number of pending flows.
func (s *PendingFlowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}

// Stop ends the background sweep. It is safe to call more than once.
func (s *PendingFlowStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *PendingFlowStore) expired(flow *PendingFlow) bool {
	return s.ttl > 0 && s.now().Sub(flow.StartedAt) > s.ttl
}

// cleanupLoop periodically removes expired flows from the store.
func (s *PendingFlowStore) cleanupLoop() {
	ticker := time.NewTicker(pendingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}

// cleanup removes all expired flows from the store.
func (s *PendingFlowStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for state, flow := range s.flows {
		if s.expired(flow) {
			delete(s.flows, state)
			count++
		}
	}

	if count > 0 {
		logging.Debug("OAuth", "Cleaned up %d expired pending flows", count)
	}
}
