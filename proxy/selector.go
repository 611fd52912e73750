package proxy

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Selector picks an endpoint per outbound request.
// Thread-safe for concurrent access.
type Selector struct {
	mu        sync.Mutex
	endpoints []*url.URL
	strategy  Strategy
	ttl       time.Duration
	rrIndex   int64
	sticky    map[string]*stickyEntry
	nextSweep time.Time
	now       func() time.Time
}

// stickyEntry holds a sticky assignment with optional expiry.
type stickyEntry struct {
	endpointIdx int
	expiresAt   time.Time
}

// NewSelector validates pool and returns a selector over it.
func NewSelector(pool Pool) (*Selector, error) {
	if err := pool.Validate(); err != nil {
		return nil, fmt.Errorf("pool validation failed: %w", err)
	}
	strategy, _ := ParseStrategy(string(pool.Strategy))
	endpoints := make([]*url.URL, len(pool.Endpoints))
	for i, raw := range pool.Endpoints {
		endpoints[i], _ = parseEndpoint(raw)
	}
	return &Selector{
		endpoints: endpoints,
		strategy:  strategy,
		ttl:       pool.StickyTTL,
		sticky:    make(map[string]*stickyEntry),
		now:       time.Now,
	}, nil
}

// Select returns the endpoint for a request. key is the sticky key and is
// ignored by the other strategies.
func (s *Selector) Select(key string) (*url.URL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx int
	var err error
	switch s.strategy {
	case StrategyRoundRobin:
		idx = int(s.rrIndex % int64(len(s.endpoints)))
		s.rrIndex++
	case StrategyRandom:
		idx, err = s.randomIndex()
	default:
		idx, err = s.stickyIndex(key)
	}
	if err != nil {
		return nil, err
	}
	// Callers may mutate the result.
	ep := *s.endpoints[idx]
	return &ep, nil
}

func (s *Selector) randomIndex() (int, error) {
	n := len(s.endpoints)
	if n == 1 {
		return 0, nil
	}
	bigIdx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random selection failed: %w", err)
	}
	return int(bigIdx.Int64()), nil
}

// stickyIndex reuses a live assignment or makes a new random one.
func (s *Selector) stickyIndex(key string) (int, error) {
	now := s.now()
	if entry, ok := s.sticky[key]; ok {
		if entry.expiresAt.IsZero() || entry.expiresAt.After(now) {
			return entry.endpointIdx, nil
		}
		delete(s.sticky, key)
	}

	idx, err := s.randomIndex()
	if err != nil {
		return 0, err
	}
	entry := &stickyEntry{endpointIdx: idx}
	if s.ttl > 0 {
		entry.expiresAt = now.Add(s.ttl)
		// Origins that are never requested again would otherwise stay
		// forever. Sweeping at most once per ttl bounds the map to the
		// origins seen in the last two ttls.
		if !now.Before(s.nextSweep) {
			s.cleanExpired(now)
			s.nextSweep = now.Add(s.ttl)
		}
	}
	s.sticky[key] = entry
	return idx, nil
}

// ProxyFunc adapts the selector to http.Transport.Proxy. Sticky keys are the
// request origin (scheme and host).
func (s *Selector) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		return s.Select(Origin(req.URL))
	}
}

// Origin returns scheme://host[:port] of u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// Stats is a point-in-time view of selector state.
type Stats struct {
	Endpoints       int
	RoundRobinIndex int64
	StickyEntries   int
}

// Stats returns selector statistics.
func (s *Selector) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Endpoints:       len(s.endpoints),
		RoundRobinIndex: s.rrIndex,
		StickyEntries:   len(s.sticky),
	}
}

// CleanExpired removes expired sticky entries and returns how many it
// removed. Select already sweeps when it assigns a new key.
func (s *Selector) CleanExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanExpired(s.now())
}

func (s *Selector) cleanExpired(now time.Time) int {
	removed := 0
	for key, entry := range s.sticky {
		if !entry.expiresAt.IsZero() && !entry.expiresAt.After(now) {
			delete(s.sticky, key)
			removed++
		}
	}
	return removed
}
