package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// PolicyStore holds per-host politeness overrides.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]crawler.DomainPolicy
}

// NewPolicyStore constructs a PolicyStore seeded with policies.
func NewPolicyStore(policies ...crawler.DomainPolicy) *PolicyStore {
	s := &PolicyStore{policies: make(map[string]crawler.DomainPolicy)}
	for _, p := range policies {
		s.policies[strings.ToLower(p.Host)] = p
	}
	return s
}

// PutPolicy creates or replaces the policy for p.Host.
func (s *PolicyStore) PutPolicy(_ context.Context, p crawler.DomainPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Host = strings.ToLower(p.Host)
	s.policies[p.Host] = p
	return nil
}

// PolicyFor returns the stored policy for host.
func (s *PolicyStore) PolicyFor(_ context.Context, host string) (crawler.DomainPolicy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[strings.ToLower(host)]
	return p, ok, nil
}
