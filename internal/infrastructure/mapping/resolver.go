// Package mapping provides the static, in-memory implementation of the
// operation-to-process mapping resolver.
package mapping

import (
	"context"
	"sync"

	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/core/ports"
)

// Rule is one configured operation binding. Empty ProductID or Channel
// matches any value for that dimension; an empty TenantID matches all
// tenants. More specific rules win.
type Rule struct {
	TenantID    string
	OperationID string
	ProductID   string
	Channel     string

	ProcessID string
	Version   string
}

// specificity counts the dimensions a rule pins down.
func (r Rule) specificity() int {
	n := 0
	if r.TenantID != "" {
		n++
	}
	if r.ProductID != "" {
		n++
	}
	if r.Channel != "" {
		n++
	}
	return n
}

func (r Rule) matches(tenantID, operationID, productID, channel string) bool {
	if r.OperationID != operationID {
		return false
	}
	if r.TenantID != "" && r.TenantID != tenantID {
		return false
	}
	if r.ProductID != "" && r.ProductID != productID {
		return false
	}
	if r.Channel != "" && r.Channel != channel {
		return false
	}
	return true
}

// StaticResolver resolves mappings from configured rules, memoizing
// resolutions per tenant until invalidated.
type StaticResolver struct {
	mu    sync.RWMutex
	rules []Rule
	cache map[string]process.Mapping
}

// NewStaticResolver creates a resolver over the given rules.
func NewStaticResolver(rules ...Rule) *StaticResolver {
	return &StaticResolver{
		rules: rules,
		cache: make(map[string]process.Mapping),
	}
}

// AddRule appends a rule and drops the memoized resolutions.
func (s *StaticResolver) AddRule(rule Rule) {
	s.mu.Lock()
	s.rules = append(s.rules, rule)
	s.cache = make(map[string]process.Mapping)
	s.mu.Unlock()
}

// Resolve picks the most specific matching rule for the request dimensions.
func (s *StaticResolver) Resolve(ctx context.Context, tenantID, operationID, productID, channel string) (process.Mapping, bool, error) {
	key := tenantID + "\x00" + operationID + "\x00" + productID + "\x00" + channel

	s.mu.RLock()
	if cached, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return cached, true, nil
	}

	var best *Rule
	for i := range s.rules {
		r := &s.rules[i]
		if !r.matches(tenantID, operationID, productID, channel) {
			continue
		}
		if best == nil || r.specificity() > best.specificity() {
			best = r
		}
	}
	s.mu.RUnlock()

	if best == nil {
		return process.Mapping{}, false, nil
	}

	resolved := process.Mapping{
		OperationID: operationID,
		TenantID:    tenantID,
		ProductID:   productID,
		Channel:     channel,
		ProcessID:   best.ProcessID,
		Version:     best.Version,
	}

	s.mu.Lock()
	s.cache[key] = resolved
	s.mu.Unlock()
	return resolved, true, nil
}

// Invalidate drops memoized resolutions for one tenant, or all of them when
// tenantID is empty.
func (s *StaticResolver) Invalidate(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tenantID == "" {
		s.cache = make(map[string]process.Mapping)
		return
	}
	prefix := tenantID + "\x00"
	for key := range s.cache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.cache, key)
		}
	}
}

var _ ports.MappingResolver = (*StaticResolver)(nil)
