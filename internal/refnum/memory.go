package refnum

import (
	"context"
	"fmt"
	"sync"
)

// MemoryGenerator is an in-process Generator used by tests and tooling.
type MemoryGenerator struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryGenerator builds an empty in-memory generator.
func NewMemoryGenerator() *MemoryGenerator {
	return &MemoryGenerator{counters: make(map[string]int64)}
}

// Next increments the tenant/family counter and formats the number.
func (g *MemoryGenerator) Next(ctx context.Context, tenantID int64, family Family) (string, error) {
	if !validFamily(family) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	key := fmt.Sprintf("%d:%s", tenantID, family)
	g.counters[key]++
	return Format(family, g.counters[key]), nil
}
