package cache

import (
	"time"

	"github.com/fractal-lba/bayesbandit/pkg/bandit"
)

// PendingTickets is a bounded bandit.PendingStore. Tickets whose reward never
// arrives expire after the TTL or are evicted once size tickets are pending.
type PendingTickets struct {
	lru *LRUWithTTL[string, string]
}

var _ bandit.PendingStore = (*PendingTickets)(nil)

// NewPendingTickets creates a ticket store holding at most size tickets
func NewPendingTickets(size int, ttl time.Duration) (*PendingTickets, error) {
	c, err := NewLRUWithTTL[string, string](size, ttl)
	if err != nil {
		return nil, err
	}
	return &PendingTickets{lru: c}, nil
}

func (p *PendingTickets) Put(ticket, arm string) {
	p.lru.Set(ticket, arm)
}

func (p *PendingTickets) Peek(ticket string) (string, bool) {
	return p.lru.Peek(ticket)
}

func (p *PendingTickets) Take(ticket string) (string, bool) {
	return p.lru.Take(ticket)
}

func (p *PendingTickets) Entries() map[string]string {
	return p.lru.Snapshot()
}

func (p *PendingTickets) Len() int {
	p.lru.CleanupExpired()
	return p.lru.Len()
}

// Stats reports ticket hits, misses, evictions and expiries
func (p *PendingTickets) Stats() Stats {
	return p.lru.Stats()
}
