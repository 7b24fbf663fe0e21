package chain

import (
	"context"
	"sync"

	"PoolIndexer/internal/event"
)

// ContractRegistry subscribes a newly created contract address to the
// upstream event source. Register may be called again for an address
// after a failed commit and must not duplicate the subscription.
type ContractRegistry interface {
	Register(ctx context.Context, kind event.PoolKind, address string, block uint64) error
}

// Registration is one recorded Register call.
type Registration struct {
	Kind    event.PoolKind
	Address string
	Block   uint64
}

// MemoryRegistry records registrations in process.
type MemoryRegistry struct {
	mu   sync.Mutex
	regs []Registration
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{}
}

// Register records address once; repeats are ignored.
func (m *MemoryRegistry) Register(_ context.Context, kind event.PoolKind, address string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regs {
		if r.Kind == kind && r.Address == address {
			return nil
		}
	}
	m.regs = append(m.regs, Registration{Kind: kind, Address: address, Block: block})
	return nil
}

func (m *MemoryRegistry) Registrations() []Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Registration(nil), m.regs...)
}
