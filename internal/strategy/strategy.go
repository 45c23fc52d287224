// Package strategy implements the Strategy Runtime (C5): the capability
// interface every trading strategy implements, the gateway handle strategies
// use to emit orders, and an insertion-ordered registry the engines drive.
package strategy

import (
	"fmt"
	"sync/atomic"

	"github.com/nullma/ttquant/internal/ledger"
	"github.com/nullma/ttquant/pkg/types"
)

// Strategy is the capability set every strategy implements. Callbacks must
// not block; the engine assumes cooperative, synchronous returns and drives
// every strategy from a single goroutine.
//
// Portfolio exposes the strategy's own ledger so an engine can Mark it on
// every tick and ApplyTrade on every fill without reaching into strategy
// internals; the strategy never mutates another strategy's portfolio.
type Strategy interface {
	ID() string
	OnMarketData(md *types.MarketData)
	OnTrade(trade *types.Trade)
	Portfolio() *ledger.Portfolio
}

// OrderSink is the only channel a strategy may use to emit an order. It
// never touches a socket directly; the Live Push-Producer gateway and the
// Backtest Engine are its two implementations.
type OrderSink interface {
	SendOrder(order types.Order) error
}

// Registry holds strategies in insertion order so every iteration over them
// (tick dispatch, report generation) is deterministic.
type Registry struct {
	ids   []string
	byID  map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Strategy)}
}

// Register adds a strategy. Registering the same ID twice replaces it in
// place without disturbing its position in iteration order.
func (r *Registry) Register(s Strategy) {
	id := s.ID()
	if _, exists := r.byID[id]; !exists {
		r.ids = append(r.ids, id)
	}
	r.byID[id] = s
}

// Get looks up a strategy by ID.
func (r *Registry) Get(id string) (Strategy, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// All returns every registered strategy in registration order.
func (r *Registry) All() []Strategy {
	out := make([]Strategy, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns the registered strategy identifiers in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// orderSeq is a process-wide monotonic counter used to build order IDs. A
// package-level atomic keeps IDs unique across every strategy instance
// without each one needing its own counter plumbing.
var orderSeq uint64

// NextOrderID produces a "{strategyID}_{monotonic}" identifier, unique for
// the life of the process.
func NextOrderID(strategyID string) string {
	n := atomic.AddUint64(&orderSeq, 1)
	return fmt.Sprintf("%s_%d", strategyID, n)
}
