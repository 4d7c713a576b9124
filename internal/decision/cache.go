package decision

import (
	"sort"
	"sync"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

// Cache keeps the last decision per symbol. The aggregator is its only
// writer; any number of readers may call Get and All.
type Cache struct {
	mu        sync.RWMutex
	decisions map[string]*trading.TradingDecision
}

// NewCache creates an empty decision cache.
func NewCache() *Cache {
	return &Cache{decisions: make(map[string]*trading.TradingDecision)}
}

func (c *Cache) put(d *trading.TradingDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions[d.Symbol] = d
}

// Get returns the last decision for symbol.
func (c *Cache) Get(symbol string) (*trading.TradingDecision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.decisions[symbol]
	return d, ok
}

// All returns the cached decisions ordered by symbol.
func (c *Cache) All() []*trading.TradingDecision {
	c.mu.RLock()
	out := make([]*trading.TradingDecision, 0, len(c.decisions))
	for _, d := range c.decisions {
		out = append(out, d)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of cached symbols.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.decisions)
}
