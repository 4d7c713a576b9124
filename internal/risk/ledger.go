package risk

import (
	"sync"
)

// Ledger tracks total capital and the share committed to live positions.
// The orchestration loop is its only writer.
type Ledger struct {
	mu        sync.RWMutex
	total     float64
	committed map[string]float64
}

// NewLedger creates a ledger with an initial total.
func NewLedger(total float64) *Ledger {
	return &Ledger{total: total, committed: make(map[string]float64)}
}

// SetTotal replaces total capital, typically from the wallet balance.
func (l *Ledger) SetTotal(total float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = total
}

// Commit records capital held by a live position on symbol.
func (l *Ledger) Commit(symbol string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed[symbol] = amount
}

// Release frees the capital of symbol.
func (l *Ledger) Release(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.committed, symbol)
}

// Reset replaces every commitment at once.
func (l *Ledger) Reset(commitments map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = make(map[string]float64, len(commitments))
	for k, v := range commitments {
		l.committed[k] = v
	}
}

// Total returns total capital.
func (l *Ledger) Total() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Committed returns the sum of live commitments.
func (l *Ledger) Committed() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sum := 0.0
	for _, v := range l.committed {
		sum += v
	}
	return sum
}

// Available returns total minus committed, floored at zero.
func (l *Ledger) Available() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	avail := l.total
	for _, v := range l.committed {
		avail -= v
	}
	if avail < 0 {
		return 0
	}
	return avail
}
