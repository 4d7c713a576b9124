package orchestrator

import (
	"sync"
	"time"
)

// Pacer owns the per-symbol cooldown map and the UTC day trade counter.
// The orchestration loop is its only writer.
type Pacer struct {
	cooldown time.Duration
	target   int
	maxDelay time.Duration

	mu          sync.Mutex
	day         time.Time
	tradesToday int
	lastTrade   map[string]time.Time
	nextEntryAt time.Time
}

// NewPacer creates a pacer. A zero target disables pacing; a zero maxDelay
// leaves the pacing interval uncapped.
func NewPacer(cooldown time.Duration, dailyTarget int, maxDelay time.Duration) *Pacer {
	return &Pacer{
		cooldown:  cooldown,
		target:    dailyTarget,
		maxDelay:  maxDelay,
		lastTrade: make(map[string]time.Time),
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// rollover resets the day counter at UTC midnight. Caller holds mu.
func (p *Pacer) rollover(now time.Time) {
	day := startOfDay(now)
	if day.Equal(p.day) {
		return
	}
	p.day = day
	p.tradesToday = 0
	p.nextEntryAt = time.Time{}
}

// Cooldown returns the time left before symbol may be re-entered.
func (p *Pacer) Cooldown(symbol string, now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastTrade[symbol]
	if !ok {
		return 0
	}
	if left := last.Add(p.cooldown).Sub(now); left > 0 {
		return left
	}
	return 0
}

// MarkTrade starts the cooldown window of symbol at now.
func (p *Pacer) MarkTrade(symbol string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastTrade[symbol] = now
}

// RecordEntry counts a successful entry, starts its cooldown, and sets the
// earliest time for the next entry when trading ahead of the daily target.
func (p *Pacer) RecordEntry(symbol string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover(now)
	p.lastTrade[symbol] = now
	p.tradesToday++
	p.nextEntryAt = time.Time{}

	if p.target <= 0 || p.tradesToday >= p.target {
		return
	}
	day := startOfDay(now)
	elapsed := now.Sub(day)
	expected := float64(p.target) * elapsed.Hours() / 24
	if float64(p.tradesToday) <= expected {
		return
	}

	remaining := day.Add(24 * time.Hour).Sub(now)
	delay := remaining / time.Duration(p.target-p.tradesToday)
	if p.maxDelay > 0 && delay > p.maxDelay {
		delay = p.maxDelay
	}
	p.nextEntryAt = now.Add(delay)
}

// Deferred reports whether a new entry at now should wait for pacing, and
// until when. It never blocks once the day's target is met.
func (p *Pacer) Deferred(now time.Time) (bool, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover(now)
	if p.nextEntryAt.IsZero() || !now.Before(p.nextEntryAt) {
		return false, time.Time{}
	}
	return true, p.nextEntryAt
}

// TradesToday returns the number of entries in the current UTC day.
func (p *Pacer) TradesToday(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover(now)
	return p.tradesToday
}
