package execution

import (
	"fmt"
	"maps"
	"strings"
	"sync/atomic"

	"tradecore/internal/domain"
	"tradecore/pkg/quant"
)

// Clock supplies the current time. Backtests inject the simulated clock.
type Clock func() quant.UnixNanos

// ClientOrderIDGenerator produces ids of the form O-YYYYMMDD-HHMMSS-TRADER-STRATEGY-N.
type ClientOrderIDGenerator struct {
	traderTag   string
	strategyTag string
	clock       Clock
	count       uint64
}

func NewClientOrderIDGenerator(trader domain.TraderID, strategy domain.StrategyID, clock Clock, initialCount uint64) *ClientOrderIDGenerator {
	return &ClientOrderIDGenerator{
		traderTag:   tag(string(trader)),
		strategyTag: tag(string(strategy)),
		clock:       clock,
		count:       initialCount,
	}
}

func (g *ClientOrderIDGenerator) Generate() domain.ClientOrderID {
	n := quant.NextSeq(&g.count)
	return domain.ClientOrderID(fmt.Sprintf("O-%s-%s-%s-%d", datetimeTag(g.clock()), g.traderTag, g.strategyTag, n))
}

func (g *ClientOrderIDGenerator) Count() uint64 { return atomic.LoadUint64(&g.count) }

// SetCount resumes numbering, e.g. after recovering orders from storage.
func (g *ClientOrderIDGenerator) SetCount(n uint64) { atomic.StoreUint64(&g.count, n) }

func (g *ClientOrderIDGenerator) Reset() { g.SetCount(0) }

// PositionIDGenerator produces ids of the form P-YYYYMMDD-HHMMSS-TRADER-STRATEGY-N,
// counting per strategy.
type PositionIDGenerator struct {
	traderTag string
	clock     Clock
	counts    map[domain.StrategyID]uint64
}

func NewPositionIDGenerator(trader domain.TraderID, clock Clock) *PositionIDGenerator {
	return &PositionIDGenerator{
		traderTag: tag(string(trader)),
		clock:     clock,
		counts:    make(map[domain.StrategyID]uint64),
	}
}

// Generate is not safe for concurrent use; the sequencer is its only caller.
func (g *PositionIDGenerator) Generate(strategy domain.StrategyID) domain.PositionID {
	g.counts[strategy]++
	return domain.PositionID(fmt.Sprintf("P-%s-%s-%s-%d",
		datetimeTag(g.clock()), g.traderTag, tag(string(strategy)), g.counts[strategy]))
}

func (g *PositionIDGenerator) Count(strategy domain.StrategyID) uint64 { return g.counts[strategy] }

func (g *PositionIDGenerator) SetCount(strategy domain.StrategyID, n uint64) { g.counts[strategy] = n }

// Counts copies the per-strategy counters, e.g. into a snapshot.
func (g *PositionIDGenerator) Counts() map[domain.StrategyID]uint64 {
	return maps.Clone(g.counts)
}

func (g *PositionIDGenerator) Reset() { clear(g.counts) }

// tag returns the part after the last dash: TRADER-001 -> 001.
func tag(id string) string {
	if i := strings.LastIndexByte(id, '-'); i >= 0 && i < len(id)-1 {
		return id[i+1:]
	}
	return id
}

func datetimeTag(ts quant.UnixNanos) string {
	return ts.Time().Format("20060102-150405")
}
