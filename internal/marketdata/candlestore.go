package marketdata

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// DefaultMaxCandles is CandleStore's default per-symbol ring capacity
// (spec.md §4.1, config key maxCandlesPerSymbol).
const DefaultMaxCandles = 10000

// CandleStore is the exclusive owner of M1 candles for every symbol
// (spec.md §3 ownership). It is a per-symbol bounded ring: addCandle drops
// the oldest bar on overflow. Readers receive a defensive copy of the tail.
type CandleStore struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	capacity int
	bars     map[string][]types.Candle
}

// NewCandleStore builds a CandleStore with the given per-symbol capacity.
func NewCandleStore(logger *zap.Logger, capacity int) *CandleStore {
	if capacity <= 0 {
		capacity = DefaultMaxCandles
	}
	return &CandleStore{
		logger:   logger.Named("candle-store"),
		capacity: capacity,
		bars:     make(map[string][]types.Candle),
	}
}

// AddCandle appends an M1 bar for symbol, dropping the oldest bar if the
// ring is at capacity. Writes are serialized per-symbol by the caller
// (CandleBuilder processes ticks for one symbol in arrival order).
func (s *CandleStore) AddCandle(symbol string, c types.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bars := s.bars[symbol]
	bars = append(bars, c)
	if len(bars) > s.capacity {
		bars = bars[len(bars)-s.capacity:]
	}
	s.bars[symbol] = bars
}

// AddBackfill inserts a batch of ascending-time M1 bars, as produced by
// HistoricalBackfill. Overlap with live ticks is tolerated: the ring keeps
// only the most recent `capacity` bars regardless of insertion order, so a
// late-arriving backfill batch never displaces a newer live bar as long as
// both sides respect ascending-time insertion (spec.md §4.1).
func (s *CandleStore) AddBackfill(symbol string, bars []types.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.bars[symbol]
	merged := make([]types.Candle, 0, len(existing)+len(bars))
	merged = append(merged, bars...)
	merged = append(merged, existing...)
	if len(merged) > s.capacity {
		merged = merged[len(merged)-s.capacity:]
	}
	s.bars[symbol] = merged
}

// Recent returns up to `limit` most-recent M1 candles for symbol, ascending,
// as a defensive copy (spec.md §3 ownership, §4.1 contract).
func (s *CandleStore) Recent(symbol string, limit int) []types.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.bars[symbol]
	if limit <= 0 || limit > len(bars) {
		limit = len(bars)
	}
	out := make([]types.Candle, limit)
	copy(out, bars[len(bars)-limit:])
	return out
}

// Len returns the number of M1 candles currently held for symbol.
func (s *CandleStore) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars[symbol])
}

// LastCloseTime returns the end time of the most recent candle, or the
// zero time if none exist yet.
func (s *CandleStore) LastCloseTime(symbol string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars := s.bars[symbol]
	if len(bars) == 0 {
		return time.Time{}
	}
	return bars[len(bars)-1].EndTime
}
