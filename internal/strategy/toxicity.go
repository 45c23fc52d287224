package strategy

import (
	"math"
	"sync"
	"time"

	"github.com/nullma/ttquant/pkg/types"
)

// Fill is one recent trade observed by a FlowTracker.
type Fill struct {
	Timestamp time.Time
	Side      types.Side
	Symbol    string
	Price     float64
	Volume    int64
	TradeID   string
}

// ToxicityMetrics contains calculated adverse-selection indicators.
type ToxicityMetrics struct {
	DirectionalImbalance float64 // [0, 1]: % of fills in dominant direction
	FillVelocity         float64 // fills per minute
	ToxicityScore        float64 // [0, 1]: composite toxicity score
	IsAverse             bool    // true if likely getting adversely selected
}

// FlowTracker tracks recent fills in a rolling time window to detect toxic
// flow: a run of fills consistently in one direction, which suggests
// informed counterparties picking off stale quotes right before a move.
// Advisory only — it never gates an order; a strategy may consult it to
// widen its own spread or shrink its own size, nothing more.
type FlowTracker struct {
	mu sync.RWMutex

	windowDuration time.Duration
	fills          []Fill

	toxicityThreshold float64
	cooldownPeriod    time.Duration
	maxSpreadMultiple float64

	lastToxicTime time.Time
}

// NewFlowTracker creates a flow tracker with the given configuration.
func NewFlowTracker(windowDuration time.Duration, toxicityThreshold float64, cooldownPeriod time.Duration, maxSpreadMultiple float64) *FlowTracker {
	return &FlowTracker{
		windowDuration:    windowDuration,
		fills:             make([]Fill, 0, 100),
		toxicityThreshold: toxicityThreshold,
		cooldownPeriod:    cooldownPeriod,
		maxSpreadMultiple: maxSpreadMultiple,
	}
}

// AddFill adds a new fill to the tracker and evicts stale entries outside
// the window.
func (ft *FlowTracker) AddFill(fill Fill) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	ft.fills = append(ft.fills, fill)
	ft.evictStaleLocked()
}

// evictStaleLocked removes fills older than the window duration. Caller
// must hold mu.
func (ft *FlowTracker) evictStaleLocked() {
	if len(ft.fills) == 0 {
		return
	}

	cutoff := time.Now().Add(-ft.windowDuration)
	validIdx := -1
	for i, fill := range ft.fills {
		if fill.Timestamp.After(cutoff) {
			validIdx = i
			break
		}
	}

	if validIdx == -1 {
		ft.fills = ft.fills[:0]
		return
	}
	if validIdx > 0 {
		ft.fills = ft.fills[validIdx:]
	}
}

// CalculateToxicity computes adverse-selection metrics from recent fills.
func (ft *FlowTracker) CalculateToxicity() ToxicityMetrics {
	ft.mu.Lock()
	ft.evictStaleLocked()
	ft.mu.Unlock()

	ft.mu.RLock()
	defer ft.mu.RUnlock()

	if len(ft.fills) == 0 {
		return ToxicityMetrics{}
	}

	var buyCount, sellCount int
	for _, fill := range ft.fills {
		if fill.Side == types.BUY {
			buyCount++
		} else {
			sellCount++
		}
	}

	totalFills := len(ft.fills)
	dominant := math.Max(float64(buyCount), float64(sellCount))
	directionalImbalance := dominant / float64(totalFills)

	if len(ft.fills) < 2 {
		return ToxicityMetrics{
			DirectionalImbalance: directionalImbalance,
			FillVelocity:         0,
			ToxicityScore:        directionalImbalance * 0.6,
			IsAverse:             directionalImbalance > ft.toxicityThreshold,
		}
	}

	windowDurationMinutes := ft.windowDuration.Minutes()
	fillVelocity := float64(totalFills) / windowDurationMinutes

	// Normalize velocity: >3 fills/min counts as maximal burst pressure.
	velocityFactor := math.Min(fillVelocity/3.0, 1.0)

	// 60% weight on directional imbalance, 40% on fill velocity.
	toxicityScore := 0.6*directionalImbalance + 0.4*velocityFactor

	return ToxicityMetrics{
		DirectionalImbalance: directionalImbalance,
		FillVelocity:         fillVelocity,
		ToxicityScore:        toxicityScore,
		IsAverse:             toxicityScore > ft.toxicityThreshold,
	}
}

// GetSpreadMultiplier returns the spread multiplier a strategy may apply
// based on current toxicity: 1.0 under normal conditions, up to
// maxSpreadMultiple when toxic, decaying back to 1.0 over the cooldown.
func (ft *FlowTracker) GetSpreadMultiplier() float64 {
	metrics := ft.CalculateToxicity()

	if metrics.IsAverse {
		ft.mu.Lock()
		ft.lastToxicTime = time.Now()
		ft.mu.Unlock()
	}

	ft.mu.RLock()
	inCooldown := time.Since(ft.lastToxicTime) < ft.cooldownPeriod
	ft.mu.RUnlock()

	if !metrics.IsAverse && !inCooldown {
		return 1.0
	}

	if metrics.ToxicityScore < ft.toxicityThreshold {
		timeSinceToxic := time.Since(ft.lastToxicTime).Seconds()
		cooldownSeconds := ft.cooldownPeriod.Seconds()
		cooldownProgress := math.Min(timeSinceToxic/cooldownSeconds, 1.0)
		return 1.0 + (ft.maxSpreadMultiple-1.0)*(1.0-cooldownProgress)
	}

	normalizedScore := (metrics.ToxicityScore - ft.toxicityThreshold) / (1.0 - ft.toxicityThreshold)
	return 1.0 + (ft.maxSpreadMultiple-1.0)*math.Min(normalizedScore*2.0, 1.0)
}

// IsFlowToxic reports whether current flow shows adverse selection.
func (ft *FlowTracker) IsFlowToxic() bool {
	return ft.CalculateToxicity().IsAverse
}

// GetFillCount returns the number of fills in the current window.
func (ft *FlowTracker) GetFillCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.evictStaleLocked()
	return len(ft.fills)
}
