package api

// StrategyKind enumerates the five strategy families spec.md's GLOSSARY
// names (DCA / ValueAveraging / FixedBalance / LimitOrder / SelfHedging).
// The core treats a kind opaquely beyond selecting a code image (spec.md
// §6); the set exists here only so C10's per-kind endpoints share one
// validation path instead of five copy-pasted handlers.
type StrategyKind string

const (
	KindDCA            StrategyKind = "dca"
	KindValueAveraging StrategyKind = "value_averaging"
	KindFixedBalance   StrategyKind = "fixed_balance"
	KindLimitOrder     StrategyKind = "limit_order"
	KindSelfHedging    StrategyKind = "self_hedging"
)

// strategyKinds lists every kind C10 exposes a request_<kind>_strategy
// endpoint for (spec.md §6, "Deployment request (one per strategy kind)").
var strategyKinds = []StrategyKind{
	KindDCA,
	KindValueAveraging,
	KindFixedBalance,
	KindLimitOrder,
	KindSelfHedging,
}

func (k StrategyKind) valid() bool {
	for _, kind := range strategyKinds {
		if kind == k {
			return true
		}
	}
	return false
}
