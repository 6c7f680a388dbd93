package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PortfolioLimitError rejects a new position at admission time. It is reported
// to the caller and never retried.
type PortfolioLimitError struct {
	Reason string
}

func (e *PortfolioLimitError) Error() string {
	return fmt.Sprintf("portfolio limit exceeded: %s", e.Reason)
}

// OpenTrade is the aggregate admission view of one already-open position.
type OpenTrade struct {
	Symbol     string
	RiskAmount decimal.Decimal
}

// CorrelationFn decides whether two symbols are materially correlated. The
// data source is pluggable; SameGroup is the static-table default.
type CorrelationFn func(a, b string) bool

// correlationGroups is a static grouping table. Symbols sharing a group are
// treated as one exposure for admission purposes.
var correlationGroups = map[string]string{
	"BTCUSDT":  "majors",
	"ETHUSDT":  "majors",
	"BNBUSDT":  "majors",
	"SOLUSDT":  "l1",
	"ADAUSDT":  "l1",
	"DOTUSDT":  "l1",
	"AVAXUSDT": "l1",
	"DOGEUSDT": "meme",
	"SHIBUSDT": "meme",
	"PEPEUSDT": "meme",
}

// SameGroup reports whether both symbols belong to the same static correlation
// group. Unknown symbols are never considered correlated.
func SameGroup(a, b string) bool {
	ga, oka := correlationGroups[strings.ToUpper(a)]
	gb, okb := correlationGroups[strings.ToUpper(b)]
	return oka && okb && ga == gb
}

// Admit decides whether a new trade with the given risk amount may be opened.
// It rejects when the open-position count is already at the limit, when the
// aggregate at-risk capital would exceed the portfolio ceiling, or when the
// symbol is correlated with an already-open one.
func Admit(symbol string, riskAmount decimal.Decimal, cfg Snapshot, equity decimal.Decimal, open []OpenTrade, correlated CorrelationFn) error {
	if len(open) >= cfg.MaxOpenTrades {
		return &PortfolioLimitError{
			Reason: fmt.Sprintf("open trades already at maximum %d", cfg.MaxOpenTrades),
		}
	}

	if correlated == nil {
		correlated = SameGroup
	}

	aggregate := riskAmount
	for _, t := range open {
		if strings.EqualFold(t.Symbol, symbol) {
			return &PortfolioLimitError{
				Reason: fmt.Sprintf("position for %s already open", t.Symbol),
			}
		}
		if correlated(t.Symbol, symbol) {
			return &PortfolioLimitError{
				Reason: fmt.Sprintf("%s is correlated with open position %s", symbol, t.Symbol),
			}
		}
		aggregate = aggregate.Add(t.RiskAmount)
	}

	ceiling := equity.Mul(cfg.MaxPortfolioRisk)
	if aggregate.GreaterThan(ceiling) {
		return &PortfolioLimitError{
			Reason: fmt.Sprintf("aggregate risk %s exceeds portfolio ceiling %s", aggregate, ceiling),
		}
	}

	return nil
}
