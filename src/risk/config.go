package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config is the process-wide risk configuration, loaded once from the
// environment. Percentage values are fractions of 1 (0.02 = 2%).
type Config struct {
	RiskPerTrade     float64 `envconfig:"RISK_PER_TRADE" default:"0.02"`
	MaxOpenTrades    int     `envconfig:"MAX_OPEN_TRADES" default:"5"`
	MaxPortfolioRisk float64 `envconfig:"MAX_PORTFOLIO_RISK" default:"0.10"`
	MaxLeverage      float64 `envconfig:"MAX_LEVERAGE" default:"20"`

	TrailingActivation float64 `envconfig:"TRAILING_STOP_ACTIVATION" default:"0.05"`
	TrailingDistance   float64 `envconfig:"TRAILING_STOP_DISTANCE" default:"0.02"` // 0 = derive from initial stop
	BreakevenThreshold float64 `envconfig:"BREAKEVEN_ACTIVATION" default:"0.03"`
	EmergencyStop      float64 `envconfig:"EMERGENCY_STOP_ACTIVATION" default:"0.15"`

	MaxTradeDuration time.Duration `envconfig:"MAX_TRADE_DURATION" default:"168h"`
	MinLotSize       float64       `envconfig:"MIN_LOT_SIZE" default:"0.001"`

	// TargetSplit optionally overrides the even target split, e.g. "0.5,0.3,0.2".
	// Fractions are shares of the original quantity; the last target always
	// closes whatever remains.
	TargetSplit string `envconfig:"TARGET_SPLIT" default:""`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Snapshot is the immutable decimal view of Config captured at tick start.
// Replacing the configuration means building a new Snapshot and swapping it
// atomically; a Snapshot in use is never mutated.
type Snapshot struct {
	RiskPerTrade     decimal.Decimal
	MaxOpenTrades    int
	MaxPortfolioRisk decimal.Decimal
	MaxLeverage      decimal.Decimal

	TrailingActivation decimal.Decimal
	TrailingDistance   decimal.Decimal
	BreakevenThreshold decimal.Decimal
	EmergencyStop      decimal.Decimal

	MaxTradeDuration time.Duration
	MinLotSize       decimal.Decimal

	TargetSplit []decimal.Decimal
}

// Snapshot converts the raw configuration to its decimal form.
func (c Config) Snapshot() (Snapshot, error) {
	split, err := parseTargetSplit(c.TargetSplit)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		RiskPerTrade:       decimal.NewFromFloat(c.RiskPerTrade),
		MaxOpenTrades:      c.MaxOpenTrades,
		MaxPortfolioRisk:   decimal.NewFromFloat(c.MaxPortfolioRisk),
		MaxLeverage:        decimal.NewFromFloat(c.MaxLeverage),
		TrailingActivation: decimal.NewFromFloat(c.TrailingActivation),
		TrailingDistance:   decimal.NewFromFloat(c.TrailingDistance),
		BreakevenThreshold: decimal.NewFromFloat(c.BreakevenThreshold),
		EmergencyStop:      decimal.NewFromFloat(c.EmergencyStop),
		MaxTradeDuration:   c.MaxTradeDuration,
		MinLotSize:         decimal.NewFromFloat(c.MinLotSize),
		TargetSplit:        split,
	}, nil
}

func parseTargetSplit(raw string) ([]decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	split := make([]decimal.Decimal, 0, len(parts))
	sum := decimal.Zero
	for _, p := range parts {
		f, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid target split entry %q: %w", p, err)
		}
		if !f.IsPositive() || f.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("target split entry %s out of (0,1]", f)
		}
		split = append(split, f)
		sum = sum.Add(f)
	}
	if sum.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("target split sums to %s, must not exceed 1", sum)
	}
	return split, nil
}
