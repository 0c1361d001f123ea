package engine

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	FeeRate     string `envconfig:"FEE_RATE" default:"0.001"`     // taker fee applied to every settlement, e.g. 0.001 = 0.1%
	MaxSlippage string `envconfig:"MAX_SLIPPAGE" default:"0.001"` // symmetric bound on market order slippage
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// FeeRateDecimal parses the configured fee rate.
func (c Config) FeeRateDecimal() decimal.Decimal {
	return decimal.RequireFromString(c.FeeRate)
}

// MaxSlippageDecimal parses the configured slippage bound.
func (c Config) MaxSlippageDecimal() decimal.Decimal {
	return decimal.RequireFromString(c.MaxSlippage)
}
