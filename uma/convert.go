package uma

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

// RateSource resolves the market price of one whole asset in whole units of a
// currency. Results are time-sensitive; the engine never caches them beyond a
// single request.
type RateSource interface {
	Rate(ctx context.Context, asset, currency string) (*big.Rat, error)
}

// defaultAssetDecimals is the smallest-unit precision per asset when the chain
// mapping does not override it. BTC uses 11 because the protocol denominates
// Lightning amounts in millisatoshi.
var defaultAssetDecimals = map[string]int{
	"BTC":  11,
	"USDT": 6,
	"USDC": 6,
}

const fallbackAssetDecimals = 8

// AssetDecimals resolves the smallest-unit precision for a chain mapping entry.
func AssetDecimals(info ChainInfo) int {
	if info.Decimals > 0 {
		return info.Decimals
	}
	if d, ok := defaultAssetDecimals[strings.ToUpper(info.Asset)]; ok {
		return d
	}
	return fallbackAssetDecimals
}

// Converter computes unit-conversion multipliers and integer amount
// conversions between a settlement asset and a target currency.
type Converter struct {
	source RateSource
}

// NewConverter wraps a market-rate source.
func NewConverter(source RateSource) *Converter {
	return &Converter{source: source}
}

// Multiplier computes the number of smallest units of the asset that equal one
// smallest unit of the currency. The result is floored to an integer; a floor
// of zero is a hard failure, never silently defaulted.
func (c *Converter) Multiplier(ctx context.Context, asset string, assetDecimals int, currency string, currencyDecimals int) (int64, error) {
	if c == nil || c.source == nil {
		return 0, fmt.Errorf("%w: no rate source configured", ErrNoRate)
	}
	rate, err := c.source.Rate(ctx, asset, currency)
	if err != nil {
		return 0, fmt.Errorf("%w: %s/%s: %v", ErrNoRate, asset, currency, err)
	}
	if rate == nil || rate.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %s/%s: non-positive rate", ErrNoRate, asset, currency)
	}
	// multiplier = 10^assetDecimals / (rate * 10^currencyDecimals)
	assetScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(assetDecimals)), nil)
	currencyScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(currencyDecimals)), nil)
	denom := new(big.Rat).Mul(rate, new(big.Rat).SetInt(currencyScale))
	mult := new(big.Rat).Quo(new(big.Rat).SetInt(assetScale), denom)
	floored := new(big.Int).Quo(mult.Num(), mult.Denom())
	if !floored.IsInt64() || floored.Int64() <= 0 {
		return 0, fmt.Errorf("%w: %s/%s: multiplier out of range", ErrNoRate, asset, currency)
	}
	return floored.Int64(), nil
}

// Multipliers resolves multipliers for every listed currency. Any missing rate
// fails the whole batch.
func (c *Converter) Multipliers(ctx context.Context, asset string, assetDecimals int, currencies []CurrencyInfo) (map[string]int64, error) {
	out := make(map[string]int64, len(currencies))
	for _, cur := range currencies {
		mult, err := c.Multiplier(ctx, asset, assetDecimals, cur.Code, cur.Decimals)
		if err != nil {
			return nil, err
		}
		out[cur.Code] = mult
	}
	return out, nil
}

// Convert computes floor((amount - fee) / multiplier) using 64-bit-safe big
// integer arithmetic. Truncation toward zero under-credits the receiver on
// rounding, never over-credits.
func Convert(amountSmallestUnits, fee, multiplier int64) (int64, error) {
	if multiplier <= 0 {
		return 0, fmt.Errorf("%w: zero multiplier", ErrNoRate)
	}
	net := new(big.Int).Sub(big.NewInt(amountSmallestUnits), big.NewInt(fee))
	if net.Sign() < 0 {
		net.SetInt64(0)
	}
	quotient := new(big.Int).Quo(net, big.NewInt(multiplier))
	if !quotient.IsInt64() {
		return 0, fmt.Errorf("converted amount overflows int64")
	}
	return quotient.Int64(), nil
}
