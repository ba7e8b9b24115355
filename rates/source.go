// Package rates resolves market prices for settlement assets. Sources return
// the price of one whole asset in whole units of the target currency; callers
// derive smallest-unit multipliers from it. Rates are time-sensitive and are
// never cached here.
package rates

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrUnavailable indicates the source has no rate for the requested pair.
var ErrUnavailable = errors.New("rate unavailable")

// Source resolves a price for an asset/currency pair.
type Source interface {
	Rate(ctx context.Context, asset, currency string) (*big.Rat, error)
}

// Fixed serves rates from a static table, keyed "ASSET:CURRENCY". It backs
// development and test deployments.
type Fixed struct {
	table map[string]*big.Rat
}

// NewFixed parses a table of decimal rate strings.
func NewFixed(entries map[string]string) (*Fixed, error) {
	table := make(map[string]*big.Rat, len(entries))
	for pair, raw := range entries {
		rate := new(big.Rat)
		if _, ok := rate.SetString(strings.TrimSpace(raw)); !ok {
			return nil, fmt.Errorf("invalid rate %q for pair %s", raw, pair)
		}
		if rate.Sign() <= 0 {
			return nil, fmt.Errorf("rate for pair %s must be positive", pair)
		}
		table[normalizePair(pair)] = rate
	}
	return &Fixed{table: table}, nil
}

// Rate returns the configured price for the pair.
func (f *Fixed) Rate(ctx context.Context, asset, currency string) (*big.Rat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate, ok := f.table[normalizePair(asset+":"+currency)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnavailable, asset, currency)
	}
	return new(big.Rat).Set(rate), nil
}

func normalizePair(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pair), " ", ""))
}
