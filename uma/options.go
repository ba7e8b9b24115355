package uma

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rbndg/wdk-uma-poc/storage"
)

// OptionBuilder maps a user's stored chain addresses into settlement-layer
// offers. It holds no request state; Build is pure over its inputs and the
// injected chain mapping.
type OptionBuilder struct {
	chains    ChainMap
	converter *Converter
	logger    *slog.Logger
}

// NewOptionBuilder constructs a builder over an immutable chain mapping.
func NewOptionBuilder(chains ChainMap, converter *Converter, logger *slog.Logger) *OptionBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &OptionBuilder{chains: chains, converter: converter, logger: logger}
}

// Build converts stored chain addresses into settlement options. Addresses on
// unmapped chains are skipped with a warning, never fatally. Assets whose
// multipliers cannot be resolved are skipped the same way; an option that ends
// up with zero assets is omitted. Layer order follows the insertion order of
// the input addresses; payers must not read preference into it.
func (b *OptionBuilder) Build(ctx context.Context, addrs []storage.ChainAddress, currencies []CurrencyInfo) []SettlementOption {
	var options []SettlementOption
	index := make(map[string]int)

	for _, addr := range addrs {
		info, ok := b.chains.Lookup(addr.Chain)
		if !ok {
			b.logger.Warn("skipping address on unmapped chain", "chain", addr.Chain)
			continue
		}
		identifier := b.assetIdentifier(info, addr.Address)
		multipliers, err := b.converter.Multipliers(ctx, info.Asset, AssetDecimals(info), currencies)
		if err != nil {
			b.logger.Warn("skipping asset without rates", "asset", identifier, "error", err)
			continue
		}
		asset := SettlementAsset{Identifier: identifier, Multipliers: multipliers}
		if pos, ok := index[info.Layer]; ok {
			options[pos].Assets = append(options[pos].Assets, asset)
			continue
		}
		index[info.Layer] = len(options)
		options = append(options, SettlementOption{Layer: info.Layer, Assets: []SettlementAsset{asset}})
	}
	return options
}

// assetIdentifier yields the protocol asset code. On the native shared-custody
// layer the stored address IS the receiver's settlement identity and passes
// through verbatim; everywhere else the identifier is synthesized as
// {ASSET}_{LAYER} in upper case, a convention every consumer parses identically.
func (b *OptionBuilder) assetIdentifier(info ChainInfo, address string) string {
	if info.Layer == b.chains.Native() {
		return address
	}
	return strings.ToUpper(info.Asset) + "_" + strings.ToUpper(info.Layer)
}
