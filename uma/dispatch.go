package uma

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rbndg/wdk-uma-poc/storage"
)

// InvoiceIssuer mints Lightning-style invoices. The receiver identity, when
// present, is embedded as a fallback settlement hint for payers that support
// the shared-custody layer.
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, amountMsat int64, memo, receiverIdentity string) (string, error)
}

// Dispatcher yields the payment instruction for a chosen settlement layer. It
// never constructs on-chain transactions; the instruction is what the payer
// uses externally.
type Dispatcher struct {
	store  *storage.Store
	issuer InvoiceIssuer
	chains ChainMap
}

// Dispatched is the outcome of a dispatch decision.
type Dispatched struct {
	// Instruction is the payable artifact: an invoice string or a raw address.
	Instruction string
	// Layer is the settlement layer the instruction settles over.
	Layer string
	// Asset is the settlement asset used for currency conversion.
	Asset ChainInfo
	// Identifier is the protocol asset code for the settlement descriptor.
	Identifier string
	// OnChain is true when the instruction is a raw chain address rather than
	// an invoice.
	OnChain bool
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(store *storage.Store, issuer InvoiceIssuer, chains ChainMap) *Dispatcher {
	return &Dispatcher{store: store, issuer: issuer, chains: chains}
}

// Dispatch resolves the payment instruction for the user and layer.
//
// An absent layer, "ln", or the native shared-custody layer mints a Lightning
// invoice and requires the user's settlement-identity key. Any other layer
// returns the user's stored address for that chain verbatim; an unknown layer
// and a missing address are indistinguishable to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, tenant TenantInfo, user *storage.User, layer string, amountMsat int64, memo string) (Dispatched, error) {
	normalized := strings.ToLower(strings.TrimSpace(layer))
	if normalized == "" || normalized == "ln" || normalized == d.chains.Native() {
		return d.dispatchInvoice(ctx, tenant, user, amountMsat, memo)
	}

	if _, ok := d.chains.LayerAsset(normalized); !ok {
		return Dispatched{}, fmt.Errorf("%w: %s", ErrAddressNotFound, normalized)
	}
	addr, err := d.store.ChainAddressByChain(ctx, user.ID, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Dispatched{}, fmt.Errorf("%w: %s", ErrAddressNotFound, normalized)
		}
		return Dispatched{}, err
	}
	info, _ := d.chains.LayerAsset(normalized)
	return Dispatched{
		Instruction: addr.Address,
		Layer:       normalized,
		Asset:       info,
		Identifier:  strings.ToUpper(info.Asset) + "_" + strings.ToUpper(normalized),
		OnChain:     true,
	}, nil
}

func (d *Dispatcher) dispatchInvoice(ctx context.Context, tenant TenantInfo, user *storage.User, amountMsat int64, memo string) (Dispatched, error) {
	if strings.TrimSpace(user.SparkPubKey) == "" {
		return Dispatched{}, ErrMissingSettlementIdentity
	}
	instruction, err := d.issuer.CreateInvoice(ctx, amountMsat, memo, user.SparkPubKey)
	if err != nil {
		return Dispatched{}, fmt.Errorf("%w: %v", ErrUpstreamInvoice, err)
	}
	return Dispatched{
		Instruction: instruction,
		Layer:       d.chains.Native(),
		Asset:       d.nativeAsset(tenant),
		Identifier:  user.SparkPubKey,
	}, nil
}

// nativeAsset resolves the conversion asset for invoice settlements: the
// native layer's mapped asset when configured, the tenant's base asset
// otherwise.
func (d *Dispatcher) nativeAsset(tenant TenantInfo) ChainInfo {
	if info, ok := d.chains.LayerAsset(d.chains.Native()); ok {
		return info
	}
	return ChainInfo{Layer: d.chains.Native(), Asset: strings.ToUpper(tenant.BaseAsset)}
}
