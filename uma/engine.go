package uma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rbndg/wdk-uma-poc/observability/logging"
	"github.com/rbndg/wdk-uma-poc/storage"
)

const (
	defaultCurrency = "USD"

	// Fallback sendable bounds in millisatoshi when a tenant enables no
	// currencies: 1 msat up to 0.1 BTC.
	fallbackMinSendable = int64(1)
	fallbackMaxSendable = int64(10_000_000_000)
)

// Engine orchestrates the two protocol phases. It is stateless between
// phases: every invocation is a fresh request correlated only by username and
// nonce, and all phase-2 inputs re-supply everything needed.
type Engine struct {
	store      *storage.Store
	converter  *Converter
	builder    *OptionBuilder
	dispatcher *Dispatcher
	chains     ChainMap
	logger     *slog.Logger
	nowFn      func() time.Time
}

// NewEngine wires the negotiation engine.
func NewEngine(store *storage.Store, rates RateSource, issuer InvoiceIssuer, chains ChainMap, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	converter := NewConverter(rates)
	return &Engine{
		store:      store,
		converter:  converter,
		builder:    NewOptionBuilder(chains, converter, logger),
		dispatcher: NewDispatcher(store, issuer, chains),
		chains:     chains,
		logger:     logger,
		nowFn:      time.Now,
	}
}

// Discover handles phase 1: advertise currencies, limits, and settlement
// options for the resolved user.
func (e *Engine) Discover(ctx context.Context, tenant TenantInfo, username string) (*DiscoveryResponse, error) {
	user, err := e.resolveUser(ctx, tenant, username)
	if err != nil {
		return nil, err
	}

	nativeAsset := e.dispatcher.nativeAsset(tenant)
	currencies := make([]Currency, 0, len(tenant.Currencies))
	for _, cur := range tenant.Currencies {
		mult, err := e.converter.Multiplier(ctx, nativeAsset.Asset, AssetDecimals(nativeAsset), cur.Code, cur.Decimals)
		if err != nil {
			return nil, err
		}
		decimals := cur.Decimals
		currencies = append(currencies, Currency{
			Code:        cur.Code,
			Name:        cur.Name,
			Symbol:      cur.Symbol,
			Multiplier:  mult,
			MinSendable: cur.MinSendable,
			MaxSendable: cur.MaxSendable,
			Decimals:    &decimals,
		})
	}

	addrs, err := e.store.ChainAddresses(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load chain addresses: %w", err)
	}
	options := e.builder.Build(ctx, addrs, tenant.Currencies)

	minSendable, maxSendable := sendableBounds(currencies)
	resp := &DiscoveryResponse{
		Callback:          callbackURL(tenant.Domain, user.Username),
		MinSendable:       minSendable,
		MaxSendable:       maxSendable,
		Metadata:          encodeMetadata(user, tenant),
		Tag:               "payRequest",
		CommentAllowed:    0,
		PayerData:         defaultPayerData(),
		Currencies:        currencies,
		SettlementOptions: options,
	}
	return resp, nil
}

// Pay handles phase 2: reserve the nonce, dispatch the payment instruction,
// persist the audit record, and shape the payment response.
//
// A caller that omits the nonce gets one generated server-side; such callers
// forfeit replay protection across their own retries and plain LNURL wallets
// are expected to do exactly that.
func (e *Engine) Pay(ctx context.Context, tenant TenantInfo, username string, params PayParams) (*PaymentResponse, error) {
	if params.AmountMsat <= 0 {
		return nil, fmt.Errorf("%w: amount must be a positive integer", ErrInvalidAmount)
	}
	user, err := e.resolveUser(ctx, tenant, username)
	if err != nil {
		return nil, err
	}

	nonce := strings.TrimSpace(params.Nonce)
	if nonce == "" {
		nonce = uuid.NewString()
	}
	if err := e.store.ReserveNonce(ctx, nonce); err != nil {
		if errors.Is(err, storage.ErrNonceUsed) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNonce, nonce)
		}
		return nil, fmt.Errorf("reserve nonce: %w", err)
	}

	// From here on the nonce stays burned even if dispatch fails: replay
	// protection takes precedence over retry convenience.
	memo := fmt.Sprintf("Pay %s@%s", user.Username, tenant.Domain)
	dispatched, err := e.dispatcher.Dispatch(ctx, tenant, user, params.SettlementLayer, params.AmountMsat, memo)
	if err != nil {
		return nil, err
	}

	record := storage.PaymentRequest{
		Nonce:           nonce,
		UserID:          user.ID,
		AmountMsat:      params.AmountMsat,
		Currency:        normalizeCurrency(params.Currency),
		SettlementLayer: dispatched.Layer,
		AssetIdentifier: dispatched.Identifier,
		Instruction:     dispatched.Instruction,
		CreatedAt:       e.nowFn().UTC(),
	}
	if err := e.store.CreatePaymentRequest(ctx, record); err != nil {
		return nil, fmt.Errorf("persist payment request: %w", err)
	}

	converted, err := e.convertForDisplay(ctx, tenant, dispatched, params)
	if err != nil {
		return nil, err
	}

	e.logger.Info("payment instruction issued",
		"user", user.Username,
		"tenant", tenant.Domain,
		"layer", dispatched.Layer,
		"amount_msat", params.AmountMsat,
		"identity", logging.TruncateIdentity(dispatched.Identifier),
	)

	resp := &PaymentResponse{
		PaymentRequest: dispatched.Instruction,
		Routes:         []string{},
		Converted:      converted,
		Disposable:     false,
		SuccessAction: &SuccessAction{
			Tag:     "message",
			Message: fmt.Sprintf("Paid to %s@%s", user.Username, tenant.Domain),
		},
	}
	if dispatched.OnChain {
		resp.Settlement = &SettlementDescriptor{Layer: dispatched.Layer, Asset: dispatched.Identifier}
	}
	return resp, nil
}

func (e *Engine) resolveUser(ctx context.Context, tenant TenantInfo, username string) (*storage.User, error) {
	normalized := strings.ToLower(strings.TrimSpace(username))
	user, err := e.store.UserByUsername(ctx, tenant.Domain, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s@%s", ErrUserNotFound, normalized, tenant.Domain)
		}
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return user, nil
}

func (e *Engine) convertForDisplay(ctx context.Context, tenant TenantInfo, dispatched Dispatched, params PayParams) (*ConvertedAmount, error) {
	code := normalizeCurrency(params.Currency)
	decimals := 2
	for _, cur := range tenant.Currencies {
		if strings.EqualFold(cur.Code, code) {
			decimals = cur.Decimals
			break
		}
	}
	multiplier, err := e.converter.Multiplier(ctx, dispatched.Asset.Asset, AssetDecimals(dispatched.Asset), code, decimals)
	if err != nil {
		return nil, err
	}
	// The engine charges no conversion fee; the field is part of the wire
	// shape so payers can account for ones that do.
	const fee = int64(0)
	amount, err := Convert(params.AmountMsat, fee, multiplier)
	if err != nil {
		return nil, err
	}
	return &ConvertedAmount{
		Amount:     amount,
		Currency:   code,
		Decimals:   decimals,
		Multiplier: multiplier,
		Fee:        fee,
	}, nil
}

func normalizeCurrency(code string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return defaultCurrency
	}
	return trimmed
}

func callbackURL(domain, username string) string {
	return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", domain, username)
}

func encodeMetadata(user *storage.User, tenant TenantInfo) string {
	identifier := fmt.Sprintf("%s@%s", user.Username, tenant.Domain)
	display := user.DisplayName
	if strings.TrimSpace(display) == "" {
		display = user.Username
	}
	pairs := [][]string{
		{"text/plain", fmt.Sprintf("Pay to %s", display)},
		{"text/identifier", identifier},
	}
	encoded, err := json.Marshal(pairs)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func defaultPayerData() map[string]PayerDataOption {
	return map[string]PayerDataOption{
		"name":       {Mandatory: false},
		"email":      {Mandatory: false},
		"identifier": {Mandatory: false},
	}
}

func sendableBounds(currencies []Currency) (int64, int64) {
	if len(currencies) == 0 {
		return fallbackMinSendable, fallbackMaxSendable
	}
	// Bounds follow the tenant's base settlement currency, which is listed
	// first in its configuration.
	base := currencies[0]
	minMsat := base.MinSendable * base.Multiplier
	maxMsat := base.MaxSendable * base.Multiplier
	if minMsat <= 0 {
		minMsat = fallbackMinSendable
	}
	if maxMsat <= 0 {
		maxMsat = fallbackMaxSendable
	}
	return minMsat, maxMsat
}
