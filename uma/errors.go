package uma

import "errors"

var (
	// ErrUserNotFound indicates the username does not resolve within the tenant.
	ErrUserNotFound = errors.New("user not found")
	// ErrTenantNotFound indicates the request host maps to no configured tenant.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrInvalidAmount indicates a missing, non-positive, or unparsable amount.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrDuplicateNonce indicates the payment nonce has already been consumed.
	ErrDuplicateNonce = errors.New("nonce already consumed")
	// ErrAddressNotFound indicates the chosen settlement layer is unsupported
	// or the user has no address configured for it. Callers cannot distinguish
	// the two cases.
	ErrAddressNotFound = errors.New("no address for settlement layer")
	// ErrMissingSettlementIdentity indicates a Lightning-style settlement was
	// requested for a user without a settlement-identity key.
	ErrMissingSettlementIdentity = errors.New("user has no settlement identity")
	// ErrNoRate indicates the market-rate source produced no usable multiplier.
	ErrNoRate = errors.New("no rate available")
	// ErrUpstreamInvoice indicates the external invoice service failed.
	ErrUpstreamInvoice = errors.New("invoice service failure")
)
