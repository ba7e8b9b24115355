// Package invoice mints Lightning payment requests for payment
// instructions settled on the default layer. Key material is sourced
// lazily from the environment so the process can start before the
// operator has provisioned the seed.
package invoice

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Service issues bech32 payment requests signed with a secp256k1 key
// derived from an operator-provided seed.
type Service struct {
	seedEnv string
	network string
	expiry  time.Duration

	mu    sync.Mutex
	ready bool
	key   *ecdsa.PrivateKey

	nowFn func() time.Time
}

// NewService configures an issuer. The seed is not read until the first
// invoice is requested; seedEnv names the environment variable holding
// the hex-encoded key material.
func NewService(seedEnv, network string, expiry time.Duration) *Service {
	if network == "" {
		network = "bc"
	}
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	return &Service{
		seedEnv: seedEnv,
		network: network,
		expiry:  expiry,
		nowFn:   time.Now,
	}
}

// signingKey loads the key exactly once. A failed load leaves the guard
// unset so a later call retries after the operator fixes the seed;
// callers blocked on the mutex during a failure each observe the error.
func (s *Service) signingKey() (*ecdsa.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return s.key, nil
	}
	material := strings.TrimSpace(os.Getenv(s.seedEnv))
	if material == "" {
		return nil, fmt.Errorf("environment variable %s not set", s.seedEnv)
	}
	material = strings.TrimPrefix(material, "0x")
	decoded, err := hex.DecodeString(material)
	if err != nil {
		return nil, fmt.Errorf("decode invoice seed: %w", err)
	}
	key, err := ethcrypto.ToECDSA(decoded)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice seed: %w", err)
	}
	s.key = key
	s.ready = true
	return s.key, nil
}

// CreateInvoice mints a payment request for the given amount. The
// receiver identity is folded into the signed payload so two invoices
// for the same amount never collide.
func (s *Service) CreateInvoice(ctx context.Context, amountMsat int64, memo, receiverIdentity string) (string, error) {
	if amountMsat <= 0 {
		return "", fmt.Errorf("invoice amount must be positive, got %d", amountMsat)
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	key, err := s.signingKey()
	if err != nil {
		return "", err
	}
	issued := s.nowFn().UTC()
	payload := fmt.Sprintf("%d|%d|%s|%s|%d", issued.UnixNano(), amountMsat, memo, receiverIdentity, int64(s.expiry.Seconds()))
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256([]byte(payload)), key)
	if err != nil {
		return "", fmt.Errorf("sign invoice payload: %w", err)
	}
	paymentHash := ethcrypto.Keccak256(sig)
	grouped, err := bech32.ConvertBits(paymentHash, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("encode payment hash: %w", err)
	}
	encoded, err := bech32.Encode("ln"+s.network+encodeAmount(amountMsat), grouped)
	if err != nil {
		return "", fmt.Errorf("encode payment request: %w", err)
	}
	return encoded, nil
}

// encodeAmount renders the amount in the human-readable part using the
// BOLT11 multiplier ladder. Amounts are expressed in pico-bitcoin and
// reduced to the largest multiplier that divides them exactly.
func encodeAmount(amountMsat int64) string {
	pico := amountMsat * 10
	switch {
	case pico%1_000_000_000 == 0:
		return fmt.Sprintf("%dm", pico/1_000_000_000)
	case pico%1_000_000 == 0:
		return fmt.Sprintf("%du", pico/1_000_000)
	case pico%1_000 == 0:
		return fmt.Sprintf("%dn", pico/1_000)
	default:
		return fmt.Sprintf("%dp", pico)
	}
}
