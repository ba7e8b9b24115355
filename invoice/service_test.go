package invoice

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func testSeed(t *testing.T) string {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(key))
}

func TestCreateInvoiceEncodesAmountInPrefix(t *testing.T) {
	t.Setenv("TEST_INVOICE_SEED", testSeed(t))
	svc := NewService("TEST_INVOICE_SEED", "bc", time.Minute)

	pr, err := svc.CreateInvoice(context.Background(), 25_000_000, "Pay to alice", "spark-pubkey")
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	// 25,000,000 msat = 250,000,000 pico-BTC = 250 micro-BTC.
	if !strings.HasPrefix(pr, "lnbc250u1") {
		t.Fatalf("unexpected prefix: %s", pr)
	}
	hrp, data, err := bech32.Decode(pr)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hrp != "lnbc250u" {
		t.Fatalf("unexpected hrp: %s", hrp)
	}
	hash, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		t.Fatalf("regroup: %v", err)
	}
	if len(hash) != 32 {
		t.Fatalf("payment hash length %d", len(hash))
	}
}

func TestCreateInvoiceNeverCollides(t *testing.T) {
	t.Setenv("TEST_INVOICE_SEED", testSeed(t))
	svc := NewService("TEST_INVOICE_SEED", "bc", time.Minute)
	base := time.Unix(1_700_000_000, 0)
	var tick int64
	svc.nowFn = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Nanosecond)
	}

	first, err := svc.CreateInvoice(context.Background(), 1000, "memo", "id")
	if err != nil {
		t.Fatalf("first invoice: %v", err)
	}
	second, err := svc.CreateInvoice(context.Background(), 1000, "memo", "id")
	if err != nil {
		t.Fatalf("second invoice: %v", err)
	}
	if first == second {
		t.Fatalf("identical invoices for distinct issuances")
	}
}

func TestCreateInvoiceRetriesAfterSeedFailure(t *testing.T) {
	t.Setenv("TEST_INVOICE_SEED", "")
	svc := NewService("TEST_INVOICE_SEED", "bc", time.Minute)

	if _, err := svc.CreateInvoice(context.Background(), 1000, "memo", "id"); err == nil {
		t.Fatalf("expected error with empty seed")
	}
	t.Setenv("TEST_INVOICE_SEED", testSeed(t))
	if _, err := svc.CreateInvoice(context.Background(), 1000, "memo", "id"); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
}

func TestCreateInvoiceConcurrentFirstUse(t *testing.T) {
	t.Setenv("TEST_INVOICE_SEED", testSeed(t))
	svc := NewService("TEST_INVOICE_SEED", "bc", time.Minute)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateInvoice(context.Background(), 2000, "memo", "id")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent issuance failed: %v", err)
		}
	}
}

func TestEncodeAmount(t *testing.T) {
	cases := []struct {
		msat int64
		want string
	}{
		{100_000_000, "1m"},
		{25_000_000, "250u"},
		{1000, "10n"},
		{1, "10p"},
	}
	for _, tc := range cases {
		if got := encodeAmount(tc.msat); got != tc.want {
			t.Fatalf("encodeAmount(%d) = %s, want %s", tc.msat, got, tc.want)
		}
	}
}
