package uma

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rbndg/wdk-uma-poc/storage"
)

var dispatchDBCounter int64

type issuerFunc func(ctx context.Context, amountMsat int64, memo, receiverIdentity string) (string, error)

func (f issuerFunc) CreateInvoice(ctx context.Context, amountMsat int64, memo, receiverIdentity string) (string, error) {
	return f(ctx, amountMsat, memo, receiverIdentity)
}

func openDispatchStore(t *testing.T) *storage.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:umad-dispatch-test-%d?mode=memory&cache=shared", atomic.AddInt64(&dispatchDBCounter, 1))
	store, err := storage.Open(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDispatchDefaultLayerMintsInvoice(t *testing.T) {
	store := openDispatchStore(t)
	ctx := context.Background()
	user, err := store.UpsertUser(ctx, "vault.example", "alice", "alice", "sparkpub")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	var gotIdentity string
	issuer := issuerFunc(func(ctx context.Context, amountMsat int64, memo, receiverIdentity string) (string, error) {
		gotIdentity = receiverIdentity
		return "lnbc1fixture", nil
	})
	d := NewDispatcher(store, issuer, testChainMap())
	tenant := TenantInfo{Domain: "vault.example", BaseAsset: "BTC"}

	for _, layer := range []string{"", "ln", "spark", "SPARK"} {
		out, err := d.Dispatch(ctx, tenant, user, layer, 1000, "memo")
		if err != nil {
			t.Fatalf("dispatch %q: %v", layer, err)
		}
		if out.Instruction != "lnbc1fixture" {
			t.Fatalf("dispatch %q: instruction %s", layer, out.Instruction)
		}
		if out.OnChain {
			t.Fatalf("dispatch %q: invoice flagged on-chain", layer)
		}
		if out.Layer != "spark" {
			t.Fatalf("dispatch %q: layer %s", layer, out.Layer)
		}
		if out.Identifier != "sparkpub" {
			t.Fatalf("dispatch %q: identifier %s", layer, out.Identifier)
		}
		if gotIdentity != "sparkpub" {
			t.Fatalf("dispatch %q: receiver identity %s", layer, gotIdentity)
		}
	}
}

func TestDispatchInvoiceRequiresSettlementIdentity(t *testing.T) {
	store := openDispatchStore(t)
	ctx := context.Background()
	user, err := store.UpsertUser(ctx, "vault.example", "bob", "bob", "")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	issuer := issuerFunc(func(ctx context.Context, amountMsat int64, memo, receiverIdentity string) (string, error) {
		t.Fatalf("issuer must not be called")
		return "", nil
	})
	d := NewDispatcher(store, issuer, testChainMap())

	_, err = d.Dispatch(ctx, TenantInfo{BaseAsset: "BTC"}, user, "", 1000, "memo")
	if !errors.Is(err, ErrMissingSettlementIdentity) {
		t.Fatalf("got %v", err)
	}
}

func TestDispatchInvoiceWrapsUpstreamFailure(t *testing.T) {
	store := openDispatchStore(t)
	ctx := context.Background()
	user, err := store.UpsertUser(ctx, "vault.example", "alice", "alice", "sparkpub")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	issuer := issuerFunc(func(ctx context.Context, amountMsat int64, memo, receiverIdentity string) (string, error) {
		return "", fmt.Errorf("upstream timeout")
	})
	d := NewDispatcher(store, issuer, testChainMap())

	_, err = d.Dispatch(ctx, TenantInfo{BaseAsset: "BTC"}, user, "", 1000, "memo")
	if !errors.Is(err, ErrUpstreamInvoice) {
		t.Fatalf("got %v", err)
	}
}

func TestDispatchOnChainUsesStoredAddressVerbatim(t *testing.T) {
	store := openDispatchStore(t)
	ctx := context.Background()
	user, err := store.UpsertUser(ctx, "vault.example", "alice", "alice", "sparkpub")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := store.UpsertChainAddress(ctx, user.ID, "ethereum", "0xAbCdef"); err != nil {
		t.Fatalf("seed address: %v", err)
	}
	issuer := issuerFunc(func(ctx context.Context, amountMsat int64, memo, receiverIdentity string) (string, error) {
		t.Fatalf("issuer must not be called for on-chain dispatch")
		return "", nil
	})
	d := NewDispatcher(store, issuer, testChainMap())

	out, err := d.Dispatch(ctx, TenantInfo{BaseAsset: "BTC"}, user, "Ethereum", 1000, "memo")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Instruction != "0xAbCdef" {
		t.Fatalf("address not verbatim: %s", out.Instruction)
	}
	if !out.OnChain {
		t.Fatalf("expected on-chain dispatch")
	}
	if out.Identifier != "USDT_ETHEREUM" {
		t.Fatalf("identifier %s", out.Identifier)
	}
}

func TestDispatchUnknownLayerAndMissingAddressCoincide(t *testing.T) {
	store := openDispatchStore(t)
	ctx := context.Background()
	user, err := store.UpsertUser(ctx, "vault.example", "alice", "alice", "sparkpub")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	issuer := issuerFunc(func(ctx context.Context, amountMsat int64, memo, receiverIdentity string) (string, error) {
		return "lnbc1fixture", nil
	})
	d := NewDispatcher(store, issuer, testChainMap())
	tenant := TenantInfo{BaseAsset: "BTC"}

	// polygon is not in the mapping at all.
	_, err = d.Dispatch(ctx, tenant, user, "polygon", 1000, "memo")
	if !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("unknown layer: got %v", err)
	}
	// tron is mapped but the user stored no address for it.
	_, err = d.Dispatch(ctx, tenant, user, "tron", 1000, "memo")
	if !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("missing address: got %v", err)
	}
}
