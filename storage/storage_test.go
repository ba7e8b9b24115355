package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testDBCounter int

func openTestDB(t *testing.T) *Store {
	t.Helper()
	testDBCounter++
	dsn := fmt.Sprintf("file:umad-test-%d?mode=memory&cache=shared", testDBCounter)
	store, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUserRoundTrip(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	user, err := store.UpsertUser(ctx, "vault.example.com", "alice", "Alice", "02509abc")
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.Equal(t, "02509abc", user.SparkPubKey)

	// Upsert is idempotent on (tenant, username) and updates mutable fields.
	updated, err := store.UpsertUser(ctx, "vault.example.com", "alice", "Alice A.", "02509abc")
	require.NoError(t, err)
	require.Equal(t, user.ID, updated.ID)
	require.Equal(t, "Alice A.", updated.DisplayName)

	_, err = store.UserByUsername(ctx, "vault.example.com", "bob")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.UserByUsername(ctx, "other.example.com", "alice")
	require.ErrorIs(t, err, ErrNotFound, "usernames are tenant-scoped")
}

func TestChainAddressesInsertionOrderAndCaseInsensitiveLookup(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	user, err := store.UpsertUser(ctx, "vault.example.com", "alice", "Alice", "")
	require.NoError(t, err)

	require.NoError(t, store.UpsertChainAddress(ctx, user.ID, "ethereum", "0xABC"))
	require.NoError(t, store.UpsertChainAddress(ctx, user.ID, "spark", "02509def"))
	require.NoError(t, store.UpsertChainAddress(ctx, user.ID, "polygon", "0xDEF"))

	addrs, err := store.ChainAddresses(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, addrs, 3)
	require.Equal(t, []string{"ethereum", "spark", "polygon"}, []string{addrs[0].Chain, addrs[1].Chain, addrs[2].Chain})

	byChain, err := store.ChainAddressByChain(ctx, user.ID, "Polygon")
	require.NoError(t, err)
	require.Equal(t, "0xDEF", byChain.Address)

	_, err = store.ChainAddressByChain(ctx, user.ID, "tron")
	require.ErrorIs(t, err, ErrNotFound)

	// Replacing an address keeps the (user, chain) row unique.
	require.NoError(t, store.UpsertChainAddress(ctx, user.ID, "ethereum", "0x123"))
	addrs, err = store.ChainAddresses(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, addrs, 3)
}

func TestPaymentRequestNonceBurnsOnce(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	user, err := store.UpsertUser(ctx, "vault.example.com", "alice", "Alice", "")
	require.NoError(t, err)

	require.NoError(t, store.ReserveNonce(ctx, "n1"))
	require.ErrorIs(t, store.ReserveNonce(ctx, "n1"), ErrNonceUsed)

	rec := PaymentRequest{
		Nonce:       "n1",
		UserID:      user.ID,
		AmountMsat:  10_000,
		Currency:    "USD",
		Instruction: "lnbc1...",
	}
	require.NoError(t, store.CreatePaymentRequest(ctx, rec))
	require.ErrorIs(t, store.CreatePaymentRequest(ctx, rec), ErrNonceUsed)

	loaded, err := store.PaymentRequestByNonce(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, int64(10_000), loaded.AmountMsat)

	_, err = store.PaymentRequestByNonce(ctx, "n2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPaymentRequestConcurrentReservation(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.ReserveNonce(ctx, "n3")
		}()
	}
	wg.Wait()
	close(results)

	accepted, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			accepted++
		default:
			require.ErrorIs(t, err, ErrNonceUsed)
			rejected++
		}
	}
	require.Equal(t, 1, accepted, "exactly one reservation must win")
	require.Equal(t, racers-1, rejected)
}

func TestPrunePaymentRequests(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	user, err := store.UpsertUser(ctx, "vault.example.com", "alice", "Alice", "")
	require.NoError(t, err)

	old := PaymentRequest{Nonce: "old", UserID: user.ID, AmountMsat: 1, Currency: "USD", Instruction: "x", CreatedAt: time.Now().Add(-48 * time.Hour).UTC()}
	fresh := PaymentRequest{Nonce: "fresh", UserID: user.ID, AmountMsat: 1, Currency: "USD", Instruction: "y"}
	require.NoError(t, store.CreatePaymentRequest(ctx, old))
	require.NoError(t, store.CreatePaymentRequest(ctx, fresh))

	removed, err := store.PrunePaymentRequests(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, err = store.PaymentRequestByNonce(ctx, "old")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.PaymentRequestByNonce(ctx, "fresh")
	require.NoError(t, err)
}
