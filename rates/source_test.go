package rates

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFixedRateLookup(t *testing.T) {
	source, err := NewFixed(map[string]string{"BTC:USD": "40000", "usdt:usd": "1.0004"})
	if err != nil {
		t.Fatalf("new fixed: %v", err)
	}
	rate, err := source.Rate(context.Background(), "btc", "usd")
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if rate.Cmp(big.NewRat(40000, 1)) != 0 {
		t.Fatalf("unexpected rate: %s", rate.String())
	}
	if _, err := source.Rate(context.Background(), "BTC", "EUR"); err == nil {
		t.Fatalf("expected error for unknown pair")
	}
}

func TestFixedRejectsNonPositiveRates(t *testing.T) {
	if _, err := NewFixed(map[string]string{"BTC:USD": "0"}); err == nil {
		t.Fatalf("expected error for zero rate")
	}
	if _, err := NewFixed(map[string]string{"BTC:USD": "not-a-number"}); err == nil {
		t.Fatalf("expected error for unparsable rate")
	}
}

func TestHTTPSourceParsesRate(t *testing.T) {
	var gotBase, gotQuote, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBase = r.URL.Query().Get("base")
		gotQuote = r.URL.Query().Get("quote")
		gotKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rate":"40123.50"}`))
	}))
	defer srv.Close()

	source := NewHTTP(srv.URL, "secret")
	rate, err := source.Rate(context.Background(), "btc", "usd")
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if gotBase != "BTC" || gotQuote != "USD" {
		t.Fatalf("unexpected query: base=%s quote=%s", gotBase, gotQuote)
	}
	if gotKey != "secret" {
		t.Fatalf("missing api key header")
	}
	want := new(big.Rat)
	want.SetString("40123.50")
	if rate.Cmp(want) != 0 {
		t.Fatalf("unexpected rate: %s", rate.String())
	}
}

func TestHTTPSourceMapsNotFoundToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	source := NewHTTP(srv.URL, "")
	if _, err := source.Rate(context.Background(), "BTC", "XXX"); err == nil {
		t.Fatalf("expected unavailable error")
	}
}
