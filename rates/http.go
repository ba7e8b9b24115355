package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSource fetches rates from an external price API. The endpoint is
// expected to answer GET {endpoint}?base={asset}&quote={currency} with a JSON
// body carrying a decimal "rate" string.
type HTTPSource struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

type rateResponse struct {
	Rate string `json:"rate"`
}

// NewHTTP constructs an HTTP source with sane defaults.
func NewHTTP(endpoint, apiKey string) *HTTPSource {
	return &HTTPSource{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Rate fetches the pair price from the upstream API.
func (s *HTTPSource) Rate(ctx context.Context, asset, currency string) (*big.Rat, error) {
	if s == nil {
		return nil, fmt.Errorf("rate source not configured")
	}
	query := url.Values{}
	query.Set("base", strings.ToUpper(strings.TrimSpace(asset)))
	query.Set("quote", strings.ToUpper(strings.TrimSpace(currency)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnavailable, asset, currency)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rate lookup failed: status=%d", resp.StatusCode)
	}
	var payload rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	rate := new(big.Rat)
	if _, ok := rate.SetString(strings.TrimSpace(payload.Rate)); !ok {
		return nil, fmt.Errorf("invalid rate %q for %s/%s", payload.Rate, asset, currency)
	}
	if rate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s/%s: non-positive rate", ErrUnavailable, asset, currency)
	}
	return rate, nil
}
