// Package server exposes the LNURL-pay HTTP surface: the well-known
// endpoint serving both protocol phases, plus health and metrics.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/unicode/norm"

	"github.com/rbndg/wdk-uma-poc/observability"
	"github.com/rbndg/wdk-uma-poc/uma"
)

// Server wires the negotiation engine behind the LNURL-pay routes.
type Server struct {
	engine  *uma.Engine
	tenants *TenantResolver
	logger  *slog.Logger
	metrics *observability.LnurlpMetrics
	router  http.Handler
}

// New constructs the HTTP server.
func New(engine *uma.Engine, tenants *TenantResolver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  engine,
		tenants: tenants,
		logger:  logger,
		metrics: observability.Lnurlp(),
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/.well-known/lnurlp/{username}", s.handleLnurlp)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// handleLnurlp serves both protocol phases on one route: a request without an
// amount parameter is discovery, one with an amount is a payment request.
func (s *Server) handleLnurlp(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	tenant, err := s.tenants.Resolve(r.Host)
	if err != nil {
		s.writeError(w, r, "discovery", start, err)
		return
	}
	username := normalizeUsername(chi.URLParam(r, "username"))
	if username == "" {
		s.writeError(w, r, "discovery", start, fmt.Errorf("%w: empty username", uma.ErrUserNotFound))
		return
	}

	query := r.URL.Query()
	rawAmount := strings.TrimSpace(query.Get("amount"))
	if rawAmount == "" {
		resp, err := s.engine.Discover(ctx, tenant, username)
		if err != nil {
			s.writeError(w, r, "discovery", start, err)
			return
		}
		s.metrics.RecordOptions(len(resp.SettlementOptions))
		s.writeJSON(w, "discovery", start, http.StatusOK, resp)
		return
	}

	amount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil {
		s.writeError(w, r, "payment", start, fmt.Errorf("%w: %q", uma.ErrInvalidAmount, rawAmount))
		return
	}
	params := uma.PayParams{
		AmountMsat:      amount,
		Nonce:           query.Get("nonce"),
		Currency:        query.Get("currency"),
		SettlementLayer: query.Get("settlementLayer"),
		AssetIdentifier: query.Get("assetIdentifier"),
	}
	resp, err := s.engine.Pay(ctx, tenant, username, params)
	if err != nil {
		s.writeError(w, r, "payment", start, err)
		return
	}
	layer := "ln"
	if resp.Settlement != nil {
		layer = resp.Settlement.Layer
	}
	s.metrics.RecordInstruction(layer)
	s.writeJSON(w, "payment", start, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) writeJSON(w http.ResponseWriter, phase string, start time.Time, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
	s.metrics.Observe(phase, status, time.Since(start))
}

// errorEnvelope is the LNURL error shape; the code field is an extension so
// callers can branch without parsing reasons.
type errorEnvelope struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	Code   string `json:"code"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, phase string, start time.Time, err error) {
	status, code := errorStatus(err)
	reason := err.Error()
	if status >= http.StatusInternalServerError {
		reason = "internal error"
		s.logger.Error("lnurlp request failed", "phase", phase, "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Warn("lnurlp request rejected", "phase", phase, "status", status, "code", code, "error", err)
	}
	if errors.Is(err, uma.ErrDuplicateNonce) {
		s.metrics.RecordNonceConflict()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(errorEnvelope{Status: "ERROR", Reason: reason, Code: code}); encodeErr != nil {
		s.logger.Error("encode error response", "error", encodeErr)
	}
	s.metrics.Observe(phase, status, time.Since(start))
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, uma.ErrInvalidAmount):
		return http.StatusBadRequest, "InvalidAmount"
	case errors.Is(err, uma.ErrAddressNotFound):
		return http.StatusBadRequest, "AddressNotFound"
	case errors.Is(err, uma.ErrMissingSettlementIdentity):
		return http.StatusBadRequest, "MissingSettlementIdentity"
	case errors.Is(err, uma.ErrUserNotFound):
		return http.StatusNotFound, "UserNotFound"
	case errors.Is(err, uma.ErrTenantNotFound):
		return http.StatusNotFound, "TenantNotFound"
	case errors.Is(err, uma.ErrDuplicateNonce):
		return http.StatusConflict, "DuplicateNonce"
	case errors.Is(err, uma.ErrUpstreamInvoice):
		return http.StatusBadGateway, "UpstreamInvoiceFailure"
	case errors.Is(err, uma.ErrNoRate):
		return http.StatusBadGateway, "NoRate"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

func normalizeUsername(raw string) string {
	trimmed := strings.TrimSpace(raw)
	return norm.NFKC.String(strings.ToLower(trimmed))
}
