package server

import (
	"fmt"
	"net"
	"strings"

	"github.com/rbndg/wdk-uma-poc/config"
	"github.com/rbndg/wdk-uma-poc/uma"
)

// TenantResolver maps request hosts onto tenant scopes. A host that matches
// no configured domain falls back to the tenant marked default; with no
// default configured the lookup fails.
type TenantResolver struct {
	byDomain map[string]uma.TenantInfo
	fallback *uma.TenantInfo
}

// NewTenantResolver indexes the configured tenants by domain, joining each
// tenant's enabled currencies against the shared currency catalog.
func NewTenantResolver(cfg config.Config) *TenantResolver {
	catalog := make(map[string]config.Currency, len(cfg.Currencies))
	for _, cur := range cfg.Currencies {
		catalog[strings.ToUpper(strings.TrimSpace(cur.Code))] = cur
	}
	resolver := &TenantResolver{byDomain: make(map[string]uma.TenantInfo, len(cfg.Tenants))}
	for _, tenant := range cfg.Tenants {
		info := tenantInfo(tenant, catalog)
		resolver.byDomain[strings.ToLower(strings.TrimSpace(tenant.Domain))] = info
		if tenant.Default {
			fallback := info
			resolver.fallback = &fallback
		}
	}
	return resolver
}

// Resolve maps a request Host header onto a tenant scope. Ports are stripped
// before matching.
func (t *TenantResolver) Resolve(host string) (uma.TenantInfo, error) {
	name := strings.ToLower(strings.TrimSpace(host))
	if split, _, err := net.SplitHostPort(name); err == nil {
		name = split
	}
	if info, ok := t.byDomain[name]; ok {
		return info, nil
	}
	if t.fallback != nil {
		return *t.fallback, nil
	}
	return uma.TenantInfo{}, fmt.Errorf("%w: %s", uma.ErrTenantNotFound, host)
}

func tenantInfo(tenant config.Tenant, catalog map[string]config.Currency) uma.TenantInfo {
	currencies := make([]uma.CurrencyInfo, 0, len(tenant.Currencies))
	for _, enabled := range tenant.Currencies {
		code := strings.ToUpper(strings.TrimSpace(enabled.Code))
		entry := catalog[code]
		currencies = append(currencies, uma.CurrencyInfo{
			Code:        code,
			Name:        entry.Name,
			Symbol:      entry.Symbol,
			Decimals:    entry.Decimals,
			MinSendable: enabled.MinSendable,
			MaxSendable: enabled.MaxSendable,
		})
	}
	return uma.TenantInfo{
		Domain:     strings.TrimSpace(tenant.Domain),
		BaseAsset:  tenant.BaseAsset,
		Currencies: currencies,
	}
}
