package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the placeholder used for sensitive material in logs.
const RedactedValue = "[REDACTED]"

// MaskSecret returns a slog.Attr whose value is always redacted when non-empty.
// Seed material, derived keys, and raw invoices must never reach the log stream.
func MaskSecret(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// TruncateIdentity shortens a settlement identity (a public key or chain
// address) so logs stay correlatable without reproducing the full value.
func TruncateIdentity(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= 12 {
		return trimmed
	}
	return trimmed[:8] + "…" + trimmed[len(trimmed)-4:]
}
