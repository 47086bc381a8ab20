package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultNoRestrictionNotification = "098/2009"
	defaultConversionPurchaseStatus  = "CO"
	defaultLicenseNullThreshold      = "500"
	defaultBalanceCacheTTLSeconds    = 300
)

// EngineSettings are the environment-tunable constants of the balance engine.
type EngineSettings struct {
	// Licenses under this notification have no category restrictions.
	NoRestrictionNotification string
	// Licenses with this purchase status have no category restrictions.
	ConversionPurchaseStatus string
	// A license whose balance is below this is flagged is_null.
	LicenseNullThreshold decimal.Decimal
	BalanceCacheTTL      time.Duration
}

// Set via env:
// - NO_RESTRICTION_NOTIFICATION (default 098/2009)
// - CONVERSION_PURCHASE_STATUS (default CO)
// - LICENSE_NULL_THRESHOLD (default 500)
// - BALANCE_CACHE_TTL_SECONDS (default 300)
func GetEngineSettings() EngineSettings {
	s := EngineSettings{
		NoRestrictionNotification: stringFromEnv("NO_RESTRICTION_NOTIFICATION", defaultNoRestrictionNotification),
		ConversionPurchaseStatus:  stringFromEnv("CONVERSION_PURCHASE_STATUS", defaultConversionPurchaseStatus),
		LicenseNullThreshold:      decimal.RequireFromString(defaultLicenseNullThreshold),
		BalanceCacheTTL:           time.Duration(IntFromEnv("BALANCE_CACHE_TTL_SECONDS", defaultBalanceCacheTTLSeconds)) * time.Second,
	}
	if v := strings.TrimSpace(os.Getenv("LICENSE_NULL_THRESHOLD")); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && !d.IsNegative() {
			s.LicenseNullThreshold = d
		}
	}
	return s
}

// DirectOutboxProcessingEnabled controls the in-process outbox consumer.
// Default: on, as a safety net even when Pub/Sub is configured.
// To disable in production, explicitly set OUTBOX_DIRECT_PROCESSING=false.
func DirectOutboxProcessingEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_DIRECT_PROCESSING")))
	return v != "false" && v != "0" && v != "no"
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
