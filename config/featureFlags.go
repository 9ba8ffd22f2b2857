package config

import (
	"os"
	"strings"
	"time"
)

// DistributionRemainderPolicy names how the mod-12 remainder of a yearly
// quantity is spread over the periods.
//
// Set via env:
// - DISTRIBUTION_REMAINDER_POLICY=forward_first (default) | backward
func DistributionRemainderPolicy() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DISTRIBUTION_REMAINDER_POLICY")))
	if v == "" {
		return "forward_first"
	}
	return v
}

// UpsertRequireVersion makes expected_version mandatory when updating an
// existing line item, turning every blind overwrite into a conflict.
//
// Set via env:
// - UPSERT_REQUIRE_VERSION=true
func UpsertRequireVersion() bool {
	return boolFromEnv("UPSERT_REQUIRE_VERSION")
}

// StoreBackend picks the RecordStore implementation: "gorm" (default) or "memory".
//
// Set via env:
// - STORE_BACKEND=memory
func StoreBackend() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if v == "" {
		return "gorm"
	}
	return v
}

// ExportBucket is the GCS bucket exports are uploaded to; empty keeps exports local.
func ExportBucket() string {
	return strings.TrimSpace(os.Getenv("EXPORT_BUCKET"))
}

// ExportLinkLifespan is how long signed export download links stay valid.
//
// Set via env:
// - EXPORT_LINK_MINUTES (default 60)
func ExportLinkLifespan() time.Duration {
	return time.Duration(intFromEnv("EXPORT_LINK_MINUTES", 60)) * time.Minute
}
