package models

import "time"

// CacheKind separates the cached lookups that share a backend.
type CacheKind string

// Cached lookup kinds.
const (
	CacheWhois      CacheKind = "whois"
	CacheReputation CacheKind = "reputation"
)

// CacheRecord is a cached upstream payload for a normalized subject.
type CacheRecord struct {
	Kind            CacheKind `json:"kind" db:"kind"`
	Subject         string    `json:"subject" db:"subject"`
	Payload         string    `json:"payload" db:"payload"`
	ExpirationEpoch int64     `json:"expiration_epoch" db:"expiration_epoch"`
}

// Expired reports whether the record may no longer be served at time now.
func (r CacheRecord) Expired(now time.Time) bool {
	return now.Unix() >= r.ExpirationEpoch
}

// ExpirationFor computes the expiration epoch of a record written at now and
// kept for ttlDays whole days.
func ExpirationFor(now time.Time, ttlDays int) int64 {
	return now.Add(time.Duration(ttlDays) * 24 * time.Hour).Unix()
}
