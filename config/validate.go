package config

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a setting that makes the run impossible. It is
// always surfaced before any subject is processed.
type ConfigurationError struct {
	Key    string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s=%v: %s", e.Key, e.Value, e.Reason)
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ConfigurationError{Key: key, Value: value,
		Reason: "must be one of " + strings.Join(allowed, ", ")}
}

// Validate normalizes enum-like settings and rejects unusable ones.
func (c *Config) Validate() error {
	c.Testing.MergingMode = strings.ToLower(c.Testing.MergingMode)
	c.Testing.CheckerType = strings.ToLower(c.Testing.CheckerType)
	c.DB.Type = strings.ToLower(c.DB.Type)
	c.DNS.Protocol = strings.ToUpper(c.DNS.Protocol)

	if err := oneOf("testing.merging_mode", c.Testing.MergingMode, MergeLive, MergeEnds); err != nil {
		return err
	}
	if err := oneOf("testing.checker_type", c.Testing.CheckerType, CheckerAvailability, CheckerSyntax); err != nil {
		return err
	}
	if err := oneOf("db.type", c.DB.Type, DBCSV, DBSQLite, DBPostgres, DBMemory); err != nil {
		return err
	}
	if err := oneOf("dns.protocol", c.DNS.Protocol, ProtocolUDP, ProtocolTCP); err != nil {
		return err
	}
	if c.Testing.Concurrency < 1 {
		return &ConfigurationError{Key: "testing.concurrency", Value: c.Testing.Concurrency,
			Reason: "must be at least 1"}
	}
	if c.Cache.DaysBetweenDBRetest < 0 {
		return &ConfigurationError{Key: "cache.days_between_db_retest", Value: c.Cache.DaysBetweenDBRetest,
			Reason: "must not be negative"}
	}
	if c.Lookup.Timeout <= 0 {
		return &ConfigurationError{Key: "lookup.timeout", Value: c.Lookup.Timeout,
			Reason: "must be positive"}
	}
	return nil
}
