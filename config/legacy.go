package config

import (
	"strings"
	"time"
)

// legacyKeys maps flat keys of the old configuration format to their current
// location.
var legacyKeys = map[string]string{
	"auto_continue":                  "testing.autocontinue",
	"cooldown_time":                  "testing.cooldown_time",
	"days_between_db_retest":         "cache.days_between_db_retest",
	"days_between_inactive_db_clean": "db.days_between_db_clean",
	"db_type":                        "db.type",
	"dns_server":                     "dns.servers",
	"maximal_processes":              "testing.concurrency",
	"multiprocess_merging_mode":      "testing.merging_mode",
	"reputation":                     "lookup.reputation",
	"use_reputation_data":            "lookup.reputation",
	"timeout":                        "lookup.timeout",
}

// legacyNegatedKeys are old "no_*" switches whose value is inverted.
var legacyNegatedKeys = map[string]string{
	"no_whois":   "lookup.whois",
	"no_special": "lookup.extra_rules",
}

// MigrateLegacy translates old-format keys found in settings (flat, dotted
// keys) into current keys. Only migrated keys are returned.
func MigrateLegacy(settings map[string]any) map[string]any {
	migrated := make(map[string]any)
	for oldKey, newKey := range legacyKeys {
		value, ok := settings[oldKey]
		if !ok {
			continue
		}
		switch oldKey {
		case "reputation", "use_reputation_data":
			if _, ok := value.(bool); !ok {
				continue
			}
		case "cooldown_time", "timeout":
			value = seconds(value)
		case "db_type":
			value = legacyDBType(value)
		case "dns_server":
			if s, ok := value.(string); ok {
				value = strings.Fields(strings.ReplaceAll(s, ",", " "))
			}
		}
		migrated[newKey] = value
	}
	for oldKey, newKey := range legacyNegatedKeys {
		if value, ok := settings[oldKey].(bool); ok {
			migrated[newKey] = !value
		}
	}
	if overTCP, ok := settings["dns_lookup_over_tcp"].(bool); ok && overTCP {
		migrated["dns.protocol"] = ProtocolTCP
	}
	if syntaxOnly, ok := settings["syntax"].(bool); ok && syntaxOnly {
		migrated["testing.checker_type"] = CheckerSyntax
	}
	if debug, ok := settings["debug"].(bool); ok && debug {
		migrated["log.level"] = "debug"
	}
	return migrated
}

// seconds converts the old numeric second values into a duration.
func seconds(value any) any {
	switch n := value.(type) {
	case int:
		return time.Duration(n) * time.Second
	case int64:
		return time.Duration(n) * time.Second
	case float64:
		return time.Duration(n * float64(time.Second))
	}
	return value
}

func legacyDBType(value any) any {
	if s, ok := value.(string); ok && strings.ToLower(s) == "json" {
		return DBCSV
	}
	return value
}
