// Package checker decides whether subjects are alive by running them through
// an ordered chain of lookup stages, and runs that chain over large subject
// lists with a pool of workers.
package checker

import (
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/EFForg/availability-backend/config"
	"github.com/EFForg/availability-backend/db"
	"github.com/EFForg/availability-backend/logger"
	"github.com/EFForg/availability-backend/stats"
)

// A Checker resolves the status of single subjects. It holds no state
// between subjects, but each worker of a Pool gets its own instance.
type Checker struct {
	// Timeout bounds every stage attempt.
	// If zero, a default timeout of 10 seconds is used.
	Timeout time.Duration

	// Sources are the lookup stages in the order they run.
	Sources []LookupSource

	// Rules are applied after the chain. If nil, no rule runs.
	Rules *ExtraRules

	// SyntaxFinal stops the chain after a passing syntax stage.
	SyntaxFinal bool

	Log     logger.Logger
	Metrics *stats.Metrics

	// now stamps tested_at. It is overridden in tests.
	now func() time.Time
}

// Dependencies are the collaborators behind the stages. Nil fields get the
// network-backed defaults.
type Dependencies struct {
	Syntax     SyntaxValidator
	Whois      WhoisClient
	Expiration ExpirationParser
	DNS        DNSClient
	NetInfo    HostResolver
	Reputation ReputationChecker
	HTTP       HTTPClient

	// Cache stores WHOIS and reputation payloads. If nil, nothing is cached.
	Cache db.CacheStore
	// WhoisLimiter is shared between checkers. If nil, one query per second
	// with a burst of 5 is allowed.
	WhoisLimiter *rate.Limiter
	Rules        *ExtraRules
	Metrics      *stats.Metrics
}

// DefaultWhoisLimiter returns the limiter used when none is given.
func DefaultWhoisLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second), 5)
}

// New assembles a Checker from cfg. The stage list follows the lookup
// switches; the syntax checker type only runs the syntax stage.
func New(cfg *config.Config, deps Dependencies, log logger.Logger) *Checker {
	if log == nil {
		log = logger.NewNop()
	}
	deps = withDefaults(cfg, deps, log)

	syntaxOnly := cfg.Testing.CheckerType == config.CheckerSyntax
	c := &Checker{
		Timeout:     cfg.Lookup.Timeout,
		SyntaxFinal: cfg.Lookup.SyntaxFinal || syntaxOnly,
		Log:         log,
		Metrics:     deps.Metrics,
		now:         time.Now,
	}
	if cfg.Lookup.Syntax || syntaxOnly {
		c.Sources = append(c.Sources, &SyntaxSource{Validator: deps.Syntax, Final: c.SyntaxFinal})
	}
	if syntaxOnly {
		return c
	}
	lookup := cfg.Lookup
	if lookup.Whois {
		c.Sources = append(c.Sources, &WhoisSource{
			Client:    deps.Whois,
			Parser:    deps.Expiration,
			Cache:     deps.Cache,
			CacheDays: cfg.Cache.DaysBetweenDBRetest,
			Limiter:   deps.WhoisLimiter,
			Log:       log,
		})
	}
	if lookup.DNS {
		c.Sources = append(c.Sources, &DNSSource{Client: deps.DNS})
	}
	if lookup.NetInfo {
		c.Sources = append(c.Sources, &NetInfoSource{Resolver: deps.NetInfo})
	}
	if lookup.Reputation {
		c.Sources = append(c.Sources, &ReputationSource{Checker: deps.Reputation})
	}
	if lookup.HTTP {
		c.Sources = append(c.Sources, &HTTPSource{Client: deps.HTTP, UserAgent: cfg.HTTP.UserAgent})
	}
	if lookup.ExtraRules {
		c.Rules = deps.Rules
		if c.Rules == nil {
			c.Rules = DefaultExtraRules()
		}
	}
	return c
}

func withDefaults(cfg *config.Config, deps Dependencies, log logger.Logger) Dependencies {
	timeout := cfg.Lookup.Timeout
	if deps.Syntax == nil {
		deps.Syntax = DefaultSyntaxValidator{}
	}
	if deps.Whois == nil {
		deps.Whois = NewWhoisClient(timeout)
	}
	if deps.Expiration == nil {
		deps.Expiration = WhoisRecordParser{}
	}
	if deps.DNS == nil {
		deps.DNS = NewDNSResolver(cfg.DNS.Servers, cfg.DNS.Protocol, timeout)
	}
	if deps.NetInfo == nil {
		deps.NetInfo = net.DefaultResolver
	}
	if deps.Reputation == nil {
		deps.Reputation = &DNSBLChecker{
			Zones:     cfg.Reputation.Zones,
			Client:    deps.DNS,
			Cache:     deps.Cache,
			CacheDays: cfg.Cache.DaysBetweenDBRetest,
			Log:       log,
		}
	}
	if deps.HTTP == nil {
		deps.HTTP = NewHTTPClient(timeout)
	}
	if deps.WhoisLimiter == nil {
		deps.WhoisLimiter = DefaultWhoisLimiter()
	}
	return deps
}

func (c *Checker) timeout() time.Duration {
	if c.Timeout != 0 {
		return c.Timeout
	}
	return 10 * time.Second
}

func (c *Checker) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}
