package checker

import (
	"context"
	"errors"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"golang.org/x/time/rate"

	"github.com/EFForg/availability-backend/db"
	"github.com/EFForg/availability-backend/logger"
	"github.com/EFForg/availability-backend/models"
)

// WhoisClient fetches the raw WHOIS record of a domain.
type WhoisClient interface {
	Query(ctx context.Context, domain string) (string, error)
}

// ExpirationParser extracts the expiration date from a raw WHOIS record.
// It returns whoisparser.ErrNotFoundDomain when the registry reports the
// domain as unregistered, and an empty date when the record has none.
type ExpirationParser interface {
	Expiration(raw string) (string, error)
}

// NetWhoisClient queries registries over the network.
type NetWhoisClient struct {
	client *whois.Client
}

// NewWhoisClient returns a client whose connections time out after timeout.
func NewWhoisClient(timeout time.Duration) *NetWhoisClient {
	client := whois.NewClient()
	client.SetTimeout(timeout)
	return &NetWhoisClient{client: client}
}

// Query implements WhoisClient. The underlying client has no context
// support, so cancellation abandons the query and relies on its own timeout.
func (c *NetWhoisClient) Query(ctx context.Context, domain string) (string, error) {
	type answer struct {
		raw string
		err error
	}
	done := make(chan answer, 1)
	go func() {
		raw, err := c.client.Whois(domain)
		done <- answer{raw, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-done:
		return a.raw, a.err
	}
}

// WhoisRecordParser parses records with whois-parser.
type WhoisRecordParser struct{}

// Expiration implements ExpirationParser.
func (WhoisRecordParser) Expiration(raw string) (string, error) {
	info, err := whoisparser.Parse(raw)
	if err != nil {
		return "", err
	}
	if info.Domain == nil {
		return "", nil
	}
	return info.Domain.ExpirationDate, nil
}

// WhoisSource is the WHOIS stage. It only runs for registrable domains. A
// record with an expiration date means UP, an explicit "no match" means
// DOWN. Raw records are cached for CacheDays days.
type WhoisSource struct {
	Client    WhoisClient
	Parser    ExpirationParser
	Cache     db.CacheStore
	CacheDays int
	// Limiter is shared by every worker so registries see one client. The
	// pipeline waits on it through Wait, outside the stage timeout.
	Limiter *rate.Limiter
	Log     logger.Logger
}

func (s *WhoisSource) Name() models.Source { return models.SourceWhois }

func (s *WhoisSource) Enabled(r *Record) bool { return r.SecondLevelDomainSyntax }

func (s *WhoisSource) Attempt(ctx context.Context, r *Record) (*Verdict, error) {
	domain := r.Parsed().Host
	raw, err := s.record(ctx, domain)
	if err != nil {
		return nil, err
	}
	expiration, err := s.Parser.Expiration(raw)
	switch {
	case errors.Is(err, whoisparser.ErrNotFoundDomain):
		return down(), nil
	case err != nil:
		s.Log.Debug("unparsable whois record", logger.String("subject", domain), logger.Error(err))
		return nil, nil
	case expiration != "":
		return up(), nil
	}
	return nil, nil
}

// Wait implements Throttled: it takes a token from Limiter unless the record
// is already cached.
func (s *WhoisSource) Wait(ctx context.Context, r *Record) error {
	if s.Limiter == nil {
		return nil
	}
	if _, ok := s.cached(ctx, r.Parsed().Host); ok {
		return nil
	}
	return s.Limiter.Wait(ctx)
}

func (s *WhoisSource) cached(ctx context.Context, domain string) (string, bool) {
	if s.Cache == nil {
		return "", false
	}
	cached, err := s.Cache.GetCache(ctx, models.CacheWhois, domain)
	if err != nil {
		s.Log.Warn("whois cache read failed", logger.String("subject", domain), logger.Error(err))
		return "", false
	}
	if cached == nil {
		return "", false
	}
	return cached.Payload, true
}

func (s *WhoisSource) record(ctx context.Context, domain string) (string, error) {
	if raw, ok := s.cached(ctx, domain); ok {
		return raw, nil
	}
	raw, err := s.Client.Query(ctx, domain)
	if err != nil {
		return "", err
	}
	if s.Cache != nil && s.CacheDays > 0 {
		if err := s.Cache.PutCache(ctx, models.CacheWhois, domain, raw, s.CacheDays); err != nil {
			s.Log.Warn("whois cache write failed", logger.String("subject", domain), logger.Error(err))
		}
	}
	return raw, nil
}
