package checker

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/EFForg/availability-backend/db"
	"github.com/EFForg/availability-backend/logger"
	"github.com/EFForg/availability-backend/models"
	"github.com/EFForg/availability-backend/subject"
)

const reputationClean = "clean"

// ReputationVerdict is a threat-intelligence answer for one subject.
type ReputationVerdict struct {
	// ListedBy holds the zones that list the subject.
	ListedBy []string
}

// IsMalicious reports whether any feed lists the subject.
func (v *ReputationVerdict) IsMalicious() bool {
	return v != nil && len(v.ListedBy) > 0
}

// ReputationChecker looks a subject up in threat feeds. A nil verdict means
// the feeds have nothing to say.
type ReputationChecker interface {
	Check(ctx context.Context, s subject.Subject) (*ReputationVerdict, error)
}

// DNSBLChecker queries DNS block lists: a subject is listed when
// <name>.<zone> has an A record. IPs are queried in reversed form.
type DNSBLChecker struct {
	Zones     []string
	Client    DNSClient
	Cache     db.CacheStore
	CacheDays int
	Log       logger.Logger
}

// Check implements ReputationChecker.
func (c *DNSBLChecker) Check(ctx context.Context, s subject.Subject) (*ReputationVerdict, error) {
	if len(c.Zones) == 0 || s.Host == "" {
		return nil, nil
	}
	if verdict := c.cached(ctx, s.Host); verdict != nil {
		return verdict, nil
	}

	name, err := blocklistName(s)
	if err != nil {
		return nil, err
	}
	verdict := &ReputationVerdict{}
	var errs []error
	for _, zone := range c.Zones {
		records, err := c.Client.Lookup(ctx, name+"."+strings.Trim(zone, "."), dns.TypeA)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(records) > 0 {
			verdict.ListedBy = append(verdict.ListedBy, zone)
		}
	}
	if len(errs) == len(c.Zones) {
		return nil, errors.Join(errs...)
	}
	// A zone that failed may still list the subject, so only a listing or a
	// complete clean answer is cached.
	if len(errs) == 0 || verdict.IsMalicious() {
		c.store(ctx, s.Host, verdict)
	}
	return verdict, nil
}

func (c *DNSBLChecker) cached(ctx context.Context, host string) *ReputationVerdict {
	if c.Cache == nil {
		return nil
	}
	record, err := c.Cache.GetCache(ctx, models.CacheReputation, host)
	if err != nil {
		c.Log.Warn("reputation cache read failed", logger.String("subject", host), logger.Error(err))
		return nil
	}
	if record == nil {
		return nil
	}
	if record.Payload == reputationClean {
		return &ReputationVerdict{}
	}
	return &ReputationVerdict{ListedBy: strings.Split(record.Payload, ",")}
}

func (c *DNSBLChecker) store(ctx context.Context, host string, verdict *ReputationVerdict) {
	if c.Cache == nil || c.CacheDays <= 0 {
		return
	}
	payload := reputationClean
	if verdict.IsMalicious() {
		payload = strings.Join(verdict.ListedBy, ",")
	}
	if err := c.Cache.PutCache(ctx, models.CacheReputation, host, payload, c.CacheDays); err != nil {
		c.Log.Warn("reputation cache write failed", logger.String("subject", host), logger.Error(err))
	}
}

// blocklistName is the label sequence prepended to a zone.
func blocklistName(s subject.Subject) (string, error) {
	if !s.IsIP() {
		return s.Host, nil
	}
	if ip := net.ParseIP(s.Host).To4(); ip != nil {
		return net.IPv4(ip[3], ip[2], ip[1], ip[0]).String(), nil
	}
	reverse, err := dns.ReverseAddr(s.Host)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(reverse, ".ip6.arpa."), nil
}

// ReputationSource is the reputation stage. Being listed as malicious is
// taken as proof that the subject is served; nothing else is a verdict.
type ReputationSource struct {
	Checker ReputationChecker
}

func (s *ReputationSource) Name() models.Source { return models.SourceReputation }

func (s *ReputationSource) Enabled(r *Record) bool { return r.Parsed().Host != "" }

func (s *ReputationSource) Attempt(ctx context.Context, r *Record) (*Verdict, error) {
	verdict, err := s.Checker.Check(ctx, r.Parsed())
	if err != nil || !verdict.IsMalicious() {
		return nil, err
	}
	return up(), nil
}
