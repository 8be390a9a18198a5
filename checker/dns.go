package checker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/EFForg/availability-backend/models"
)

// Record types queried for domains, in order. IPs get a PTR query.
var domainQueryTypes = []uint16{dns.TypeNS, dns.TypeA, dns.TypeAAAA, dns.TypeCNAME}

// DNSClient resolves one record type for a name.
type DNSClient interface {
	Lookup(ctx context.Context, name string, qtype uint16) ([]string, error)
}

// fallbackServers are used when no server is configured and the system
// resolver configuration is unreadable.
var fallbackServers = []string{"1.1.1.1:53", "8.8.8.8:53"}

// DNSResolver queries the configured servers in order over UDP or TCP.
type DNSResolver struct {
	servers []string
	client  *dns.Client
}

// NewDNSResolver builds a resolver for servers ("host" or "host:port").
// With no servers the system resolvers from /etc/resolv.conf are used.
func NewDNSResolver(servers []string, protocol string, timeout time.Duration) *DNSResolver {
	if len(servers) == 0 {
		servers = systemServers()
	}
	normalized := make([]string, 0, len(servers))
	for _, server := range servers {
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(strings.Trim(server, "[]"), "53")
		}
		normalized = append(normalized, server)
	}
	return &DNSResolver{
		servers: normalized,
		client:  &dns.Client{Net: strings.ToLower(protocol), Timeout: timeout},
	}
}

func systemServers() []string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return fallbackServers
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers
}

// Servers returns the resolvers in query order.
func (r *DNSResolver) Servers() []string {
	return r.servers
}

// Lookup implements DNSClient. Servers are tried in order until one returns
// a non-empty answer. The last transport error is returned only if no server
// answered at all.
func (r *DNSResolver) Lookup(ctx context.Context, name string, qtype uint16) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	var lastErr error
	answered := false
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			continue
		}
		if in.Rcode != dns.RcodeSuccess && in.Rcode != dns.RcodeNameError {
			lastErr = fmt.Errorf("%s answered %s", server, dns.RcodeToString[in.Rcode])
			continue
		}
		answered = true
		records := make([]string, 0, len(in.Answer))
		for _, rr := range in.Answer {
			if rr.Header().Rrtype == qtype {
				records = append(records, rr.String())
			}
		}
		if len(records) > 0 {
			return records, nil
		}
	}
	if answered {
		return nil, nil
	}
	return nil, lastErr
}

// DNSSource is the DNS stage: any record means UP.
type DNSSource struct {
	Client DNSClient
}

func (s *DNSSource) Name() models.Source { return models.SourceDNS }

func (s *DNSSource) Enabled(r *Record) bool { return r.Parsed().Host != "" }

func (s *DNSSource) Attempt(ctx context.Context, r *Record) (*Verdict, error) {
	parsed := r.Parsed()
	if parsed.IsIP() {
		reverse, err := dns.ReverseAddr(parsed.Host)
		if err != nil {
			return nil, err
		}
		records, err := s.Client.Lookup(ctx, reverse, dns.TypePTR)
		if err != nil || len(records) == 0 {
			return nil, err
		}
		return up(), nil
	}

	var errs []error
	for _, qtype := range domainQueryTypes {
		records, err := s.Client.Lookup(ctx, parsed.Host, qtype)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dns.TypeToString[qtype], err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(records) > 0 {
			return up(), nil
		}
	}
	if len(errs) == len(domainQueryTypes) || ctx.Err() != nil {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
