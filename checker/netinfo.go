package checker

import (
	"context"
	"errors"
	"net"

	"github.com/EFForg/availability-backend/models"
)

// HostResolver is the system resolver interface; *net.Resolver satisfies it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// NetInfoSource is the NetInfo stage. It goes through the operating
// system's resolver (hosts file, nsswitch) rather than the configured DNS
// servers: forward lookups for names, reverse lookups for addresses.
type NetInfoSource struct {
	Resolver HostResolver
}

func (s *NetInfoSource) Name() models.Source { return models.SourceNetInfo }

func (s *NetInfoSource) Enabled(r *Record) bool { return r.Parsed().Host != "" }

func (s *NetInfoSource) Attempt(ctx context.Context, r *Record) (*Verdict, error) {
	parsed := r.Parsed()
	var (
		found []string
		err   error
	)
	if parsed.IsIP() {
		found, err = s.Resolver.LookupAddr(ctx, parsed.Host)
	} else {
		found, err = s.Resolver.LookupHost(ctx, parsed.Host)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return nil, nil
	}
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return up(), nil
}
