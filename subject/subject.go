// Package subject parses raw input lines into the immutable subjects the
// checker tests.
package subject

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// Kind is the inferred shape of a subject.
type Kind string

// Possible values for Kind.
const (
	KindDomain Kind = "domain"
	KindIPv4   Kind = "ipv4"
	KindIPv6   Kind = "ipv6"
	KindURL    Kind = "url"
)

// Subject is one input line, parsed once and never mutated.
type Subject struct {
	// Raw is the trimmed input line.
	Raw string `json:"subject"`
	// Kind is inferred from Raw.
	Kind Kind `json:"kind"`
	// IDNA is the lowercase punycode form of Raw. For URLs only the host is
	// converted; the rest of the URL is kept as given.
	IDNA string `json:"idna_subject"`
	// Host is the name lookups run against: IDNA for domains and IPs, the
	// converted URL host for URLs.
	Host string `json:"host"`
}

// Parse infers the kind of raw and normalizes it.
func Parse(raw string) Subject {
	raw = strings.TrimSpace(raw)
	s := Subject{Raw: raw}

	switch {
	case strings.Contains(raw, "://"):
		s.Kind = KindURL
		s.IDNA, s.Host = normalizeURL(raw)
	case isIP(raw):
		ip := net.ParseIP(strings.Trim(raw, "[]"))
		s.Kind = KindIPv6
		if ip.To4() != nil {
			s.Kind = KindIPv4
		}
		s.IDNA = ip.String()
		s.Host = s.IDNA
	default:
		s.Kind = KindDomain
		s.IDNA = toASCII(raw)
		s.Host = s.IDNA
	}
	return s
}

func isIP(raw string) bool {
	return net.ParseIP(strings.Trim(raw, "[]")) != nil
}

// toASCII converts a domain to lowercase punycode. Names idna rejects are
// lowercased as-is and left for the syntax stage to reject.
func toASCII(domain string) string {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return domain
	}
	return ascii
}

func normalizeURL(raw string) (string, string) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(raw), ""
	}
	host := u.Hostname()
	if isIP(host) {
		host = net.ParseIP(host).String()
	} else {
		host = toASCII(host)
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u.String(), host
}

// IsIP reports whether lookups run against an IP address.
func (s Subject) IsIP() bool {
	return s.Kind == KindIPv4 || s.Kind == KindIPv6 || (s.Kind == KindURL && isIP(s.Host))
}

// SecondLevelDomain reports whether the lookup host is a registrable domain
// (exactly one label below its public suffix). Only those are worth a WHOIS
// query.
func (s Subject) SecondLevelDomain() bool {
	if s.Host == "" || s.IsIP() {
		return false
	}
	etldPlusOne, err := publicsuffix.EffectiveTLDPlusOne(s.Host)
	if err != nil {
		return false
	}
	return etldPlusOne == s.Host
}

// TLD returns the last label of the lookup host.
func (s Subject) TLD() string {
	if i := strings.LastIndex(s.Host, "."); i >= 0 {
		return s.Host[i+1:]
	}
	return s.Host
}
