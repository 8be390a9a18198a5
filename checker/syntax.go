package checker

import (
	"context"
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/EFForg/availability-backend/models"
	"github.com/EFForg/availability-backend/subject"
)

// SyntaxValidator decides whether a subject is well formed.
type SyntaxValidator interface {
	IsValid(s subject.Subject) bool
}

// DefaultSyntaxValidator accepts IP addresses, hostnames whose suffix is
// on the public suffix list, and http(s) URLs pointing at either.
type DefaultSyntaxValidator struct{}

// IsValid implements SyntaxValidator.
func (DefaultSyntaxValidator) IsValid(s subject.Subject) bool {
	switch s.Kind {
	case subject.KindIPv4, subject.KindIPv6:
		return net.ParseIP(s.IDNA) != nil
	case subject.KindURL:
		scheme, _, _ := strings.Cut(s.IDNA, "://")
		if scheme != "http" && scheme != "https" {
			return false
		}
		if net.ParseIP(s.Host) != nil {
			return true
		}
		return validDomain(s.Host)
	default:
		return validDomain(s.IDNA)
	}
}

func validDomain(domain string) bool {
	if len(domain) == 0 || len(domain) > 253 {
		return false
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for i, label := range labels {
		if !validLabel(label, i >= len(labels)-2) {
			return false
		}
	}
	suffix, icann := publicsuffix.PublicSuffix(domain)
	// Unknown TLDs come back as the bare last label outside the ICANN section.
	return icann || strings.Contains(suffix, ".")
}

// validLabel checks one label. Underscores are tolerated below the
// registrable part (_dmarc.example.com) but not in it.
func validLabel(label string, registrable bool) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
		case c == '_' && !registrable:
		default:
			return false
		}
	}
	return true
}

// SyntaxSource is the syntax stage. A failing subject is INVALID, which ends
// the chain. A passing one is UP, provisionally unless Final is set.
type SyntaxSource struct {
	Validator SyntaxValidator
	Final     bool
}

func (s *SyntaxSource) Name() models.Source { return models.SourceSyntax }

func (s *SyntaxSource) Enabled(*Record) bool { return true }

func (s *SyntaxSource) Attempt(_ context.Context, r *Record) (*Verdict, error) {
	if !s.Validator.IsValid(r.Parsed()) {
		return &Verdict{Status: models.StatusInvalid}, nil
	}
	return &Verdict{Status: models.StatusUp, Provisional: !s.Final}, nil
}
