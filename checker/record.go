package checker

import (
	"time"

	"github.com/EFForg/availability-backend/models"
	"github.com/EFForg/availability-backend/subject"
)

// Record is the status of one subject under construction during a single
// pipeline run. Once Status is set no lookup stage may change it; only the
// extra rules can rewrite it.
type Record struct {
	Subject     string       `json:"subject"`
	IDNASubject string       `json:"idna_subject"`
	Kind        subject.Kind `json:"kind"`
	// Status is empty until a stage decides.
	Status       models.Status `json:"status"`
	StatusSource models.Source `json:"status_source"`
	// SecondLevelDomainSyntax gates the WHOIS stage.
	SecondLevelDomainSyntax bool      `json:"second_level_domain_syntax"`
	TestedAt                time.Time `json:"tested_at"`

	parsed subject.Subject
	// provisional marks a Status that later stages may still replace.
	provisional bool
	// chain holds the verdict the lookup chain reached, before extra rules.
	chain *verdictSnapshot
}

type verdictSnapshot struct {
	status models.Status
	source models.Source
}

func newRecord(raw string, testedAt time.Time) *Record {
	parsed := subject.Parse(raw)
	return &Record{
		Subject:                 parsed.Raw,
		IDNASubject:             parsed.IDNA,
		Kind:                    parsed.Kind,
		SecondLevelDomainSyntax: parsed.SecondLevelDomain(),
		TestedAt:                testedAt,
		parsed:                  parsed,
	}
}

// Parsed returns the subject the record is about.
func (r *Record) Parsed() subject.Subject {
	return r.parsed
}

// Provisional reports whether the current status is only a placeholder.
func (r *Record) Provisional() bool {
	return r.provisional
}

// decided reports whether a stage already settled the status.
func (r *Record) decided() bool {
	return r.Status != "" && !r.provisional
}

func (r *Record) set(v Verdict, source models.Source) {
	r.Status = v.Status
	r.StatusSource = source
	r.provisional = v.Provisional
}
