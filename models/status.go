package models

import "fmt"

// Status is the availability verdict for a subject.
type Status string

// Possible values for Status. The empty Status means no stage has decided yet.
const (
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusInvalid Status = "INVALID"
)

// ParseStatus converts a persisted status back into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUp, StatusDown, StatusInvalid:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Source records which stage of the pipeline produced a Status.
type Source string

// Possible values for Source.
const (
	SourceSyntax     Source = "SYNTAX"
	SourceWhois      Source = "WHOIS"
	SourceDNS        Source = "DNS"
	SourceNetInfo    Source = "NETINFO"
	SourceReputation Source = "REPUTATION"
	SourceHTTP       Source = "HTTP"
	SourceStdLookup  Source = "STDLOOKUP"
	SourceExtraRules Source = "EXTRA_RULES"
)
