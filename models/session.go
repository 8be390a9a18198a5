package models

import (
	"strings"

	"github.com/google/uuid"
)

// sessionNamespace scopes derived session IDs to this backend.
var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/EFForg/availability-backend/session"))

// Session identifies one bulk-test invocation.
type Session struct {
	ID          string `json:"session_id"`
	Source      string `json:"source"`
	CheckerType string `json:"checker_type"`
}

// NewSession derives the session for a source list. The ID is stable for a
// given (source, checkerType) pair, so re-running the same input resumes the
// same session.
func NewSession(source, checkerType string) Session {
	name := strings.Join([]string{source, checkerType}, "\x00")
	return Session{
		ID:          uuid.NewSHA1(sessionNamespace, []byte(name)).String(),
		Source:      source,
		CheckerType: checkerType,
	}
}

// NewRandomSession starts a session that is never resumed implicitly.
func NewRandomSession(source, checkerType string) Session {
	return Session{ID: uuid.NewString(), Source: source, CheckerType: checkerType}
}
