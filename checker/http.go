package checker

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/EFForg/availability-backend/models"
	"github.com/EFForg/availability-backend/subject"
)

// HTTPClient is the subset of *http.Client the HTTP stage needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client that reports redirects instead of
// following them; a redirect is already an answer.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// HTTPSource is the HTTP stage: any response, whatever its code, is UP.
type HTTPSource struct {
	Client    HTTPClient
	UserAgent string
}

func (s *HTTPSource) Name() models.Source { return models.SourceHTTP }

func (s *HTTPSource) Enabled(r *Record) bool { return r.Parsed().Host != "" }

func (s *HTTPSource) Attempt(ctx context.Context, r *Record) (*Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, targetURL(r.Parsed()), nil)
	if err != nil {
		return nil, err
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return up(), nil
}

// targetURL is the URL itself for URL subjects and http://host/ otherwise.
func targetURL(s subject.Subject) string {
	if s.Kind == subject.KindURL {
		return s.IDNA
	}
	host := s.Host
	if s.Kind == subject.KindIPv6 {
		host = net.JoinHostPort(host, "80")
	}
	return "http://" + host + "/"
}
