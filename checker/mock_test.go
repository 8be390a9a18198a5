package checker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/EFForg/availability-backend/config"
	"github.com/EFForg/availability-backend/models"
)

// Mock collaborators shared by the package tests.

// callLog records stage invocations in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// fakeSource answers with a fixed verdict or error.
type fakeSource struct {
	name    models.Source
	verdict *Verdict
	err     error
	// block waits for the stage context to end.
	block bool
	log   *callLog
}

func (f *fakeSource) Name() models.Source { return f.name }

func (f *fakeSource) Enabled(*Record) bool { return true }

func (f *fakeSource) Attempt(ctx context.Context, r *Record) (*Verdict, error) {
	if f.log != nil {
		f.log.add(string(f.name))
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.verdict, f.err
}

// fakeDNS answers from a table keyed by "name TYPE".
type fakeDNS struct {
	answers map[string][]string
	// errs fails single queries; err fails all of them.
	errs map[string]error
	err  error
	log  callLog
}

func (f *fakeDNS) Lookup(_ context.Context, name string, qtype uint16) ([]string, error) {
	key := name + " " + dns.TypeToString[qtype]
	f.log.add(key)
	if f.err != nil {
		return nil, f.err
	}
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.answers[key], nil
}

// fakeResolver is a HostResolver that finds nothing unless told otherwise.
type fakeResolver struct {
	hosts map[string][]string
	log   callLog
}

func (f *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	f.log.add("host " + host)
	if addrs, ok := f.hosts[host]; ok {
		return addrs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func (f *fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	f.log.add("addr " + addr)
	if names, ok := f.hosts[addr]; ok {
		return names, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: addr, IsNotFound: true}
}

// fakeHTTP fails every request unless a status is configured for the URL.
type fakeHTTP struct {
	codes map[string]int
	log   callLog
}

func (f *fakeHTTP) Do(req *http.Request) (*http.Response, error) {
	f.log.add(req.Method + " " + req.URL.String())
	code, ok := f.codes[req.URL.String()]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return &http.Response{StatusCode: code, Body: http.NoBody}, nil
}

// fakeWhois serves raw records from a table.
type fakeWhois struct {
	records map[string]string
	log     callLog
}

func (f *fakeWhois) Query(_ context.Context, domain string) (string, error) {
	f.log.add(domain)
	raw, ok := f.records[domain]
	if !ok {
		return "", errors.New("whois: connect timeout")
	}
	return raw, nil
}

// fakeParser maps raw records to an expiration date or error.
type fakeParser map[string]struct {
	date string
	err  error
}

func (f fakeParser) Expiration(raw string) (string, error) {
	answer := f[raw]
	return answer.date, answer.err
}

// testConfig enables the default stages with a short timeout.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Lookup.Timeout = time.Second
	cfg.Testing.Concurrency = 2
	return cfg
}

// testDeps returns collaborators that never give a verdict.
type testDeps struct {
	dns      *fakeDNS
	resolver *fakeResolver
	http     *fakeHTTP
	whois    *fakeWhois
	parser   fakeParser
}

func newTestDeps() *testDeps {
	return &testDeps{
		dns:      &fakeDNS{answers: map[string][]string{}},
		resolver: &fakeResolver{hosts: map[string][]string{}},
		http:     &fakeHTTP{codes: map[string]int{}},
		whois:    &fakeWhois{records: map[string]string{}},
		parser:   fakeParser{},
	}
}

func (d *testDeps) deps() Dependencies {
	return Dependencies{
		DNS:        d.dns,
		NetInfo:    d.resolver,
		HTTP:       d.http,
		Whois:      d.whois,
		Expiration: d.parser,
	}
}
