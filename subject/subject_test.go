package subject

import "testing"

func TestParseKinds(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
		idna string
		host string
	}{
		{"Example.COM", KindDomain, "example.com", "example.com"},
		{"  example.com.  ", KindDomain, "example.com", "example.com"},
		{"bücher.de", KindDomain, "xn--bcher-kva.de", "xn--bcher-kva.de"},
		{"192.0.2.1", KindIPv4, "192.0.2.1", "192.0.2.1"},
		{"2001:DB8::1", KindIPv6, "2001:db8::1", "2001:db8::1"},
		{"HTTPS://Bücher.de/Path?q=1", KindURL, "https://xn--bcher-kva.de/Path?q=1", "xn--bcher-kva.de"},
		{"http://192.0.2.1:8080/", KindURL, "http://192.0.2.1:8080/", "192.0.2.1"},
	}
	for _, test := range tests {
		s := Parse(test.raw)
		if s.Kind != test.kind || s.IDNA != test.idna || s.Host != test.host {
			t.Errorf("Parse(%q) = %+v, want kind=%s idna=%s host=%s",
				test.raw, s, test.kind, test.idna, test.host)
		}
	}
}

func TestSecondLevelDomain(t *testing.T) {
	tests := map[string]bool{
		"example.com":         true,
		"www.example.com":     false,
		"example.co.uk":       true,
		"com":                 false,
		"192.0.2.1":           false,
		"https://example.org": true,
	}
	for raw, want := range tests {
		if got := Parse(raw).SecondLevelDomain(); got != want {
			t.Errorf("Parse(%q).SecondLevelDomain() = %v, want %v", raw, got, want)
		}
	}
}

func TestTLD(t *testing.T) {
	if tld := Parse("example.invalid-tld").TLD(); tld != "invalid-tld" {
		t.Errorf("Expected tld invalid-tld, got %s", tld)
	}
}
