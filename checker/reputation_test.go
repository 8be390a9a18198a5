package checker

import (
	"context"
	"testing"

	"github.com/EFForg/availability-backend/db"
	"github.com/EFForg/availability-backend/logger"
	"github.com/EFForg/availability-backend/models"
	"github.com/EFForg/availability-backend/subject"
)

func TestDNSBLChecker(t *testing.T) {
	client := &fakeDNS{answers: map[string][]string{
		"bad.example.com.dbl.example.net A": {"bad.example.com.dbl.example.net. 60 IN A 127.0.1.2"},
		"1.2.0.192.zen.example.net A":       {"1.2.0.192.zen.example.net. 60 IN A 127.0.0.2"},
	}}
	checker := &DNSBLChecker{
		Zones:  []string{"dbl.example.net", "zen.example.net."},
		Client: client,
		Log:    logger.NewNop(),
	}
	tests := []struct {
		raw       string
		malicious bool
	}{
		{"bad.example.com", true},
		{"good.example.com", false},
		{"192.0.2.1", true},
		{"192.0.2.2", false},
	}
	for _, test := range tests {
		verdict, err := checker.Check(context.Background(), subject.Parse(test.raw))
		if err != nil {
			t.Fatalf("%s: %v", test.raw, err)
		}
		if verdict.IsMalicious() != test.malicious {
			t.Errorf("%s: malicious = %v, want %v", test.raw, verdict.IsMalicious(), test.malicious)
		}
	}
}

func TestDNSBLCheckerCaches(t *testing.T) {
	ctx := context.Background()
	cache := db.InitMemDatabase()
	client := &fakeDNS{answers: map[string][]string{
		"bad.example.com.dbl.example.net A": {"x. 60 IN A 127.0.0.2"},
	}}
	checker := &DNSBLChecker{
		Zones:     []string{"dbl.example.net"},
		Client:    client,
		Cache:     cache,
		CacheDays: 1,
		Log:       logger.NewNop(),
	}
	for _, raw := range []string{"bad.example.com", "bad.example.com", "good.example.com", "good.example.com"} {
		checker.Check(ctx, subject.Parse(raw))
	}
	if got := len(client.log.list()); got != 2 {
		t.Errorf("Expected 2 upstream queries, got %d", got)
	}
	record, _ := cache.GetCache(ctx, models.CacheReputation, "good.example.com")
	if record == nil || record.Payload != reputationClean {
		t.Errorf("Expected clean verdict cached, got %+v", record)
	}
	verdict, _ := checker.Check(ctx, subject.Parse("bad.example.com"))
	if !verdict.IsMalicious() || verdict.ListedBy[0] != "dbl.example.net" {
		t.Errorf("Expected cached listing, got %+v", verdict)
	}
}

func TestDNSBLCheckerWithoutZones(t *testing.T) {
	checker := &DNSBLChecker{Client: &fakeDNS{}}
	verdict, err := checker.Check(context.Background(), subject.Parse("example.com"))
	if verdict != nil || err != nil {
		t.Errorf("Expected no verdict, got %v, %v", verdict, err)
	}
}

func TestDNSBLCheckerDoesNotCachePartialAnswers(t *testing.T) {
	ctx := context.Background()
	cache := db.InitMemDatabase()
	defer cache.Close()
	client := &fakeDNS{
		answers: map[string][]string{},
		errs: map[string]error{
			"example.com.bl-b.example.net A": context.DeadlineExceeded,
		},
	}
	checker := &DNSBLChecker{
		Zones:     []string{"bl-a.example.net", "bl-b.example.net"},
		Client:    client,
		Cache:     cache,
		CacheDays: 1,
		Log:       logger.NewNop(),
	}
	verdict, err := checker.Check(ctx, subject.Parse("example.com"))
	if err != nil || verdict.IsMalicious() {
		t.Fatalf("Expected a clean partial answer, got %+v, %v", verdict, err)
	}
	if record, _ := cache.GetCache(ctx, models.CacheReputation, "example.com"); record != nil {
		t.Fatalf("Expected nothing cached after a failed zone, got %+v", record)
	}

	// bl-b recovers and lists the subject.
	client.errs = nil
	client.answers["example.com.bl-b.example.net A"] = []string{"x. 60 IN A 127.0.0.2"}
	verdict, err = checker.Check(ctx, subject.Parse("example.com"))
	if err != nil || !verdict.IsMalicious() {
		t.Errorf("Expected the recovered zone to be asked again, got %+v, %v", verdict, err)
	}
	if record, _ := cache.GetCache(ctx, models.CacheReputation, "example.com"); record == nil || record.Payload != "bl-b.example.net" {
		t.Errorf("Expected the listing to be cached, got %+v", record)
	}
}
