package dnsdiscover_test

import (
	"context"
	"net"
	"testing"

	"vdirsync/internal/dnsdiscover"
	"vdirsync/vderr"
)

type fakeResolver struct {
	srvs    []*net.SRV
	srvErr  error
	txt     []string
	txtErr  error
	srvCall func(service, proto, name string)
	txtCall func(name string)
}

func (f *fakeResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	if f.srvCall != nil {
		f.srvCall(service, proto, name)
	}
	return "", f.srvs, f.srvErr
}

func (f *fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if f.txtCall != nil {
		f.txtCall(name)
	}
	return f.txt, f.txtErr
}

func notFoundErr() error {
	return &net.DNSError{Err: "no such host", IsNotFound: true}
}

func TestDiscoverNoSRVFallsBackToDomain(t *testing.T) {
	res := &fakeResolver{srvErr: notFoundErr()}
	d := &dnsdiscover.Discoverer{Resolver: res}

	targets, err := d.Discover(context.Background(), dnsdiscover.CalDAVS, "example.com")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(targets) != 1 || targets[0].Host != "example.com" || targets[0].Port != 443 {
		t.Fatalf("unexpected targets: %+v", targets)
	}
}

func TestDiscoverPlainCalDAVDefaultsPort80(t *testing.T) {
	res := &fakeResolver{srvErr: notFoundErr()}
	d := &dnsdiscover.Discoverer{Resolver: res}

	targets, err := d.Discover(context.Background(), dnsdiscover.CalDAV, "example.com")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if targets[0].Port != 80 {
		t.Fatalf("expected port 80, got %d", targets[0].Port)
	}
}

func TestDiscoverSortsByPriorityThenWeight(t *testing.T) {
	res := &fakeResolver{srvs: []*net.SRV{
		{Target: "low-priority.example.com.", Port: 8443, Priority: 20, Weight: 100},
		{Target: "high-priority-light.example.com.", Port: 8443, Priority: 10, Weight: 10},
		{Target: "high-priority-heavy.example.com.", Port: 8443, Priority: 10, Weight: 90},
	}}
	d := &dnsdiscover.Discoverer{Resolver: res}

	targets, err := d.Discover(context.Background(), dnsdiscover.CalDAVS, "example.com")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(targets))
	}
	want := []string{"high-priority-heavy.example.com", "high-priority-light.example.com", "low-priority.example.com"}
	for i, w := range want {
		if targets[i].Host != w {
			t.Fatalf("target[%d] = %q, want %q", i, targets[i].Host, w)
		}
	}
}

func TestDiscoverDotTargetIsNotAvailable(t *testing.T) {
	res := &fakeResolver{srvs: []*net.SRV{{Target: ".", Port: 443}}}
	d := &dnsdiscover.Discoverer{Resolver: res}

	_, err := d.Discover(context.Background(), dnsdiscover.CalDAVS, "example.com")
	if !vderr.Is(err, vderr.NotAvailable) {
		t.Fatalf("expected NotAvailable, got %v", err)
	}
}

func TestDiscoverContextPathParsesPathEntry(t *testing.T) {
	res := &fakeResolver{txt: []string{"path=/dav/"}}
	d := &dnsdiscover.Discoverer{Resolver: res}

	path, err := d.DiscoverContextPath(context.Background(), dnsdiscover.CalDAVS, "example.com")
	if err != nil {
		t.Fatalf("DiscoverContextPath: %v", err)
	}
	if path != "/dav/" {
		t.Fatalf("unexpected path: %q", path)
	}
}

func TestDiscoverContextPathNoRecordReturnsEmpty(t *testing.T) {
	res := &fakeResolver{txtErr: notFoundErr()}
	d := &dnsdiscover.Discoverer{Resolver: res}

	path, err := d.DiscoverContextPath(context.Background(), dnsdiscover.CalDAVS, "example.com")
	if err != nil {
		t.Fatalf("DiscoverContextPath: %v", err)
	}
	if path != "" {
		t.Fatalf("expected empty path, got %q", path)
	}
}

func TestDiscoverContextPathMalformedTXT(t *testing.T) {
	res := &fakeResolver{txt: []string{"unexpected=value"}}
	d := &dnsdiscover.Discoverer{Resolver: res}

	_, err := d.DiscoverContextPath(context.Background(), dnsdiscover.CalDAVS, "example.com")
	if !vderr.Is(err, vderr.TxtError) {
		t.Fatalf("expected TxtError, got %v", err)
	}
}

func TestDiscoverContextPathQueriesExpectedName(t *testing.T) {
	var gotName string
	res := &fakeResolver{
		txt:     []string{"path=/dav/"},
		txtCall: func(name string) { gotName = name },
	}
	d := &dnsdiscover.Discoverer{Resolver: res}

	if _, err := d.DiscoverContextPath(context.Background(), dnsdiscover.CardDAV, "example.com"); err != nil {
		t.Fatalf("DiscoverContextPath: %v", err)
	}
	if gotName != "_carddav._tcp.example.com" {
		t.Fatalf("unexpected TXT query name: %q", gotName)
	}
}
