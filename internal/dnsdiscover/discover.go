// Package dnsdiscover implements the DNS half of RFC 6764 CalDAV/CardDAV
// service discovery: SRV record lookup for the service endpoint, TXT record
// lookup for an optional context path.
package dnsdiscover

import (
	"context"
	"net"
	"sort"
	"strings"

	"vdirsync/vderr"
)

// Kind identifies which RFC 6764 service to discover.
type Kind int

const (
	CalDAVS Kind = iota
	CalDAV
	CardDAVS
	CardDAV
)

func (k Kind) service() (proto string, tcp string) {
	switch k {
	case CalDAVS:
		return "caldavs", "tcp"
	case CalDAV:
		return "caldav", "tcp"
	case CardDAVS:
		return "carddavs", "tcp"
	case CardDAV:
		return "carddav", "tcp"
	default:
		return "caldavs", "tcp"
	}
}

// Target is one candidate endpoint for a discovered service.
type Target struct {
	Host string
	Port uint16
}

// Resolver is the subset of *net.Resolver this package needs. Tests supply
// a fake implementation instead of hitting real DNS.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (cname string, addrs []*net.SRV, err error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Discoverer resolves CalDAV/CardDAV services over DNS.
type Discoverer struct {
	Resolver Resolver
}

// New returns a Discoverer backed by net.DefaultResolver.
func New() *Discoverer {
	return &Discoverer{Resolver: net.DefaultResolver}
}

// Discover resolves the SRV target(s) for the given service and domain. If
// no SRV record exists, it returns a single Target built from domain and
// the service's conventional default port (443 for the *s variants, 80 for
// the rest) rather than treating absence as an error — per RFC 6764 §6,
// a missing SRV record just means "try the domain directly".
func (d *Discoverer) Discover(ctx context.Context, kind Kind, domain string) ([]Target, error) {
	proto, tcp := kind.service()

	_, srvs, err := d.Resolver.LookupSRV(ctx, proto, tcp, domain)
	if err != nil {
		if isNoSuchHost(err) {
			return []Target{defaultTarget(kind, domain)}, nil
		}
		return nil, vderr.Wrapf(vderr.DNSError, err, "looking up SRV _%s._%s.%s", proto, tcp, domain)
	}
	if len(srvs) == 0 {
		return []Target{defaultTarget(kind, domain)}, nil
	}

	for _, srv := range srvs {
		if srv.Target == "." {
			return nil, vderr.New(vderr.NotAvailable, nil)
		}
	}

	// Stable-sort by ascending priority (net.LookupSRV already sorts this
	// way per RFC 2782, but we don't rely on that) then descending weight
	// within a priority band. Weighted-random selection among equal-priority
	// records is intentionally not implemented; see DESIGN.md Open
	// Question 4.
	sort.SliceStable(srvs, func(i, j int) bool {
		if srvs[i].Priority != srvs[j].Priority {
			return srvs[i].Priority < srvs[j].Priority
		}
		return srvs[i].Weight > srvs[j].Weight
	})

	targets := make([]Target, 0, len(srvs))
	for _, srv := range srvs {
		targets = append(targets, Target{
			Host: strings.TrimSuffix(srv.Target, "."),
			Port: srv.Port,
		})
	}
	return targets, nil
}

func defaultTarget(kind Kind, domain string) Target {
	port := uint16(80)
	switch kind {
	case CalDAVS, CardDAVS:
		port = 443
	}
	return Target{Host: domain, Port: port}
}

// DiscoverContextPath looks up the TXT record for the given service and
// domain, returning the "path=..." value it advertises. If no TXT record
// exists, it returns "", nil (callers fall back to a well-known probe).
// The first record starting with "path=" wins; if records exist but none
// of them starts with "path=", the result is vderr.TxtError.
func (d *Discoverer) DiscoverContextPath(ctx context.Context, kind Kind, domain string) (string, error) {
	proto, tcp := kind.service()
	name := "_" + proto + "._" + tcp + "." + domain

	records, err := d.Resolver.LookupTXT(ctx, name)
	if err != nil {
		if isNoSuchHost(err) {
			return "", nil
		}
		return "", vderr.Wrapf(vderr.DNSError, err, "looking up TXT %s", name)
	}
	if len(records) == 0 {
		return "", nil
	}

	for _, record := range records {
		if path, ok := strings.CutPrefix(record, "path="); ok {
			return path, nil
		}
	}
	return "", vderr.Newf(vderr.TxtError, "TXT record for %s has no path= entry: %q", name, records[0])
}

func isNoSuchHost(err error) bool {
	dnsErr, ok := err.(*net.DNSError)
	return ok && dnsErr.IsNotFound
}
