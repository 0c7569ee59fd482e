// Package bootstrap implements spec.md §4.6's end-to-end discovery
// sequence: given nothing but a base URI (and credentials), work out the
// concrete calendar-home-set or addressbook-home-set URL a DAV client
// should sync against.
package bootstrap

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"vdirsync/caldav"
	"vdirsync/carddav"
	"vdirsync/internal/dnsdiscover"
	"vdirsync/internal/webdav"
	"vdirsync/vderr"
)

// Flavor selects which DAV specialization to bootstrap.
type Flavor int

const (
	CalDAV Flavor = iota
	CardDAV
)

// Result is what a successful Discover call resolves.
type Result struct {
	HomeSet      string
	Collections  []string
	DisplayNames map[string]string
}

// Config parameterizes Discover. Discoverer defaults to a real DNS-backed
// dnsdiscover.Discoverer if left nil; tests supply one backed by a fake
// resolver so discovery tests never touch the network.
type Config struct {
	Flavor     Flavor
	BaseURI    string
	Auth       webdav.Authenticator
	Discoverer *dnsdiscover.Discoverer
}

// Discover runs the full bootstrap sequence: SRV lookup, TXT/well-known
// context path resolution, current-user-principal, then the flavor's
// home-set property. DNS record absence at any stage falls back to the
// original host/port/path rather than failing; a discovery step that
// actively errors (malformed TXT, HTTP failure) is fatal.
func Discover(ctx context.Context, cfg Config) (*Result, error) {
	u, err := url.Parse(cfg.BaseURI)
	if err != nil {
		return nil, vderr.Wrapf(vderr.InvalidURL, err, "parsing base URI %q", cfg.BaseURI)
	}

	discoverer := cfg.Discoverer
	if discoverer == nil {
		discoverer = dnsdiscover.New()
	}

	endpoint, err := resolveEndpoint(ctx, cfg.Flavor, u, discoverer)
	if err != nil {
		return nil, err
	}

	client, err := webdav.NewClient(webdav.ClientConfig{
		Endpoint: endpoint,
		Auth:     cfg.Auth,
	})
	if err != nil {
		return nil, err
	}
	defer client.Close()

	principal, err := client.FindCurrentUserPrincipal(ctx, "")
	if err != nil {
		return nil, err
	}

	var homeSet string
	var collections []discovered

	switch cfg.Flavor {
	case CalDAV:
		homeSet, err = caldav.HomeSet(ctx, client, principal)
		if err != nil {
			return nil, err
		}
		found, err := caldav.DiscoverCollections(ctx, client, homeSet)
		if err != nil {
			return nil, err
		}
		for _, c := range found {
			collections = append(collections, discovered{c.Href, c.DisplayName})
		}
	case CardDAV:
		homeSet, err = carddav.HomeSet(ctx, client, principal)
		if err != nil {
			return nil, err
		}
		found, err := carddav.DiscoverCollections(ctx, client, homeSet)
		if err != nil {
			return nil, err
		}
		for _, c := range found {
			collections = append(collections, discovered{c.Href, c.DisplayName})
		}
	default:
		return nil, vderr.Newf(vderr.InvalidInput, "unknown bootstrap flavor %d", cfg.Flavor)
	}

	result := &Result{HomeSet: homeSet, DisplayNames: map[string]string{}}
	for _, c := range collections {
		result.Collections = append(result.Collections, c.Href)
		result.DisplayNames[c.Href] = c.DisplayName
	}
	return result, nil
}

type discovered struct {
	Href, DisplayName string
}

// resolveEndpoint runs the SRV → TXT/well-known part of the sequence,
// returning a concrete https?://host:port/path endpoint to build a
// webdav.Client against.
func resolveEndpoint(ctx context.Context, flavor Flavor, u *url.URL, discoverer *dnsdiscover.Discoverer) (string, error) {
	kind, scheme := dnsKind(flavor, u.Scheme)

	domain := u.Hostname()
	if domain == "" {
		domain = u.Path
	}

	targets, err := discoverer.Discover(ctx, kind, domain)
	if err != nil {
		return "", err
	}
	target := targets[0]
	// With no SRV record the target is the domain itself; an explicit port
	// in the base URI then takes precedence over the service default.
	if p := u.Port(); p != "" && target.Host == domain {
		if n, err := strconv.ParseUint(p, 10, 16); err == nil {
			target.Port = uint16(n)
		}
	}

	path := u.Path
	if path == "" {
		contextPath, err := discoverer.DiscoverContextPath(ctx, kind, domain)
		if err != nil {
			return "", err
		}
		path = contextPath
	}

	endpoint := &url.URL{
		Scheme: scheme,
		Host:   hostport(target.Host, target.Port),
		Path:   path,
	}

	if path == "" {
		// No TXT context path either: fall back to a well-known probe once
		// the client exists, which requires an endpoint already. Probe
		// against the bare host/port first, then let the caller's first
		// PropFind surface any 404 as a vderr.BadStatusCode error.
		probeClient, err := webdav.NewClient(webdav.ClientConfig{Endpoint: endpoint.String()})
		if err != nil {
			return "", err
		}
		defer probeClient.Close()

		service := "caldav"
		if flavor == CardDAV {
			service = "carddav"
		}
		if wellKnown, err := probeClient.FindContextPath(ctx, service); err == nil {
			endpoint.Path = wellKnown
		}
	}

	return endpoint.String(), nil
}

func dnsKind(flavor Flavor, scheme string) (dnsdiscover.Kind, string) {
	secure := scheme != "http"
	switch flavor {
	case CardDAV:
		if secure {
			return dnsdiscover.CardDAVS, "https"
		}
		return dnsdiscover.CardDAV, "http"
	default:
		if secure {
			return dnsdiscover.CalDAVS, "https"
		}
		return dnsdiscover.CalDAV, "http"
	}
}

func hostport(host string, port uint16) string {
	if port == 0 || port == 443 || port == 80 {
		return host
	}
	return fmt.Sprintf("%s:%s", host, strconv.Itoa(int(port)))
}
