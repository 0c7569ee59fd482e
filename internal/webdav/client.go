package webdav

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vdirsync/internal/ratelimit"
	"vdirsync/vderr"
)

// RateLimitConfig tunes how the client retries a 429 Too Many Requests
// response. A zero value disables retrying: 429s are returned to the
// caller as a BadStatusCode error like any other non-2xx status.
type RateLimitConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	EnableJitter bool
	Stats        *ratelimit.Stats
}

// ClientConfig configures a Client's underlying HTTP transport: endpoint,
// credentials, TLS verification, timeout and rate-limit retries. The
// connection-pool sizes are fixed in NewClient and are not configurable.
type ClientConfig struct {
	Endpoint           string
	Auth               Authenticator
	InsecureSkipVerify bool
	Timeout            time.Duration
	RateLimit          RateLimitConfig
	Logger             zerolog.Logger
}

// Client is a minimal authenticated WebDAV transport: it knows how to issue
// PROPFIND/REPORT/MKCOL/PUT/DELETE/OPTIONS requests and decode multistatus
// responses, but has no calendar/address-book semantics of its own.
type Client struct {
	http      *http.Client
	endpoint  *url.URL
	auth      Authenticator
	log       zerolog.Logger
	rateLimit RateLimitConfig
}

// NewClient builds a Client against the given base endpoint.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, vderr.Wrapf(vderr.InvalidURL, err, "parsing endpoint %q", cfg.Endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, vderr.Newf(vderr.InvalidURL, "endpoint %q must be http(s)", cfg.Endpoint)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	auth := cfg.Auth
	if auth == nil {
		auth = NoAuth{}
	}

	rl := cfg.RateLimit
	if rl.MaxRetries > 0 {
		if rl.BaseDelay == 0 {
			rl.BaseDelay = time.Second
		}
		if rl.MaxDelay == 0 {
			rl.MaxDelay = 32 * time.Second
		}
	}

	return &Client{
		http:      &http.Client{Transport: transport, Timeout: timeout},
		endpoint:  u,
		auth:      auth,
		log:       cfg.Logger,
		rateLimit: rl,
	}, nil
}

// Close releases pooled connections.
func (c *Client) Close() {
	if t, ok := c.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// ResolveHref resolves a server-relative href against the client's endpoint.
func (c *Client) ResolveHref(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return c.endpoint.ResolveReference(ref).String()
}

// Endpoint returns the client's base endpoint URL.
func (c *Client) Endpoint() *url.URL {
	return c.endpoint
}

func (c *Client) newRequest(ctx context.Context, method, target string, body []byte, headers map[string]string) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	loc := target
	if loc == "" {
		loc = c.endpoint.String()
	} else {
		loc = c.ResolveHref(target)
	}

	req, err := http.NewRequestWithContext(ctx, method, loc, r)
	if err != nil {
		return nil, vderr.Wrapf(vderr.Io, err, "building %s request", method)
	}
	c.auth.Apply(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("webdav request")

	if c.rateLimit.MaxRetries <= 0 {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, vderr.Wrapf(vderr.Io, err, "%s %s", req.Method, req.URL.String())
		}
		return resp, nil
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, vderr.Wrapf(vderr.Io, err, "%s %s", req.Method, req.URL.String())
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()

		if c.rateLimit.Stats != nil {
			c.rateLimit.Stats.RecordRateLimit()
		}

		if attempt >= c.rateLimit.MaxRetries {
			return nil, vderr.New(vderr.Io, &ratelimit.RateLimitError{
				Backend:     req.URL.Host,
				Attempt:     attempt,
				MaxAttempts: c.rateLimit.MaxRetries,
			})
		}

		retryAfter := ratelimit.ParseRetryAfter(resp.Header.Get("Retry-After"))
		delay := ratelimit.CalculateBackoff(attempt, retryAfter, c.rateLimit.BaseDelay, c.rateLimit.MaxDelay, c.rateLimit.EnableJitter)

		c.log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("webdav rate limited, retrying")

		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, vderr.Wrapf(vderr.Io, err, "rewinding request body for retry")
			}
			req.Body = body
		}

		select {
		case <-req.Context().Done():
			return nil, vderr.New(vderr.Io, req.Context().Err())
		case <-time.After(delay):
		}
	}
}

// propfind issues a Depth-bounded PROPFIND for the given properties against
// target (relative to the endpoint; "" means the endpoint itself).
func (c *Client) propfind(ctx context.Context, target string, depth string, props ...string) (*MultiStatus, error) {
	body := buildPropfind(props...)
	req, err := c.newRequest(ctx, "PROPFIND", target, body, map[string]string{
		"Content-Type": "application/xml; charset=utf-8",
		"Depth":        depth,
	})
	if err != nil {
		return nil, err
	}
	return c.doMultiStatus(req)
}

// PropFind issues Depth: 0 PROPFIND against target, returning the single
// response describing target itself.
func (c *Client) PropFind(ctx context.Context, target string, props ...string) (*Response, error) {
	ms, err := c.propfind(ctx, target, "0", props...)
	if err != nil {
		return nil, err
	}
	if len(ms.Responses) == 0 {
		return nil, vderr.Newf(vderr.DoesNotExist, "no propfind response for %s", target)
	}
	return &ms.Responses[0], nil
}

// PropFindChildren issues Depth: 1 PROPFIND, returning every response
// except the one describing target itself.
func (c *Client) PropFindChildren(ctx context.Context, target string, props ...string) ([]Response, error) {
	ms, err := c.propfind(ctx, target, "1", props...)
	if err != nil {
		return nil, err
	}

	targetPath := c.ResolveHref(target)
	u, err := url.Parse(targetPath)
	selfPath := ""
	if err == nil {
		selfPath = strings.TrimSuffix(u.Path, "/")
	}

	var children []Response
	for _, r := range ms.Responses {
		href, err := r.Href()
		if err != nil {
			continue
		}
		if strings.TrimSuffix(href, "/") == selfPath {
			continue
		}
		children = append(children, r)
	}
	return children, nil
}

// Report issues a REPORT request with the given raw XML body and depth.
func (c *Client) Report(ctx context.Context, target, depth string, body []byte) (*MultiStatus, error) {
	req, err := c.newRequest(ctx, "REPORT", target, body, map[string]string{
		"Content-Type": "application/xml; charset=utf-8",
		"Depth":        depth,
	})
	if err != nil {
		return nil, err
	}
	return c.doMultiStatus(req)
}

func (c *Client) doMultiStatus(req *http.Request) (*MultiStatus, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, vderr.StatusCode(resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vderr.Wrapf(vderr.Io, err, "reading multistatus body")
	}

	var ms MultiStatus
	if err := xml.Unmarshal(data, &ms); err != nil {
		return nil, vderr.Wrapf(vderr.Xml, err, "decoding multistatus body")
	}
	return &ms, nil
}

// MkCol creates a collection at target. extraBody, if non-nil, is an
// already-encoded <mkcol> request body (caldav/carddav use this to set
// collection properties atomically per RFC 5689).
func (c *Client) MkCol(ctx context.Context, target string, extraBody []byte) error {
	headers := map[string]string{}
	if extraBody != nil {
		headers["Content-Type"] = "application/xml; charset=utf-8"
	}
	req, err := c.newRequest(ctx, "MKCOL", target, extraBody, headers)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return vderr.StatusCode(resp.StatusCode)
	}
	return nil
}

// PropPatch sets a single DAV property at target via PROPPATCH. propXML
// is the already-encoded <propname>value</propname> element; namespace
// declarations beyond the DAV: default come from extraNamespaces, same
// as propfind bodies.
func (c *Client) PropPatch(ctx context.Context, target string, propXML []byte) error {
	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?><d:propertyupdate xmlns="DAV:" xmlns:d="DAV:"`)
	for _, ns := range extraNamespaces {
		body.WriteString(" " + ns)
	}
	body.WriteString(`><d:set><d:prop>`)
	body.Write(propXML)
	body.WriteString(`</d:prop></d:set></d:propertyupdate>`)

	req, err := c.newRequest(ctx, "PROPPATCH", target, body.Bytes(), map[string]string{
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return err
	}
	ms, err := c.doMultiStatus(req)
	if err != nil {
		return err
	}
	if len(ms.Responses) == 0 {
		return vderr.Newf(vderr.DoesNotExist, "no proppatch response for %s", target)
	}
	for _, ps := range ms.Responses[0].PropStats {
		code, err := ps.StatusCode()
		if err != nil {
			return err
		}
		if code < 200 || code >= 300 {
			return vderr.StatusCode(code)
		}
	}
	return nil
}

// PutOptions carries optimistic-concurrency preconditions for Put.
type PutOptions struct {
	// IfMatch requires the current etag to equal this value.
	IfMatch string
	// IfNoneMatch, when "*", requires the resource not to exist yet.
	IfNoneMatch string
}

// Put uploads data (an iCalendar/vCard object) to target, returning the new
// etag if the server supplied one.
func (c *Client) Put(ctx context.Context, target string, contentType string, data []byte, opts PutOptions) (etag string, err error) {
	headers := map[string]string{"Content-Type": contentType}
	if opts.IfMatch != "" {
		headers["If-Match"] = quoteETag(opts.IfMatch)
	}
	if opts.IfNoneMatch != "" {
		headers["If-None-Match"] = opts.IfNoneMatch
	}

	req, err := c.newRequest(ctx, "PUT", target, data, headers)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return "", vderr.StatusCode(resp.StatusCode)
	}

	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// Delete removes target, optionally conditioned on its current etag.
func (c *Client) Delete(ctx context.Context, target, ifMatch string) error {
	headers := map[string]string{}
	if ifMatch != "" {
		headers["If-Match"] = quoteETag(ifMatch)
	}
	req, err := c.newRequest(ctx, "DELETE", target, nil, headers)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return vderr.New(vderr.DoesNotExist, nil)
	default:
		return vderr.StatusCode(resp.StatusCode)
	}
}

// Get retrieves target's raw body along with its etag and content type.
func (c *Client) Get(ctx context.Context, target string) (data []byte, etag, contentType string, err error) {
	req, err := c.newRequest(ctx, "GET", target, nil, nil)
	if err != nil {
		return nil, "", "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, "", "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", "", vderr.New(vderr.DoesNotExist, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", "", vderr.StatusCode(resp.StatusCode)
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", vderr.Wrapf(vderr.Io, err, "reading GET body")
	}
	return data, strings.Trim(resp.Header.Get("ETag"), `"`), resp.Header.Get("Content-Type"), nil
}

// Options returns the set of DAV compliance classes the server advertises
// (e.g. "1", "2", "calendar-access"), used to check server capabilities.
func (c *Client) Options(ctx context.Context, target string) (map[string]bool, error) {
	req, err := c.newRequest(ctx, "OPTIONS", target, nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	classes := map[string]bool{}
	for _, tok := range strings.Split(resp.Header.Get("DAV"), ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			classes[tok] = true
		}
	}
	return classes, nil
}

// CheckSupport reports whether the server advertises the given DAV
// compliance class (e.g. "calendar-access", "addressbook") at target.
func (c *Client) CheckSupport(ctx context.Context, target, class string) (bool, error) {
	classes, err := c.Options(ctx, target)
	if err != nil {
		return false, err
	}
	return classes[class], nil
}

// ForceDelete removes target unconditionally, ignoring any etag.
func (c *Client) ForceDelete(ctx context.Context, target string) error {
	return c.Delete(ctx, target, "")
}

// FindHrefPropAsURI resolves a single-href property (such as
// current-user-principal or a home-set) at target and returns it as an
// absolute URI relative to the client's endpoint.
func (c *Client) FindHrefPropAsURI(ctx context.Context, target string, reqTag string, propName xml.Name) (string, error) {
	resp, err := c.PropFind(ctx, target, reqTag)
	if err != nil {
		return "", err
	}
	val, ok := resp.Prop(propName)
	if !ok {
		return "", vderr.MissingData(propName.Local)
	}
	var v struct {
		Href Href `xml:"href"`
	}
	if err := val.Decode(&v); err != nil {
		return "", vderr.Wrapf(vderr.Xml, err, "decoding %s", propName.Local)
	}
	return c.ResolveHref(v.Href.Path), nil
}

// FindContextPath probes target/.well-known/<service> and follows a single
// redirect, per RFC 6764 §5. It returns the resolved context path, or
// vderr.NotAvailable if the server doesn't answer the well-known URI.
func (c *Client) FindContextPath(ctx context.Context, service string) (string, error) {
	wellKnown := c.endpoint.ResolveReference(&url.URL{Path: "/.well-known/" + service})

	noRedirect := &http.Client{
		Transport: c.http.Transport,
		Timeout:   c.http.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", wellKnown.String(), nil)
	if err != nil {
		return "", vderr.Wrapf(vderr.Io, err, "building well-known request")
	}
	c.auth.Apply(req)

	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", vderr.Wrapf(vderr.NotAvailable, err, "probing %s", wellKnown.String())
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", vderr.Newf(vderr.NotAvailable, "well-known redirect missing Location")
		}
		u, err := url.Parse(loc)
		if err != nil {
			return "", vderr.Wrapf(vderr.NotAvailable, err, "parsing well-known Location")
		}
		return c.endpoint.ResolveReference(u).Path, nil
	case resp.StatusCode == http.StatusOK:
		return wellKnown.Path, nil
	default:
		return "", vderr.New(vderr.NotAvailable, nil)
	}
}

// FindCurrentUserPrincipal resolves the current-user-principal property at
// target, per RFC 5397.
func (c *Client) FindCurrentUserPrincipal(ctx context.Context, target string) (string, error) {
	resp, err := c.PropFind(ctx, target, `<current-user-principal/>`)
	if err != nil {
		return "", err
	}
	href, ok := resp.CurrentUserPrincipal()
	if !ok {
		return "", vderr.MissingData("current-user-principal")
	}
	return c.ResolveHref(href), nil
}

// FindHomeSet resolves a home-set property (calendar-home-set or
// addressbook-home-set) at principalURL. propTag is the bare request tag,
// e.g. "<c:calendar-home-set/>"; propName is its fully-qualified XML name.
func (c *Client) FindHomeSet(ctx context.Context, principalURL string, propTag string, propName xml.Name) (string, error) {
	return c.FindHrefPropAsURI(ctx, principalURL, propTag, propName)
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) {
		return etag
	}
	return fmt.Sprintf(`"%s"`, etag)
}
