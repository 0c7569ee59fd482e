package storage

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"vdirsync/caldav"
	"vdirsync/carddav"
	"vdirsync/ical"
	"vdirsync/internal/webdav"
	"vdirsync/vderr"
)

// Flavor selects which DAV specialization a DAVStorage speaks.
type Flavor int

const (
	FlavorCalDAV Flavor = iota
	FlavorCardDAV
)

// DAVConfig configures a DAVStorage.
type DAVConfig struct {
	Client    *webdav.Client
	Flavor    Flavor
	HomeSet   string
	Extension string
	MIMEType  string
}

var propertyTags = map[Property]struct {
	readTag  string   // propfind request tag, e.g. "<displayname/>"
	propName xml.Name // decode target
	writeTag string   // proppatch body template, %s is the value
}{
	PropertyDisplayName: {
		readTag:  `<displayname/>`,
		propName: xml.Name{Space: "DAV:", Local: "displayname"},
		writeTag: `<d:displayname>%s</d:displayname>`,
	},
	PropertyColor: {
		readTag:  `<ical:calendar-color xmlns:ical="http://apple.com/ns/ical/"/>`,
		propName: xml.Name{Space: "http://apple.com/ns/ical/", Local: "calendar-color"},
		writeTag: `<ical:calendar-color xmlns:ical="http://apple.com/ns/ical/">%s</ical:calendar-color>`,
	},
	PropertyDescription: {
		readTag:  `<c:calendar-description/>`,
		propName: xml.Name{Space: "urn:ietf:params:xml:ns:caldav", Local: "calendar-description"},
		writeTag: `<c:calendar-description>%s</c:calendar-description>`,
	},
}

// DAVStorage is a thin Storage adapter over internal/webdav.Client,
// generalizing the teacher's nextcloud.Backend (a TaskManager adapter
// over raw PROPFIND/REPORT/PUT/DELETE) to the Storage/Collection
// contract and the real namespace-aware XML decoder instead of
// nextcloud.go's regex-fallback parsing.
type DAVStorage struct {
	client    *webdav.Client
	flavor    Flavor
	homeSet   string
	extension string
	mimeType  string
}

var _ Storage = (*DAVStorage)(nil)

// NewDAVStorage wraps an already-configured webdav.Client.
func NewDAVStorage(cfg DAVConfig) (*DAVStorage, error) {
	if cfg.Client == nil {
		return nil, vderr.Newf(vderr.InvalidInput, "dav storage requires a client")
	}
	if cfg.HomeSet == "" {
		return nil, vderr.Newf(vderr.InvalidInput, "dav storage requires a home set href")
	}
	return &DAVStorage{
		client:    cfg.Client,
		flavor:    cfg.Flavor,
		homeSet:   cfg.HomeSet,
		extension: strings.TrimPrefix(cfg.Extension, "."),
		mimeType:  cfg.MIMEType,
	}, nil
}

func (s *DAVStorage) Close() error { return nil }

func (s *DAVStorage) DiscoverCollections(ctx context.Context) ([]Collection, error) {
	switch s.flavor {
	case FlavorCardDAV:
		found, err := carddav.DiscoverCollections(ctx, s.client, s.homeSet)
		if err != nil {
			return nil, err
		}
		out := make([]Collection, len(found))
		for i, c := range found {
			out[i] = s.collection(c.Href)
		}
		return out, nil
	default:
		found, err := caldav.DiscoverCollections(ctx, s.client, s.homeSet)
		if err != nil {
			return nil, err
		}
		out := make([]Collection, len(found))
		for i, c := range found {
			out[i] = s.collection(c.Href)
		}
		return out, nil
	}
}

// CreateCollection MKCOLs a new collection under the home set, setting
// resourcetype to collection plus the flavor's specialized type per
// RFC 5689.
func (s *DAVStorage) CreateCollection(ctx context.Context, id string) (Collection, error) {
	href := s.client.ResolveHref(s.homeSet + id + "/")
	var extraBody []byte
	switch s.flavor {
	case FlavorCardDAV:
		extraBody = []byte(`<?xml version="1.0" encoding="UTF-8"?>
<mkcol xmlns="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <set><prop><resourcetype><collection/><card:addressbook/></resourcetype></prop></set>
</mkcol>`)
	default:
		extraBody = []byte(`<?xml version="1.0" encoding="UTF-8"?>
<mkcol xmlns="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <set><prop><resourcetype><collection/><c:calendar/></resourcetype></prop></set>
</mkcol>`)
	}
	if err := s.client.MkCol(ctx, href, extraBody); err != nil {
		return nil, err
	}
	return s.collection(href), nil
}

// DestroyCollection re-reads the collection's listing, verifies it is
// empty, then DELETEs it with If-Match on its current etag.
func (s *DAVStorage) DestroyCollection(ctx context.Context, c Collection) error {
	dc, ok := c.(*davCollection)
	if !ok {
		return vderr.Newf(vderr.InvalidInput, "collection %q is not a DAV collection", c.ID())
	}

	items, err := dc.List(ctx)
	if err != nil {
		return err
	}
	if len(items) > 0 {
		return vderr.Newf(vderr.CollectionNotEmpty, "collection %q has %d items", dc.ID(), len(items))
	}

	resp, err := s.client.PropFind(ctx, dc.href, `<getetag/>`)
	if err != nil {
		return err
	}
	etag, _ := resp.ETag()
	return s.client.Delete(ctx, dc.href, etag)
}

func (s *DAVStorage) collection(href string) *davCollection {
	return &davCollection{storage: s, href: href}
}

// CollectionAt returns a Collection handle for a known href without a
// discovery round trip, for callers (and the sync engine on resume)
// that already have a persisted collection href.
func (s *DAVStorage) CollectionAt(href string) Collection {
	return s.collection(href)
}

type davCollection struct {
	storage *DAVStorage
	href    string
}

var _ Collection = (*davCollection)(nil)

// ID returns the last non-empty path segment of the collection's href.
func (c *davCollection) ID() string {
	trimmed := strings.TrimSuffix(c.href, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

func (c *davCollection) Href() string { return c.href }

func (c *davCollection) List(ctx context.Context) ([]ItemRef, error) {
	children, err := c.storage.client.PropFindChildren(ctx, c.href, `<resourcetype/>`, `<getcontenttype/>`, `<getetag/>`)
	if err != nil {
		return nil, err
	}
	var out []ItemRef
	for i := range children {
		resp := &children[i]
		if resp.IsCollection() {
			continue
		}
		href, err := resp.Href()
		if err != nil {
			continue
		}
		etag, _ := resp.ETag()
		out = append(out, ItemRef{Href: href, ETag: etag})
	}
	return out, nil
}

func (c *davCollection) Get(ctx context.Context, href string) (*ical.Item, string, error) {
	data, etag, _, err := c.storage.client.Get(ctx, href)
	if err != nil {
		return nil, "", err
	}
	return ical.NewItem(string(data)), etag, nil
}

// GetMany issues a single calendar-multiget / addressbook-multiget
// REPORT for all hrefs, matching per-href success/failure from the
// returned multistatus.
func (c *davCollection) GetMany(ctx context.Context, hrefs []string) (map[string]GetResult, error) {
	out := make(map[string]GetResult, len(hrefs))
	if len(hrefs) == 0 {
		return out, nil
	}

	var body strings.Builder
	var reportTag, dataTag, dataNS, dataLocal string
	switch c.storage.flavor {
	case FlavorCardDAV:
		reportTag, dataTag = "card:addressbook-multiget", "card:address-data"
		dataNS, dataLocal = "urn:ietf:params:xml:ns:carddav", "address-data"
	default:
		reportTag, dataTag = "c:calendar-multiget", "c:calendar-data"
		dataNS, dataLocal = "urn:ietf:params:xml:ns:caldav", "calendar-data"
	}

	body.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><%s xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav" xmlns:card="urn:ietf:params:xml:ns:carddav"><d:prop><d:getetag/><%s/></d:prop>`, reportTag, dataTag))
	for _, href := range hrefs {
		body.WriteString(fmt.Sprintf(`<d:href>%s</d:href>`, xmlEscape(href)))
	}
	body.WriteString(fmt.Sprintf(`</%s>`, reportTag))

	ms, err := c.storage.client.Report(ctx, c.href, "1", []byte(body.String()))
	if err != nil {
		return nil, err
	}

	dataName := xml.Name{Space: dataNS, Local: dataLocal}

	seen := make(map[string]bool, len(hrefs))
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		href, err := resp.Href()
		if err != nil {
			continue
		}
		seen[href] = true
		etag, _ := resp.ETag()
		val, ok := resp.Prop(dataName)
		if !ok {
			out[href] = GetResult{Err: vderr.MissingData(dataTag)}
			continue
		}
		out[href] = GetResult{Item: ical.NewItem(val.String()), ETag: etag}
	}
	for _, href := range hrefs {
		if !seen[href] {
			out[href] = GetResult{Err: vderr.New(vderr.DoesNotExist, nil)}
		}
	}
	return out, nil
}

// Add PUTs under a server-path derived from the collection href and the
// item's ident plus the configured file extension.
func (c *davCollection) Add(ctx context.Context, item *ical.Item) (string, string, error) {
	href := c.href + item.Ident() + "." + c.storage.extension
	etag, err := c.storage.client.Put(ctx, href, c.storage.mimeType, []byte(item.Raw()), webdav.PutOptions{IfNoneMatch: "*"})
	if err != nil {
		return "", "", err
	}
	return href, etag, nil
}

func (c *davCollection) Update(ctx context.Context, href, etag string, item *ical.Item) (string, error) {
	return c.storage.client.Put(ctx, href, c.storage.mimeType, []byte(item.Raw()), webdav.PutOptions{IfMatch: etag})
}

func (c *davCollection) Delete(ctx context.Context, href, etag string) error {
	return c.storage.client.Delete(ctx, href, etag)
}

func (c *davCollection) GetProperty(ctx context.Context, name Property) (string, error) {
	spec, ok := propertyTags[name]
	if !ok {
		return "", vderr.Newf(vderr.InvalidInput, "unknown collection property %q", name)
	}
	resp, err := c.storage.client.PropFind(ctx, c.href, spec.readTag)
	if err != nil {
		return "", err
	}
	val, ok := resp.Prop(spec.propName)
	if !ok {
		return "", vderr.New(vderr.DoesNotExist, nil)
	}
	return val.String(), nil
}

func (c *davCollection) SetProperty(ctx context.Context, name Property, value string) error {
	spec, ok := propertyTags[name]
	if !ok {
		return vderr.Newf(vderr.InvalidInput, "unknown collection property %q", name)
	}
	propXML := fmt.Sprintf(spec.writeTag, xmlEscape(value))
	return c.storage.client.PropPatch(ctx, c.href, []byte(propXML))
}

func xmlEscape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
