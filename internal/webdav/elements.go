// Package webdav implements the subset of RFC 4918 (WebDAV) that the
// caldav and carddav packages build on: authenticated requests, PROPFIND/
// REPORT multi-status decoding, and MKCOL/PUT/DELETE with ETag
// preconditions. It knows nothing about calendar or
// address-book semantics — those live in caldav/carddav, which supply their
// own XML request/response bodies on top of this transport.
package webdav

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"vdirsync/vderr"
)

const davNamespace = "DAV:"

var (
	resourceTypeName       = xml.Name{Space: davNamespace, Local: "resourcetype"}
	displayNameName        = xml.Name{Space: davNamespace, Local: "displayname"}
	getETagName            = xml.Name{Space: davNamespace, Local: "getetag"}
	getLastModifiedName    = xml.Name{Space: davNamespace, Local: "getlastmodified"}
	getContentLengthName   = xml.Name{Space: davNamespace, Local: "getcontentlength"}
	currentUserPrincipName = xml.Name{Space: davNamespace, Local: "current-user-principal"}
)

// Href is a DAV href element. It is stored unescaped; Path returns it
// relative-to-root for use as a map key.
type Href struct {
	Path string
}

func (h *Href) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}
	u, err := url.Parse(s)
	if err != nil {
		return vderr.Wrapf(vderr.Xml, err, "parsing href %q", s)
	}
	h.Path = u.Path
	return nil
}

func (h Href) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Space: davNamespace, Local: "href"}
	return e.EncodeElement(h.Path, start)
}

// RawXMLValue holds an undecoded property value so callers can re-decode it
// against a concrete struct once they know which property it is.
type RawXMLValue struct {
	inner *etree
}

type etree struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content []byte     `xml:",innerxml"`
}

func (v *RawXMLValue) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var e etree
	if err := d.DecodeElement(&e, &start); err != nil {
		return err
	}
	v.inner = &e
	return nil
}

// Decode re-parses the raw value into dst, which must be a pointer. The
// XML name on the raw value is preserved so dst's XMLName (if any) matches:
// the element's own namespace becomes the default namespace of the
// re-parsed content, and the d, c, card and cs prefixes this package uses
// in its requests are declared. Child elements under any other prefix
// decode with the bare prefix as their namespace.
func (v *RawXMLValue) Decode(dst interface{}) error {
	if v == nil || v.inner == nil {
		return vderr.MissingData("property value")
	}
	name := v.inner.XMLName
	wrapped := fmt.Sprintf(`<%s xmlns="%s" xmlns:d="DAV:" %s>%s</%s>`,
		name.Local, name.Space, strings.Join(extraNamespaces, " "), v.inner.Content, name.Local)
	return xml.Unmarshal([]byte(wrapped), dst)
}

// Name returns the XML name of the property this value came from.
func (v *RawXMLValue) Name() xml.Name {
	if v == nil || v.inner == nil {
		return xml.Name{}
	}
	return v.inner.XMLName
}

// String returns the chardata content, trimmed.
func (v *RawXMLValue) String() string {
	if v == nil || v.inner == nil {
		return ""
	}
	var text struct {
		Data string `xml:",chardata"`
	}
	if err := v.Decode(&text); err != nil {
		return strings.TrimSpace(string(v.inner.Content))
	}
	return strings.TrimSpace(text.Data)
}

// PropStat is one "found under this status" group within a Response.
type PropStat struct {
	Prop struct {
		Values []RawXMLValue `xml:",any"`
	} `xml:"prop"`
	Status string `xml:"status"`
}

// StatusCode parses the HTTP status line in Status, e.g. "HTTP/1.1 200 OK".
func (p *PropStat) StatusCode() (int, error) {
	fields := strings.Fields(p.Status)
	if len(fields) < 2 {
		return 0, vderr.MissingData("status")
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, vderr.Wrapf(vderr.Xml, err, "parsing status code %q", p.Status)
	}
	return code, nil
}

// Response is one "response" element of a multistatus document.
type Response struct {
	Hrefs     []Href     `xml:"href"`
	Status    string     `xml:"status"`
	PropStats []PropStat `xml:"propstat"`
}

// Href returns the (single) href of this response, erroring if absent.
func (r *Response) Href() (string, error) {
	if len(r.Hrefs) == 0 {
		return "", vderr.MissingData("href")
	}
	return r.Hrefs[0].Path, nil
}

// Prop finds the first successfully (2xx) returned property matching name
// among this response's propstats.
func (r *Response) Prop(name xml.Name) (*RawXMLValue, bool) {
	for i := range r.PropStats {
		ps := &r.PropStats[i]
		code, err := ps.StatusCode()
		if err != nil || code/100 != 2 {
			continue
		}
		for j := range ps.Prop.Values {
			if ps.Prop.Values[j].Name() == name {
				return &ps.Prop.Values[j], true
			}
		}
	}
	return nil, false
}

// IsCollection reports whether the resourcetype property lists DAV:collection.
func (r *Response) IsCollection() bool {
	val, ok := r.Prop(resourceTypeName)
	if !ok {
		return false
	}
	var rt struct {
		Collection *struct{} `xml:"collection"`
	}
	if err := val.Decode(&rt); err != nil {
		return false
	}
	return rt.Collection != nil
}

// ETag returns the getetag property value, with surrounding quotes stripped.
func (r *Response) ETag() (string, bool) {
	val, ok := r.Prop(getETagName)
	if !ok {
		return "", false
	}
	return strings.Trim(val.String(), `"`), true
}

// LastModified returns the getlastmodified property value, in its raw
// RFC 1123 wire form (callers parse it with the layout they need).
func (r *Response) LastModified() (string, bool) {
	val, ok := r.Prop(getLastModifiedName)
	if !ok {
		return "", false
	}
	return val.String(), true
}

// ContentLength returns the getcontentlength property value.
func (r *Response) ContentLength() (int64, bool) {
	val, ok := r.Prop(getContentLengthName)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(val.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DisplayName returns the displayname property value.
func (r *Response) DisplayName() (string, bool) {
	val, ok := r.Prop(displayNameName)
	if !ok {
		return "", false
	}
	return val.String(), true
}

// CurrentUserPrincipal returns the href inside current-user-principal.
func (r *Response) CurrentUserPrincipal() (string, bool) {
	val, ok := r.Prop(currentUserPrincipName)
	if !ok {
		return "", false
	}
	var v struct {
		Href Href `xml:"href"`
	}
	if err := val.Decode(&v); err != nil {
		return "", false
	}
	return v.Href.Path, true
}

// MultiStatus is the root of a PROPFIND/REPORT 207 response.
type MultiStatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []Response `xml:"response"`
}

// ByHref returns the single response whose href equals path.
func (ms *MultiStatus) ByHref(path string) (*Response, bool) {
	for i := range ms.Responses {
		if h, err := ms.Responses[i].Href(); err == nil && h == path {
			return &ms.Responses[i], true
		}
	}
	return nil, false
}

// buildPropfind serialises a PROPFIND body requesting the given property
// names (XML tags; an unprefixed tag such as "<resourcetype/>" is in the
// body's default DAV: namespace, prefixed ones use extraNamespaces).
func buildPropfind(props ...string) []byte {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><d:propfind xmlns="DAV:" xmlns:d="DAV:"`)
	for _, ns := range extraNamespaces {
		sb.WriteString(" " + ns)
	}
	sb.WriteString("><d:prop>")
	for _, p := range props {
		sb.WriteString(p)
	}
	sb.WriteString("</d:prop></d:propfind>")
	return []byte(sb.String())
}

// extraNamespaces are namespace declarations PROPFIND requests include so
// callers can reference caldav/carddav-specific properties by short tag.
var extraNamespaces = []string{
	`xmlns:c="urn:ietf:params:xml:ns:caldav"`,
	`xmlns:card="urn:ietf:params:xml:ns:carddav"`,
	`xmlns:cs="http://calendarserver.org/ns/"`,
}
