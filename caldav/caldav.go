// Package caldav specializes internal/webdav for CalDAV (RFC 4791):
// discovering calendar collections under a home set and checking server
// support for the calendar-access capability.
package caldav

import (
	"context"
	"encoding/xml"

	"vdirsync/internal/webdav"
)

const (
	namespace       = "urn:ietf:params:xml:ns:caldav"
	davNamespace    = "DAV:"
	ComplianceClass = "calendar-access"
	HomeSetPropTag  = `<c:calendar-home-set/>`
)

var (
	homeSetPropName  = xml.Name{Space: namespace, Local: "calendar-home-set"}
	resourceTypeName = xml.Name{Space: davNamespace, Local: "resourcetype"}
)

// Collection describes one discovered calendar.
type Collection struct {
	Href        string
	DisplayName string
	ETag        string
}

// HomeSet resolves the calendar-home-set property of the current user's
// principal URL.
func HomeSet(ctx context.Context, c *webdav.Client, principalURL string) (string, error) {
	return c.FindHomeSet(ctx, principalURL, HomeSetPropTag, homeSetPropName)
}

// CheckSupport reports whether the server advertises calendar-access
// support at target, per RFC 4791 §5.1.
func CheckSupport(ctx context.Context, c *webdav.Client, target string) (bool, error) {
	return c.CheckSupport(ctx, target, ComplianceClass)
}

// DiscoverCollections lists the calendar collections directly under
// homeSet, filtering PROPFIND children down to those whose resourcetype
// includes DAV:collection plus CALDAV:calendar.
func DiscoverCollections(ctx context.Context, c *webdav.Client, homeSet string) ([]Collection, error) {
	children, err := c.PropFindChildren(ctx, homeSet, `<resourcetype/>`, `<displayname/>`, `<getetag/>`)
	if err != nil {
		return nil, err
	}

	var out []Collection
	for i := range children {
		resp := &children[i]
		if !resp.IsCollection() || !isCalendar(resp) {
			continue
		}
		href, err := resp.Href()
		if err != nil {
			continue
		}
		name, _ := resp.DisplayName()
		etag, _ := resp.ETag()
		out = append(out, Collection{Href: href, DisplayName: name, ETag: etag})
	}
	return out, nil
}

func isCalendar(resp *webdav.Response) bool {
	val, ok := resp.Prop(resourceTypeName)
	if !ok {
		return false
	}
	var rt struct {
		Calendar *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar"`
	}
	if err := val.Decode(&rt); err != nil {
		return false
	}
	return rt.Calendar != nil
}
