// Package carddav specializes internal/webdav for CardDAV (RFC 6352):
// discovering address book collections under a home set and checking
// server support for the addressbook capability.
package carddav

import (
	"context"
	"encoding/xml"

	"vdirsync/internal/webdav"
)

const (
	namespace       = "urn:ietf:params:xml:ns:carddav"
	davNamespace    = "DAV:"
	ComplianceClass = "addressbook"
	HomeSetPropTag  = `<card:addressbook-home-set/>`
)

var (
	homeSetPropName  = xml.Name{Space: namespace, Local: "addressbook-home-set"}
	resourceTypeName = xml.Name{Space: davNamespace, Local: "resourcetype"}
)

// Collection describes one discovered address book.
type Collection struct {
	Href        string
	DisplayName string
	ETag        string
}

// HomeSet resolves the addressbook-home-set property of the current user's
// principal URL.
func HomeSet(ctx context.Context, c *webdav.Client, principalURL string) (string, error) {
	return c.FindHomeSet(ctx, principalURL, HomeSetPropTag, homeSetPropName)
}

// CheckSupport reports whether the server advertises addressbook support
// at target, per RFC 6352 §6.1.
func CheckSupport(ctx context.Context, c *webdav.Client, target string) (bool, error) {
	return c.CheckSupport(ctx, target, ComplianceClass)
}

// DiscoverCollections lists the address book collections directly under
// homeSet, filtering PROPFIND children down to those whose resourcetype
// includes DAV:collection plus CARDDAV:addressbook.
func DiscoverCollections(ctx context.Context, c *webdav.Client, homeSet string) ([]Collection, error) {
	children, err := c.PropFindChildren(ctx, homeSet, `<resourcetype/>`, `<displayname/>`, `<getetag/>`)
	if err != nil {
		return nil, err
	}

	var out []Collection
	for i := range children {
		resp := &children[i]
		if !resp.IsCollection() || !isAddressBook(resp) {
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

func isAddressBook(resp *webdav.Response) bool {
	val, ok := resp.Prop(resourceTypeName)
	if !ok {
		return false
	}
	var rt struct {
		AddressBook *struct{} `xml:"urn:ietf:params:xml:ns:carddav addressbook"`
	}
	if err := val.Decode(&rt); err != nil {
		return false
	}
	return rt.AddressBook != nil
}
