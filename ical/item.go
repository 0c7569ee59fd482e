package ical

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Item wraps the raw encoded text of a single calendar/address-book object
// (one VEVENT/VTODO/VJOURNAL/VCARD plus any inlined VTIMEZONE). Storages
// persist and exchange Items as opaque byte blobs; vdirsync never parses
// property values beyond what UID extraction requires.
type Item struct {
	raw string
}

// NewItem wraps raw encoded iCalendar/vCard text as an Item.
func NewItem(raw string) *Item {
	return &Item{raw: raw}
}

// Raw returns the item's encoded text.
func (it *Item) Raw() string {
	return it.raw
}

// UID extracts the value of the UID property, unfolding RFC 5545 continued
// lines (a line beginning with a single space or tab is a continuation of
// the previous line) before matching. Returns "" if no UID property exists.
func (it *Item) UID() string {
	unfolded := unfoldLines(it.raw)
	for _, line := range unfolded {
		name, value, ok := splitProperty(line)
		if ok && name == "UID" {
			return value
		}
	}
	return ""
}

// unfoldLines splits s into logical lines, joining any physical line that
// starts with a space or tab onto the end of the previous logical line with
// the fold marker removed, per RFC 5545 §3.1.
func unfoldLines(s string) []string {
	physical := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")

	var logical []string
	for _, line := range physical {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if len(logical) == 0 {
				continue
			}
			logical[len(logical)-1] += line[1:]
			continue
		}
		logical = append(logical, line)
	}
	return logical
}

// splitProperty splits a single unfolded content line into its property
// name and value, ignoring any parameters (";..." before the first ":").
func splitProperty(line string) (name, value string, ok bool) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", "", false
	}
	head := line[:colon]
	value = line[colon+1:]
	if semi := strings.IndexByte(head, ';'); semi >= 0 {
		head = head[:semi]
	}
	name = strings.ToUpper(strings.TrimSpace(head))
	if name == "" {
		return "", "", false
	}
	return name, value, true
}

// Hash returns a content hash of the item's raw text, used as a synthetic
// etag by storages that have no server-provided one (webcal).
func (it *Item) Hash() string {
	sum := sha256.Sum256([]byte(it.raw))
	return hex.EncodeToString(sum[:])
}

// Ident returns the identifier a storage should file this item under: its
// UID if present, otherwise its content hash. Items without a UID (seen in
// the wild despite RFC 5545 requiring one) still get a stable, collision-
// resistant identity this way rather than failing to sync at all.
func (it *Item) Ident() string {
	if uid := it.UID(); uid != "" {
		return uid
	}
	return it.Hash()
}
