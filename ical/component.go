// Package ical implements the minimal amount of iCalendar/vCard structure
// handling vdirsync needs: splitting a BEGIN/END-delimited text blob into
// nested components, splitting a VCALENDAR into standalone items with
// inlined timezones, and wrapping a single item's raw text (ical/item.go).
// It is not a general iCalendar parser — property values are opaque lines,
// not parsed into typed fields. See SPEC_FULL.md §4/§21 for why a full
// parser is explicitly out of scope.
package ical

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"vdirsync/vderr"
)

// Component is one BEGIN:<kind>/END:<kind> block. Lines holds the raw
// property lines that appeared directly inside it (not those of children).
type Component struct {
	Kind     string
	Lines    []string
	Children []*Component
}

// Parse tokenizes r into a single root Component. Any line before the first
// BEGIN, or after the matching END of the root, is rejected.
func Parse(r io.Reader) (*Component, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var stack []*Component
	var root *Component
	sawAnyLine := false

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		sawAnyLine = true

		switch {
		case strings.HasPrefix(line, "BEGIN:"):
			kind := strings.TrimPrefix(line, "BEGIN:")
			node := &Component{Kind: kind}
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Children = append(top.Children, node)
			}
			stack = append(stack, node)

		case strings.HasPrefix(line, "END:"):
			kind := strings.TrimPrefix(line, "END:")
			if len(stack) == 0 {
				return nil, vderr.Newf(vderr.InvalidData, "unbalanced END:%s with no open component", kind)
			}
			top := stack[len(stack)-1]
			if top.Kind != kind {
				return nil, vderr.Newf(vderr.InvalidData, "unbalanced END:%s, expected END:%s", kind, top.Kind)
			}
			stack = stack[:len(stack)-1]

			if len(stack) == 0 {
				if root != nil {
					return nil, vderr.Newf(vderr.InvalidData, "multiple root components")
				}
				root = top
			}

		default:
			if len(stack) == 0 {
				return nil, vderr.Newf(vderr.InvalidData, "data outside BEGIN/END: %q", line)
			}
			top := stack[len(stack)-1]
			top.Lines = append(top.Lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, vderr.Wrapf(vderr.Io, err, "reading component text")
	}

	if !sawAnyLine {
		return nil, vderr.Newf(vderr.InvalidData, "empty input")
	}
	if len(stack) != 0 {
		return nil, vderr.Newf(vderr.InvalidData, "unterminated component %q", stack[len(stack)-1].Kind)
	}
	if root == nil {
		return nil, vderr.Newf(vderr.InvalidData, "no root component found")
	}

	return root, nil
}

// standaloneKinds are the component kinds that Split promotes to top-level
// items. Anything else nested directly under VCALENDAR is left untouched
// (it is not split out, but it also does not itself become an item).
var standaloneKinds = map[string]bool{
	"VEVENT":   true,
	"VTODO":    true,
	"VJOURNAL": true,
}

// Split splits a VCALENDAR component into standalone items: one per
// VEVENT/VTODO/VJOURNAL child, each with every VTIMEZONE child of the
// calendar duplicated into it. A non-VCALENDAR root is rejected.
func Split(cal *Component) ([]*Component, error) {
	if cal.Kind != "VCALENDAR" {
		return nil, vderr.Newf(vderr.InvalidData, "expected VCALENDAR root, got %s", cal.Kind)
	}

	var timezones []*Component
	var standalone []*Component
	for _, child := range cal.Children {
		switch {
		case child.Kind == "VTIMEZONE":
			timezones = append(timezones, child)
		case standaloneKinds[child.Kind]:
			standalone = append(standalone, child)
		}
	}

	items := make([]*Component, 0, len(standalone))
	for _, item := range standalone {
		clone := &Component{
			Kind:     item.Kind,
			Lines:    append([]string(nil), item.Lines...),
			Children: append([]*Component(nil), item.Children...),
		}
		for _, tz := range timezones {
			clone.Children = append(clone.Children, cloneComponent(tz))
		}
		items = append(items, clone)
	}

	return items, nil
}

func cloneComponent(c *Component) *Component {
	clone := &Component{
		Kind:  c.Kind,
		Lines: append([]string(nil), c.Lines...),
	}
	for _, child := range c.Children {
		clone.Children = append(clone.Children, cloneComponent(child))
	}
	return clone
}

// Encode writes the canonical CRLF-terminated BEGIN:/END: framing of c,
// recursing into children.
func (c *Component) Encode(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "BEGIN:%s\r\n", c.Kind); err != nil {
		return vderr.Wrapf(vderr.Io, err, "writing BEGIN:%s", c.Kind)
	}
	for _, line := range c.Lines {
		if _, err := fmt.Fprintf(w, "%s\r\n", line); err != nil {
			return vderr.Wrapf(vderr.Io, err, "writing property line")
		}
	}
	for _, child := range c.Children {
		if err := child.Encode(w); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "END:%s\r\n", c.Kind); err != nil {
		return vderr.Wrapf(vderr.Io, err, "writing END:%s", c.Kind)
	}
	return nil
}

// String renders the canonical encoding as a string.
func (c *Component) String() string {
	var sb strings.Builder
	_ = c.Encode(&sb)
	return sb.String()
}
