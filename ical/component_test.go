package ical_test

import (
	"strings"
	"testing"

	"vdirsync/ical"
)

const sampleCalendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//vdirsync//test//EN
BEGIN:VTIMEZONE
TZID:Europe/Berlin
BEGIN:STANDARD
DTSTART:19701025T030000
END:STANDARD
END:VTIMEZONE
BEGIN:VEVENT
UID:event-1@example.com
SUMMARY:First event
END:VEVENT
BEGIN:VEVENT
UID:event-2@example.com
SUMMARY:Second event
END:VEVENT
END:VCALENDAR
`

func TestParseNested(t *testing.T) {
	root, err := ical.Parse(strings.NewReader(sampleCalendar))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if root.Kind != "VCALENDAR" {
		t.Fatalf("expected VCALENDAR root, got %s", root.Kind)
	}
	if len(root.Children) != 3 {
		t.Fatalf("expected 3 children (1 VTIMEZONE + 2 VEVENT), got %d", len(root.Children))
	}
	if got := root.Children[0].Kind; got != "VTIMEZONE" {
		t.Fatalf("expected VTIMEZONE first, got %s", got)
	}
	tz := root.Children[0]
	if len(tz.Children) != 1 || tz.Children[0].Kind != "STANDARD" {
		t.Fatalf("expected VTIMEZONE to have one STANDARD child, got %+v", tz.Children)
	}
}

func TestParseUnbalancedEnd(t *testing.T) {
	_, err := ical.Parse(strings.NewReader("BEGIN:VEVENT\r\nUID:x\r\nEND:VTODO\r\n"))
	if err == nil {
		t.Fatalf("expected error for mismatched END")
	}
}

func TestParseUnterminated(t *testing.T) {
	_, err := ical.Parse(strings.NewReader("BEGIN:VEVENT\r\nUID:x\r\n"))
	if err == nil {
		t.Fatalf("expected error for unterminated component")
	}
}

func TestParseDataOutsideComponent(t *testing.T) {
	_, err := ical.Parse(strings.NewReader("UID:x\r\nBEGIN:VEVENT\r\nEND:VEVENT\r\n"))
	if err == nil {
		t.Fatalf("expected error for data outside BEGIN/END")
	}
}

func TestSplitInlinesTimezones(t *testing.T) {
	root, err := ical.Parse(strings.NewReader(sampleCalendar))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	items, err := ical.Split(root)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	for _, item := range items {
		if item.Kind != "VEVENT" {
			t.Fatalf("expected VEVENT, got %s", item.Kind)
		}
		var sawTZ bool
		for _, child := range item.Children {
			if child.Kind == "VTIMEZONE" {
				sawTZ = true
			}
		}
		if !sawTZ {
			t.Fatalf("expected VTIMEZONE to be inlined into item %s", item.Lines)
		}
	}
}

func TestSplitRejectsNonCalendar(t *testing.T) {
	root := &ical.Component{Kind: "VEVENT"}
	if _, err := ical.Split(root); err == nil {
		t.Fatalf("expected error splitting non-VCALENDAR root")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	root, err := ical.Parse(strings.NewReader(sampleCalendar))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	encoded := root.String()
	if !strings.HasPrefix(encoded, "BEGIN:VCALENDAR\r\n") {
		t.Fatalf("expected CRLF-framed BEGIN, got %q", encoded[:20])
	}
	if !strings.HasSuffix(encoded, "END:VCALENDAR\r\n") {
		t.Fatalf("expected CRLF-framed END, got %q", encoded[len(encoded)-20:])
	}

	reparsed, err := ical.Parse(strings.NewReader(encoded))
	if err != nil {
		t.Fatalf("reparsing encoded output: %v", err)
	}
	if len(reparsed.Children) != len(root.Children) {
		t.Fatalf("round trip lost children: got %d want %d", len(reparsed.Children), len(root.Children))
	}
}
