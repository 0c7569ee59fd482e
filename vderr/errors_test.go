package vderr_test

import (
	"errors"
	"testing"

	"vdirsync/vderr"
)

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := vderr.New(vderr.Io, base)

	if !errors.Is(err, base) {
		t.Fatalf("expected errors.Is to find wrapped base error")
	}
	if !vderr.Is(err, vderr.Io) {
		t.Fatalf("expected vderr.Is to match kind Io")
	}
	if vderr.Is(err, vderr.AccessDenied) {
		t.Fatalf("did not expect vderr.Is to match kind AccessDenied")
	}
}

func TestMissingData(t *testing.T) {
	err := vderr.MissingData("getetag")
	if !vderr.Is(err, vderr.Xml) {
		t.Fatalf("expected kind Xml, got %v", err)
	}
	if err.Detail != "missing_data(getetag)" {
		t.Fatalf("unexpected detail: %s", err.Detail)
	}
}

func TestStatusCode(t *testing.T) {
	err := vderr.StatusCode(404)
	if !vderr.Is(err, vderr.BadStatusCode) {
		t.Fatalf("expected kind BadStatusCode, got %v", err)
	}
	if err.Detail != "404" {
		t.Fatalf("unexpected detail: %s", err.Detail)
	}
}

func TestErrorStringsWithAndWithoutDetail(t *testing.T) {
	e1 := vderr.New(vderr.ReadOnly, nil)
	if e1.Error() != "read_only" {
		t.Fatalf("unexpected: %s", e1.Error())
	}

	e2 := vderr.Newf(vderr.InvalidInput, "href %q escapes root", "../x")
	if e2.Error() == "" {
		t.Fatalf("expected non-empty message")
	}
}
