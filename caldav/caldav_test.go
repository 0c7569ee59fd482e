package caldav_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"vdirsync/caldav"
	"vdirsync/internal/webdav"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *webdav.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := webdav.NewClient(webdav.ClientConfig{Endpoint: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestDiscoverCollectionsFiltersNonCalendars(t *testing.T) {
	const body = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/dav/calendars/alice/</d:href>
    <d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
  <d:response>
    <d:href>/dav/calendars/alice/personal/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/><c:calendar/></d:resourcetype>
        <d:displayname>Personal</d:displayname>
        <d:getetag>"abc"</d:getetag>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/dav/calendars/alice/inbox/</d:href>
    <d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
</d:multistatus>`

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(body))
	})

	cols, err := caldav.DiscoverCollections(context.Background(), c, "/dav/calendars/alice/")
	if err != nil {
		t.Fatalf("DiscoverCollections: %v", err)
	}
	if len(cols) != 1 {
		t.Fatalf("expected 1 calendar collection, got %d: %+v", len(cols), cols)
	}
	if cols[0].DisplayName != "Personal" {
		t.Fatalf("unexpected displayname: %q", cols[0].DisplayName)
	}
	if cols[0].ETag != "abc" {
		t.Fatalf("unexpected etag: %q", cols[0].ETag)
	}
}

func TestCheckSupport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("DAV", "1, 2, calendar-access")
		w.WriteHeader(http.StatusOK)
	})

	ok, err := caldav.CheckSupport(context.Background(), c, "/dav/")
	if err != nil {
		t.Fatalf("CheckSupport: %v", err)
	}
	if !ok {
		t.Fatalf("expected calendar-access support")
	}
}

func TestHomeSet(t *testing.T) {
	const body = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/dav/principals/alice/</d:href>
    <d:propstat>
      <d:prop><c:calendar-home-set><d:href>/dav/calendars/alice/</d:href></c:calendar-home-set></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(body))
	})

	homeSet, err := caldav.HomeSet(context.Background(), c, "/dav/principals/alice/")
	if err != nil {
		t.Fatalf("HomeSet: %v", err)
	}
	if homeSet == "" {
		t.Fatalf("expected non-empty home set")
	}
}
