package webdav

import (
	"encoding/base64"
	"net/http"
)

// Authenticator applies credentials to an outgoing request. Storages built
// on top of this package own the actual credential material; vdirsync never
// persists or logs it (credential retrieval is delegated to the embedding
// program). Apply writes the plain header value into req.Header; nothing
// in the header map itself is masked.
type Authenticator interface {
	Apply(req *http.Request)
}

// NoAuth sends requests unauthenticated, for public/read-only endpoints
// such as webcal feeds.
type NoAuth struct{}

func (NoAuth) Apply(*http.Request) {}

// basicAuthHeader is a computed Basic auth header value. Its Raw() method
// returns the real value for req.Header.Set; its String() method renders
// "[redacted]" when the basicAuthHeader value itself is formatted. The
// string stored in req.Header is the plain value, so logging the header
// map prints the credential.
type basicAuthHeader string

func newBasicAuthHeader(username, password string) basicAuthHeader {
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return basicAuthHeader("Basic " + token)
}

func (h basicAuthHeader) Raw() string  { return string(h) }
func (basicAuthHeader) String() string { return "[redacted]" }

// BasicAuth applies RFC 7617 HTTP Basic authentication. An empty password
// is allowed (some servers authenticate on username/app-token alone).
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", newBasicAuthHeader(a.Username, a.Password).Raw())
}

// BearerAuth applies an RFC 6750 bearer token, e.g. an OAuth2 access token
// refreshed by the embedding program.
type BearerAuth struct {
	Token string
}

func (a BearerAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.Token)
}
