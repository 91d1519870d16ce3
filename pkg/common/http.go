package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// IntegrationName identifies this bridge to the remote account API.
const IntegrationName = "ha-checkwatt"

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper and stamps every request with the
// bridge user agent.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// Version returns the trimmed build version.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent returns the user agent sent on every outbound request.
func UserAgent() string {
	return "cwbridge/" + Version() + " (" + IntegrationName + ")"
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: UserAgent(),
		},
		Timeout: timeout,
	}
}
