package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// NewGuardedClient returns an HTTP client that refuses private, loopback, link-local and metadata
// addresses after DNS resolution. Shop domains come from merchants, so Admin API calls go through it.
func NewGuardedClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()
	return safeurl.Client(config).Client
}
