package services

import (
	"crypto/tls"
	"net/http"
	"time"
)

// HTTPOptions configures the client used for outbound provider calls.
type HTTPOptions struct {
	// Timeout bounds a whole provider call. Zero means no timeout.
	Timeout time.Duration
	// InsecureSkipVerify disables certificate verification. It must only be set for local testing against
	// a provider stand-in with a self-signed certificate.
	InsecureSkipVerify bool
}

// NewHTTPClient returns an HTTP client configured with opts. Certificates are verified unless
// opts.InsecureSkipVerify is set.
func NewHTTPClient(opts HTTPOptions) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		// #nosec G402 -- explicit opt-in, logged at startup.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}
}
