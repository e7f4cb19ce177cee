// Package httpc builds the HTTP clients used for provider calls.
// Provider packages take an *http.Client; these are the defaults they get.
package httpc

import (
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// Client is the shared client for short request/response calls.
var Client = NewClient(DefaultTimeout)

// Streaming is the shared client for long-lived response bodies such as
// synthesized audio. It has no overall timeout; callers bound it with a
// context deadline.
var Streaming = NewClient(0)

// NewClient creates a client with the given overall timeout.
// A zero timeout leaves the request bounded only by its context.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Or returns c when non-nil, otherwise the shared Client.
func Or(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return Client
}
