package network

import (
	"net/http"
	"time"
)

// Request is a transport-agnostic description of an outbound HTTP request.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    string
}

// Response is a fully read HTTP response together with the request that produced it.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       string
	// Time is the round-trip duration, measured from dispatch to the end of the body.
	Time    time.Duration
	Request *Request
}

// Callback receives the outcome of a queued request. Exactly one of resp and
// err is non-nil.
type Callback func(resp *Response, err error)

// OK reports whether the response has a 200 status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode == http.StatusOK
}
