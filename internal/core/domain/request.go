package domain

import (
	"context"
	"net/http"
	"net/url"
)

// Request describes one outgoing call to the commerce API.
// Path is relative to the API base URL and drives role resolution.
//
// A Request is a value: the retry marker can only be set through AsRetry,
// which returns a copy, so a request that has already been retried can never
// be turned back into a first attempt.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte

	retried bool
}

// NewRequest builds a first-attempt request.
func NewRequest(method, path string, body []byte) Request {
	return Request{Method: method, Path: path, Body: body}
}

// Retried reports whether this request is the single allowed retry.
func (r Request) Retried() bool { return r.retried }

// AsRetry returns a copy of r marked as the retry of the original call.
func (r Request) AsRetry() Request {
	r.retried = true
	return r
}

// Response is a fully read response from the commerce API.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Doer executes a Request. The Request Pipeline is the Doer every
// authenticated API client is built on.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}
