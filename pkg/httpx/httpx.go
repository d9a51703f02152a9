// Package httpx is the outbound-transport seam: the API client speaks one
// request/response shape and adapters map it onto net/http or fasthttp.
package httpx

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Transport names accepted by New.
const (
	TransportNetHTTP  = "nethttp"
	TransportFastHTTP = "fasthttp"
)

// Request is the unified outbound request representation.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response carries the status, headers and fully-read body of a reply.
// Non-2xx statuses are data here, not errors; only transport failures
// surface as errors from Do.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Doer executes one HTTP request, honoring ctx cancellation.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// New returns the Doer for the named transport. Empty selects net/http.
func New(transport string, timeout time.Duration) (Doer, error) {
	switch transport {
	case "", TransportNetHTTP:
		return NewNetHTTPDoer(timeout), nil
	case TransportFastHTTP:
		return NewFastHTTPDoer(timeout), nil
	default:
		return nil, fmt.Errorf("unknown http transport %q", transport)
	}
}
