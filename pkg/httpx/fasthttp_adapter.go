package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

// FastHTTPDoer executes requests with fasthttp. fasthttp has no native
// context support, so cancellation is mapped onto a deadline: the ctx
// deadline when present, otherwise Timeout from now.
type FastHTTPDoer struct {
	Client  *fasthttp.Client
	Timeout time.Duration
}

// NewFastHTTPDoer returns a fasthttp-backed Doer.
func NewFastHTTPDoer(timeout time.Duration) *FastHTTPDoer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FastHTTPDoer{Client: &fasthttp.Client{}, Timeout: timeout}
}

func (d *FastHTTPDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	freq := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fresp)

	freq.Header.SetMethod(req.Method)
	freq.SetRequestURI(req.URL)
	for k, vals := range req.Header {
		for _, v := range vals {
			freq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 {
		freq.SetBody(req.Body)
	}

	deadline := time.Now().Add(d.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := d.Client.DoDeadline(freq, fresp, deadline); err != nil {
		// report cancellation as the ctx error when the ctx fired first
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}

	hdr := make(http.Header)
	fresp.Header.VisitAll(func(k, v []byte) {
		hdr[string(k)] = append(hdr[string(k)], string(v))
	})
	body := append([]byte(nil), fresp.Body()...)
	return &Response{Status: fresp.StatusCode(), Header: hdr, Body: body}, nil
}
