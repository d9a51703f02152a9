package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// NetHTTPDoer executes requests with the standard library client.
type NetHTTPDoer struct {
	Client *http.Client
}

// NewNetHTTPDoer returns a net/http-backed Doer with the given per-request
// timeout (zero means no timeout beyond ctx).
func NewNetHTTPDoer(timeout time.Duration) *NetHTTPDoer {
	return &NetHTTPDoer{Client: &http.Client{Timeout: timeout}}
}

func (d *NetHTTPDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			hr.Header.Add(k, v)
		}
	}
	resp, err := d.Client.Do(hr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: b}, nil
}
