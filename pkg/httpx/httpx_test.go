package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo-Method", r.Method)
		w.Header().Set("X-Echo-Auth", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("pong"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDoersAgainstRealServer(t *testing.T) {
	srv := echoServer(t)
	for name, d := range map[string]Doer{
		TransportNetHTTP:  NewNetHTTPDoer(5 * time.Second),
		TransportFastHTTP: NewFastHTTPDoer(5 * time.Second),
	} {
		t.Run(name, func(t *testing.T) {
			req := &Request{
				Method: http.MethodPost,
				URL:    srv.URL + "/ping",
				Header: http.Header{"Authorization": []string{"Bearer tok"}},
				Body:   []byte(`{}`),
			}
			resp, err := d.Do(context.Background(), req)
			if err != nil {
				t.Fatalf("Do failed: %v", err)
			}
			if resp.Status != http.StatusTeapot {
				t.Fatalf("status = %d", resp.Status)
			}
			if string(resp.Body) != "pong" {
				t.Fatalf("body = %q", resp.Body)
			}
			if got := resp.Header.Get("X-Echo-Method"); got != http.MethodPost {
				t.Fatalf("method seen by server = %q", got)
			}
			if got := resp.Header.Get("X-Echo-Auth"); got != "Bearer tok" {
				t.Fatalf("auth header seen by server = %q", got)
			}
		})
	}
}

func TestNewSelectsTransport(t *testing.T) {
	if d, err := New("", time.Second); err != nil {
		t.Fatalf("default transport: %v", err)
	} else if _, ok := d.(*NetHTTPDoer); !ok {
		t.Fatalf("default transport = %T", d)
	}
	if d, err := New(TransportFastHTTP, time.Second); err != nil {
		t.Fatalf("fasthttp transport: %v", err)
	} else if _, ok := d.(*FastHTTPDoer); !ok {
		t.Fatalf("fasthttp transport = %T", d)
	}
	if _, err := New("spdy", time.Second); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
}

func TestNetHTTPDoerHonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d := NewNetHTTPDoer(0)
	if _, err := d.Do(ctx, &Request{Method: http.MethodGet, URL: srv.URL}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestFastHTTPDoerCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewFastHTTPDoer(time.Second)
	if _, err := d.Do(ctx, &Request{Method: http.MethodGet, URL: "http://127.0.0.1:1/x"}); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}
