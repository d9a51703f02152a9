package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"parley/pkg/httpx"
)

// probe hits a health endpoint through either outbound transport. Handy as
// a liveness check for parleyd or minimarket, and for comparing net/http
// against fasthttp on the client side.

func main() {
	url := flag.String("url", "http://127.0.0.1:7117/healthz", "endpoint to probe")
	transport := flag.String("transport", httpx.TransportNetHTTP, "nethttp | fasthttp")
	count := flag.Int("count", 1, "number of probes")
	timeout := flag.Duration("timeout", 5*time.Second, "per-probe timeout")
	flag.Parse()

	d, err := httpx.New(*transport, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ok := true
	for i := 0; i < *count; i++ {
		start := time.Now()
		resp, err := d.Do(context.Background(), &httpx.Request{Method: http.MethodGet, URL: *url})
		if err != nil {
			fmt.Printf("ERR %s %v\n", *url, err)
			ok = false
			continue
		}
		fmt.Printf("%d %s %s %s\n", resp.Status, *url, time.Since(start).Round(time.Microsecond), strings.TrimSpace(string(resp.Body)))
		if resp.Status != http.StatusOK {
			ok = false
		}
	}
	if !ok {
		os.Exit(1)
	}
}
