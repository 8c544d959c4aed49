// Command netfetch is a small demonstration client for netcore, mirroring
// dgrr-http2/examples/client/main.go's shape: build a request, call Do,
// print the status and headers. Unlike the teacher's example it goes
// through netcore.Client instead of a bare fasthttp.HostClient, so the
// same call also exercises the cache, policy gate and 0-RTT ticket store
// when they're wired in.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/emberfox-browser/netcore/httpcache"
	"github.com/emberfox-browser/netcore/netcore"
	"github.com/emberfox-browser/netcore/netlog"
	"github.com/emberfox-browser/netcore/policy"
	"github.com/emberfox-browser/netcore/zerortt"
)

func main() {
	var (
		url        = flag.String("url", "https://example.com/", "URL to fetch")
		n          = flag.Int("n", 1, "number of concurrent requests")
		enableH3   = flag.Bool("h3", false, "attempt HTTP/3 with 0-RTT before falling back to h2")
		enableGate = flag.Bool("policy", false, "run the response through the policy gate")
	)
	flag.Parse()

	log := netlog.New("netfetch")

	var opts []netcore.Option
	opts = append(opts, netcore.WithLogger(log))

	cacheDisk, err := httpcache.NewDiskTier(os.TempDir()+"/netfetch-cache", zerortt.FileSecretStore{Path: os.TempDir() + "/netfetch-cache-key"})
	if err != nil {
		log.Error("disk cache unavailable, running memory-only", "err", err)
	} else {
		opts = append(opts, netcore.WithCache(httpcache.NewCache(httpcache.DefaultConfig(), cacheDisk, log)))
	}

	if *enableH3 {
		store := zerortt.NewStore(zerortt.FileSecretStore{Path: os.TempDir() + "/netfetch-tickets-key"}, log)
		opts = append(opts, netcore.WithHTTP3(true), netcore.WithZeroRTT(store))
	}

	if *enableGate {
		gate := policy.NewGate(policy.NewRegistry(), policy.NewRiskProfiles())
		opts = append(opts, netcore.WithPolicyGate(gate))
	}

	client := netcore.New(opts...)

	var wg sync.WaitGroup
	for i := 0; i < *n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			req := fasthttp.AcquireRequest()
			res := fasthttp.AcquireResponse()
			defer fasthttp.ReleaseRequest(req)
			defer fasthttp.ReleaseResponse(res)

			req.Header.SetMethod(fasthttp.MethodGet)
			req.SetRequestURI(*url)

			if err := client.Do(context.Background(), req, res); err != nil {
				log.Error("request failed", "i", i, "err", err)
				return
			}

			fmt.Printf("[%d] %d (%d bytes)\n", i, res.StatusCode(), len(res.Body()))
			res.Header.VisitAll(func(k, v []byte) {
				fmt.Printf("[%d] %s: %s\n", i, k, v)
			})
		}(i)
	}
	wg.Wait()
}
