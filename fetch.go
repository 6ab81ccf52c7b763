package offlinecache

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Fetcher is the network boundary.
// Cache strategies, pre-caching, pass-through and deferred action replay all go through it.
// A returned error means the network could not be reached.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
}

type originFetcher struct {
	originURL  url.URL
	originHost string
	httpClient http.Client
}

// NewOriginFetcher returns a fetcher sending requests to the origin.
// Only the request URI of the incoming request is used.
// Redirects are not followed: they are returned to the caller as is.
func NewOriginFetcher(originURL url.URL, originHost string) Fetcher {
	f := &originFetcher{
		originURL:  originURL,
		originHost: originHost,
		httpClient: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: 30 * time.Second,
		},
	}
	// use provided hostname for origin if configured
	if originHost != "" {
		f.httpClient.Transport = newTLSTransport(originHost)
	}
	return f
}

// fetch the resource specified in the incoming request from the origin
func (f *originFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	uri := f.originURL.String() + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, uri, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = r.ContentLength
	if f.originHost != "" {
		req.Host = f.originHost
	}
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	// the transport negotiates compression and decodes the body
	req.Header.Del("Accept-Encoding")

	res, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	// as per https://www.rfc-editor.org/rfc/rfc9110#section-6.6.1-8
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	return res, nil
}

// fetcherTransport lets the pass-through reverse proxy use the fetcher.
type fetcherTransport struct {
	fetcher Fetcher
}

func (t fetcherTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.fetcher.Fetch(r.Context(), r)
}
