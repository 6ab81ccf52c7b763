package cachekey

import (
	"net/http"
	"strings"
)

// Key returns the cache key for a request.
// Only GET requests are stored, so the key depends only on the request URI,
// e.g. `/api/polls/42` or `/search?q=cats`.
func Key(r *http.Request) string {
	return r.URL.RequestURI()
}

// VaryHeaders returns the request header values selected by the response's `Vary` header.
// These are the "relevant headers" that, together with the key, identify a stored response.
// A `Vary: *` response is signalled by returning ok=false: it must never be reused.
// Transport-level headers such as `Accept-Encoding` are never selected,
// as the stored body is already decoded.
func VaryHeaders(req *http.Request, resHeader http.Header) (vary http.Header, ok bool) {
	vary = make(http.Header)
	for _, name := range listHeader(resHeader, "Vary") {
		if name == "*" {
			return nil, false
		}
		name = http.CanonicalHeaderKey(name)
		if transportHeaders[name] {
			continue
		}
		vary[name] = req.Header.Values(name)
	}
	return vary, true
}

// transportHeaders are negotiated between the proxy and the origin.
var transportHeaders = map[string]bool{
	"Accept-Encoding": true,
	"Te":              true,
}

// VaryMatches checks that the request carries the same values for all stored vary headers.
// Absent headers only match absent headers.
func VaryMatches(stored http.Header, req *http.Request) bool {
	for name, values := range stored {
		if transportHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		if normalize(values) != normalize(req.Header.Values(name)) {
			return false
		}
	}
	return true
}

// listHeader gets the comma-separated elements of a list header field, over all its lines.
func listHeader(h http.Header, name string) []string {
	elements := make([]string, 0)
	for _, line := range h.Values(name) {
		for _, el := range strings.Split(line, ",") {
			if el = strings.TrimSpace(el); el != "" {
				elements = append(elements, el)
			}
		}
	}
	return elements
}

func normalize(values []string) string {
	return strings.Join(strings.Fields(strings.Join(values, ",")), " ")
}
