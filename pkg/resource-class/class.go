// Package resourceclass decides how an intercepted request is cached.
package resourceclass

import (
	"net/http"
	"path"
	"strings"
)

type Class string

const (
	Static Class = "static"
	API    Class = "api"
	Image  Class = "image"
)

// DefaultAPIPrefix is the path prefix of the dynamic API.
const DefaultAPIPrefix = "/api/"

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".svg":  {},
}

// Browser-internal schemes. Requests for these never reach the cache.
var extensionSchemes = map[string]struct{}{
	"chrome-extension":     {},
	"moz-extension":        {},
	"safari-web-extension": {},
}

type Classifier struct {
	// Path prefix for API requests. DefaultAPIPrefix if empty.
	APIPrefix string
}

// Intercept reports whether the request is handled by the cache at all.
// Non-GET requests and extension scheme requests are passed through untouched.
func (c Classifier) Intercept(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	_, internal := extensionSchemes[strings.ToLower(r.URL.Scheme)]
	return !internal
}

// Classify assigns exactly one class to the request.
func (c Classifier) Classify(r *http.Request) Class {
	prefix := c.APIPrefix
	if prefix == "" {
		prefix = DefaultAPIPrefix
	}
	if strings.HasPrefix(r.URL.Path, prefix) {
		return API
	}
	if IsImage(r) {
		return Image
	}
	return Static
}

// IsImage checks the declared destination (`Sec-Fetch-Dest`) and the path extension.
func IsImage(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Dest"), "image") {
		return true
	}
	_, ok := imageExtensions[strings.ToLower(path.Ext(r.URL.Path))]
	return ok
}

// IsNavigation reports whether the request is a page navigation (`Sec-Fetch-Mode: navigate`).
func IsNavigation(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate")
}
