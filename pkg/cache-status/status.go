package cachestatus

import (
	"fmt"
	"strings"
)

// Identifier is the cache name used in the `Cache-Status` header.
const Identifier = "VotaTok-Offline"

type Status string

const (
	StatusHit = "hit"
	StatusFwd = "fwd"
)

type FwdReason string

const (
	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdVaryMiss FwdReason = "vary-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics did not allow its use.
	// Network-first requests always report this.
	FwdRequest FwdReason = "request"
)

// Details used by the offline fallbacks.
const (
	DetailOffline  = "offline"
	DetailFallback = "offline-fallback"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs *CacheStatus) SetDetail(detail string) {
	cs.Detail = detail
}

// IsHit reports whether the response came from the cache.
func (cs CacheStatus) IsHit() bool {
	return cs.Status == StatusHit
}

func (cs CacheStatus) String() string {
	parts := []string{Identifier}
	switch {
	case cs.Status == StatusFwd && cs.FwdReason != "":
		parts = append(parts, fmt.Sprintf("%s=%s", cs.Status, cs.FwdReason))
	case cs.Status != "":
		parts = append(parts, string(cs.Status))
	}
	if cs.Stored {
		parts = append(parts, "stored")
	}
	if cs.Detail != "" {
		parts = append(parts, "detail="+cs.Detail)
	}
	return strings.Join(parts, "; ")
}
