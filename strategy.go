package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/votatok/offline-cache/cache"
	cachekey "github.com/votatok/offline-cache/pkg/cache-key"
	cachestatus "github.com/votatok/offline-cache/pkg/cache-status"
	resourceclass "github.com/votatok/offline-cache/pkg/resource-class"
	serializer "github.com/votatok/offline-cache/pkg/response-serializer"
)

var errVaryStar = errors.New("response varies on all headers")

// networkFirst tries the network, falling back to a previously stored copy
// and finally to the structured offline response.
func (o *OfflineCache) networkFirst(ctx context.Context, r *http.Request, class resourceclass.Class) *Response {
	generation := o.names.For(class)
	key := cachekey.Key(r)
	log := o.log.With().Str("class", string(class)).Str("key", key).Logger()

	var status cachestatus.CacheStatus
	snap, err := o.fetch(ctx, r)
	if err == nil {
		status.Forward(cachestatus.FwdRequest)
		if snap.OK() {
			status.Stored = o.storeAsync(generation, key, r, snap)
		}
		return snapshotResponse(snap, status)
	}

	log.Debug().Err(err).Msg("Network failed for API request, trying cache")
	if cached, reason := o.lookup(generation, r); reason == "" {
		status.Hit()
		status.SetDetail(cachestatus.DetailOffline)
		return snapshotResponse(cached, status)
	}
	return apiFallback()
}

// cacheFirst returns a stored copy without touching the network.
// On a miss it fetches and stores the response, falling back to a
// class-specific offline response if the network is unreachable.
func (o *OfflineCache) cacheFirst(ctx context.Context, r *http.Request, class resourceclass.Class) *Response {
	generation := o.names.For(class)
	key := cachekey.Key(r)
	log := o.log.With().Str("class", string(class)).Str("key", key).Logger()

	var status cachestatus.CacheStatus
	cached, reason := o.lookup(generation, r)
	if reason == "" {
		status.Hit()
		return snapshotResponse(cached, status)
	}
	status.Forward(reason)

	snap, err := o.fetch(ctx, r)
	if err == nil {
		if snap.OK() {
			status.Stored = o.storeAsync(generation, key, r, snap)
		}
		return snapshotResponse(snap, status)
	}

	log.Debug().Err(err).Msg("Network failed, falling back")
	if class == resourceclass.Image {
		return imageFallback()
	}
	if resourceclass.IsNavigation(r) {
		// the shell is served whatever the request headers
		if shell, reason := o.load(o.names.Static, "/"); reason == "" {
			status.Hit()
			status.SetDetail(cachestatus.DetailFallback)
			return snapshotResponse(shell, status)
		}
		log.Warn().Msg("No cached root document for offline navigation")
	}
	return offlineFallback()
}

// fetch reads the whole network response.
// Failing to read the body counts as a network failure.
func (o *OfflineCache) fetch(ctx context.Context, r *http.Request) (serializer.Snapshot, error) {
	o.log.Trace().Str("url", r.URL.String()).Msg("Forwarding to origin")
	res, err := o.fetcher.Fetch(ctx, r)
	if err != nil {
		return serializer.Snapshot{}, err
	}
	snap, err := serializer.FromResponse(res)
	if err != nil {
		return serializer.Snapshot{}, fmt.Errorf("read response body: %w", err)
	}
	return snap, nil
}

// lookup returns the stored snapshot for the request.
// An empty forward reason means the snapshot may be used.
// Read errors are logged and reported as a miss.
func (o *OfflineCache) lookup(generation string, r *http.Request) (serializer.Snapshot, cachestatus.FwdReason) {
	snap, reason := o.load(generation, cachekey.Key(r))
	if reason != "" {
		return snap, reason
	}
	if !cachekey.VaryMatches(snap.Vary, r) {
		o.log.Trace().Str("generation", generation).Str("key", cachekey.Key(r)).
			Msg("Stored response does not match request headers")
		return serializer.Snapshot{}, cachestatus.FwdVaryMiss
	}
	return snap, ""
}

// load reads the stored snapshot for the key without looking at request headers.
func (o *OfflineCache) load(generation, key string) (serializer.Snapshot, cachestatus.FwdReason) {
	log := o.log.With().Str("generation", generation).Str("key", key).Logger()

	// do not create the generation on reads
	if exists, err := o.storage.Has(generation); err != nil {
		log.Error().Err(err).Msg("Could not check cache generation")
		return serializer.Snapshot{}, cachestatus.FwdMiss
	} else if !exists {
		return serializer.Snapshot{}, cachestatus.FwdUriMiss
	}
	c, err := o.storage.Open(generation)
	if err != nil {
		log.Error().Err(err).Msg("Could not open cache generation")
		return serializer.Snapshot{}, cachestatus.FwdMiss
	}
	b, ok, err := c.Get(key)
	if err != nil {
		log.Error().Err(err).Msg("Could not retrieve from cache")
		return serializer.Snapshot{}, cachestatus.FwdMiss
	}
	if !ok {
		return serializer.Snapshot{}, cachestatus.FwdUriMiss
	}
	_, snap, err := serializer.Unmarshal(b)
	if err != nil {
		log.Error().Err(err).Msg("Could not read stored response")
		return serializer.Snapshot{}, cachestatus.FwdMiss
	}
	return snap, ""
}

// storeAsync writes the snapshot to the generation in the background.
// It returns false if the response cannot be stored at all.
func (o *OfflineCache) storeAsync(generation, key string, r *http.Request, snap serializer.Snapshot) bool {
	vary, ok := cachekey.VaryHeaders(r, snap.Header)
	if !ok {
		o.log.Trace().Str("key", key).Err(errVaryStar).Msg("Not storing response")
		return false
	}
	snap.Vary = vary
	snap.StoredAt = time.Now()

	o.writes.Add(1)
	go func() {
		defer o.writes.Done()
		err := o.store(generation, key, snap)
		if err != nil {
			o.log.Error().Err(err).Str("generation", generation).Str("key", key).Msg("Could not write to cache")
		} else {
			o.log.Trace().Str("generation", generation).Str("key", key).Msg("Cache write")
		}
		if o.afterCacheWrite != nil {
			o.afterCacheWrite(generation, key, err)
		}
	}()
	return true
}

// store writes the snapshot synchronously.
func (o *OfflineCache) store(generation, key string, snap serializer.Snapshot) error {
	c, err := o.storage.Open(generation)
	if err != nil {
		return err
	}
	return put(c, key, snap)
}

func put(c cache.Cache, key string, snap serializer.Snapshot) error {
	b, err := serializer.Marshal(key, snap)
	if err != nil {
		return err
	}
	return c.Put(key, b)
}

func snapshotResponse(s serializer.Snapshot, status cachestatus.CacheStatus) *Response {
	return &Response{
		StatusCode: s.StatusCode,
		Header:     s.Header,
		Body:       s.Body,
		Status:     status,
	}
}
