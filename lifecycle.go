package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/votatok/offline-cache/cache"
	cachekey "github.com/votatok/offline-cache/pkg/cache-key"
	serializer "github.com/votatok/offline-cache/pkg/response-serializer"

	"golang.org/x/sync/errgroup"
)

type Phase string

const (
	PhaseNew        Phase = "new"
	PhaseInstalling Phase = "installing"
	PhaseInstalled  Phase = "installed"
	PhaseActivating Phase = "activating"
	PhaseActive     Phase = "active"
)

var (
	ErrPhase       = errors.New("not allowed in current phase")
	ErrCrossOrigin = errors.New("url is not on the origin")
	ErrPrecache    = errors.New("pre-cache response not ok")
)

// Phase returns the current lifecycle phase.
func (o *OfflineCache) Phase() Phase {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()
	return o.phase
}

// Controlling reports whether requests are intercepted.
func (o *OfflineCache) Controlling() bool {
	return o.controlling.Load()
}

// Start installs and then activates this version.
// With HoldUntilSkipWaiting set, a version whose install did not request
// skip-waiting stays installed until SkipWaiting is called.
func (o *OfflineCache) Start(ctx context.Context) error {
	if err := o.Install(ctx); err != nil {
		return err
	}
	if o.Phase() == PhaseInstalled && !o.hold {
		return o.Activate(ctx)
	}
	return nil
}

// Install pre-caches the manifest into the static generation.
// A pre-cache failure is logged and does not fail the install.
// A successful pre-cache requests skip-waiting, so the version is activated right away.
func (o *OfflineCache) Install(ctx context.Context) error {
	o.lifecycleMu.Lock()
	if o.phase != PhaseNew {
		phase := o.phase
		o.lifecycleMu.Unlock()
		return fmt.Errorf("install: %w: %s", ErrPhase, phase)
	}
	o.phase = PhaseInstalling
	o.lifecycleMu.Unlock()

	o.log.Info().Str("generation", o.names.Static).Int("assets", len(o.manifest)).Msg("Installing")
	err := o.Precache(ctx, o.manifest)
	if err != nil {
		o.log.Error().Err(err).Msg("Cache installation failed")
	}

	o.lifecycleMu.Lock()
	o.phase = PhaseInstalled
	if err == nil {
		o.skipWaiting = true
	}
	activate := o.skipWaiting
	o.lifecycleMu.Unlock()

	if activate {
		o.log.Debug().Msg("Skip waiting")
		return o.Activate(ctx)
	}
	return nil
}

// Activate deletes every cache generation that is not one of the active ones
// and takes control of the open pages. Requests are intercepted afterwards.
// The version becomes active even if the sweep or the claim failed;
// the errors are returned joined.
func (o *OfflineCache) Activate(ctx context.Context) error {
	o.lifecycleMu.Lock()
	switch o.phase {
	case PhaseActivating, PhaseActive:
		o.lifecycleMu.Unlock()
		return nil
	case PhaseInstalled:
		o.phase = PhaseActivating
		o.lifecycleMu.Unlock()
	default:
		phase := o.phase
		o.lifecycleMu.Unlock()
		return fmt.Errorf("activate: %w: %s", ErrPhase, phase)
	}

	o.log.Info().Strs("generations", o.names.All()).Msg("Activating")
	var errs []error
	names, err := o.storage.Names()
	if err != nil {
		errs = append(errs, fmt.Errorf("list generations: %w", err))
	}
	for _, name := range names {
		if o.names.Active(name) {
			continue
		}
		o.log.Debug().Str("generation", name).Msg("Deleting old cache")
		if _, err := o.storage.Delete(name); err != nil {
			o.log.Error().Err(err).Str("generation", name).Msg("Could not delete old cache")
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}

	o.log.Debug().Msg("Claiming clients")
	if err := o.clients.Claim(ctx); err != nil {
		o.log.Error().Err(err).Msg("Could not claim clients")
		errs = append(errs, fmt.Errorf("claim clients: %w", err))
	}

	o.lifecycleMu.Lock()
	o.phase = PhaseActive
	o.controlling.Store(true)
	o.lifecycleMu.Unlock()
	o.log.Info().Msg("Active")
	return errors.Join(errs...)
}

// SkipWaiting activates an installed version immediately.
// During install, it makes the activation follow the install.
func (o *OfflineCache) SkipWaiting(ctx context.Context) error {
	o.lifecycleMu.Lock()
	phase := o.phase
	if phase == PhaseNew || phase == PhaseInstalling {
		o.skipWaiting = true
	}
	o.lifecycleMu.Unlock()

	if phase == PhaseInstalled {
		return o.Activate(ctx)
	}
	return nil
}

// Precache fetches all URLs and stores them in the static generation.
// Nothing is stored unless every response is successful (2xx).
// Relative URLs are resolved against the origin root.
// Absolute URLs must point at the origin.
func (o *OfflineCache) Precache(ctx context.Context, urls []string) error {
	reqs := make([]*http.Request, len(urls))
	for i, raw := range urls {
		req, err := o.precacheRequest(ctx, raw)
		if err != nil {
			return err
		}
		reqs[i] = req
	}

	snaps := make([]serializer.Snapshot, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			snap, err := o.fetch(gctx, req.WithContext(gctx))
			if err != nil {
				return fmt.Errorf("fetch %s: %w", req.URL, err)
			}
			if !snap.OK() {
				return fmt.Errorf("%w: %s returned %d", ErrPrecache, req.URL, snap.StatusCode)
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c, err := o.storage.Open(o.names.Static)
	if err != nil {
		return fmt.Errorf("open %s: %w", o.names.Static, err)
	}
	written := make([]string, 0, len(reqs))
	for i, req := range reqs {
		key := cachekey.Key(req)
		snap := snaps[i]
		if _, ok := cachekey.VaryHeaders(req, snap.Header); !ok {
			o.log.Warn().Str("key", key).Err(errVaryStar).Msg("Not pre-caching response")
			continue
		}
		// pre-cached entries match any request headers
		snap.Vary = nil
		snap.StoredAt = time.Now()
		if err := put(c, key, snap); err != nil {
			o.rollback(c, written)
			return fmt.Errorf("store %s: %w", key, err)
		}
		written = append(written, key)
		o.log.Trace().Str("generation", c.Name()).Str("key", key).Msg("Pre-cached")
	}
	return nil
}

// rollback removes the entries of a partially stored pre-cache batch.
func (o *OfflineCache) rollback(c cache.Cache, keys []string) {
	for _, key := range keys {
		if err := c.Purge(key); err != nil {
			o.log.Error().Err(err).Str("generation", c.Name()).Str("key", key).Msg("Could not roll back pre-cached entry")
		}
	}
}

func (o *OfflineCache) precacheRequest(ctx context.Context, raw string) (*http.Request, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.IsAbs() || u.Host != "" {
		if u.Host != o.origin.Host || (u.Scheme != "" && u.Scheme != o.origin.Scheme) {
			return nil, fmt.Errorf("%w: %s", ErrCrossOrigin, raw)
		}
	}
	u = (&url.URL{Path: "/"}).ResolveReference(&url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery})
	return http.NewRequestWithContext(ctx, http.MethodGet, u.RequestURI(), nil)
}
