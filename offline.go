// Package offlinecache is a caching reverse proxy that keeps the VotaTok web app
// usable when the network is gone.
package offlinecache

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/votatok/offline-cache/cache"
	"github.com/votatok/offline-cache/notify"
	cachestatus "github.com/votatok/offline-cache/pkg/cache-status"
	resourceclass "github.com/votatok/offline-cache/pkg/resource-class"
	"github.com/votatok/offline-cache/queue"

	"github.com/rs/zerolog"
)

// DefaultVersion is the version tag of the cache generation names.
const DefaultVersion = "v1"

// DefaultManifest lists the critical assets pre-cached at install time.
var DefaultManifest = []string{
	"/",
	"/static/js/bundle.js",
	"/static/css/main.css",
	"/manifest.json",
}

// CacheNames holds the names of the three active cache generations.
type CacheNames struct {
	Static string `yaml:"static" json:"static"`
	API    string `yaml:"api" json:"api"`
	Image  string `yaml:"image" json:"image"`
}

// DefaultCacheNames derives the generation names from a version tag,
// e.g. `votatik-v1`, `votatik-api-v1` and `votatik-images-v1`.
func DefaultCacheNames(version string) CacheNames {
	return CacheNames{
		Static: "votatik-" + version,
		API:    "votatik-api-" + version,
		Image:  "votatik-images-" + version,
	}
}

// For returns the generation name used for the resource class.
func (n CacheNames) For(class resourceclass.Class) string {
	switch class {
	case resourceclass.API:
		return n.API
	case resourceclass.Image:
		return n.Image
	default:
		return n.Static
	}
}

// Active reports whether the name is one of the active generations.
func (n CacheNames) Active(name string) bool {
	return name == n.Static || name == n.API || name == n.Image
}

func (n CacheNames) All() []string {
	return []string{n.Static, n.API, n.Image}
}

// Clients represents the application pages served through the cache.
type Clients interface {
	// Claim takes control of all open pages.
	Claim(ctx context.Context) error
	// OpenWindow opens (or focuses) a page at the given URL.
	OpenWindow(ctx context.Context, url string) error
}

type Config struct {
	// Storage for cache generations.
	Storage cache.Storage
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Network boundary. Requests go to OriginURL if nil.
	Fetcher Fetcher
	// Active generation names. DefaultCacheNames(DefaultVersion) if empty.
	CacheNames CacheNames
	// Assets pre-cached at install. DefaultManifest if nil.
	Manifest []string
	// Path prefix of the dynamic API, `/api/` if empty.
	APIPrefix string
	// Deferred action queue. An in-memory queue is used if nil.
	Queue *queue.Queue
	// Shows push notifications. Notifications are only logged if nil.
	Notifier notify.Notifier
	// Open pages. Claims and window opens are only logged if nil.
	Clients Clients
	// Stay installed after install until a SKIP_WAITING message,
	// unless install itself requested skip-waiting.
	HoldUntilSkipWaiting bool
	// Optional hook called after every background cache write.
	AfterCacheWrite func(generation, key string, err error)
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type OfflineCache struct {
	storage         cache.Storage
	names           CacheNames
	manifest        []string
	origin          url.URL
	fetcher         Fetcher
	classifier      resourceclass.Classifier
	queue           *queue.Queue
	notifications   *notify.Bridge
	clients         Clients
	reverseproxy    *httputil.ReverseProxy
	afterCacheWrite func(generation, key string, err error)
	hold            bool
	log             zerolog.Logger

	// background cache writes
	writes sync.WaitGroup

	lifecycleMu sync.Mutex
	phase       Phase
	// skip-waiting was requested during install
	skipWaiting bool
	controlling atomic.Bool

	handlers map[EventKind]handler
}

// New initializes the offline cache.
// The instance starts in the `new` phase and passes every request through
// until it is started and activated.
func New(config Config) *OfflineCache {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	names := config.CacheNames
	if names == (CacheNames{}) {
		names = DefaultCacheNames(DefaultVersion)
	}
	manifest := config.Manifest
	if manifest == nil {
		manifest = DefaultManifest
	}
	storage := config.Storage
	if storage == nil {
		storage = cache.NewMemStorage()
	}

	fetcher := config.Fetcher
	if fetcher == nil {
		fetcher = NewOriginFetcher(config.OriginURL, config.OriginHost)
	}

	q := config.Queue
	if q == nil {
		q = queue.New(queue.Config{
			Store:   queue.NewMemStore(),
			Fetcher: fetcher,
			Logger:  &logger,
		})
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(&logger)
	}
	clients := config.Clients
	if clients == nil {
		clients = &logClients{log: logger}
	}

	o := &OfflineCache{
		storage:         storage,
		names:           names,
		manifest:        manifest,
		origin:          config.OriginURL,
		fetcher:         fetcher,
		classifier:      resourceclass.Classifier{APIPrefix: config.APIPrefix},
		queue:           q,
		notifications:   notify.NewBridge(notifier, clients, &logger),
		clients:         clients,
		afterCacheWrite: config.AfterCacheWrite,
		hold:            config.HoldUntilSkipWaiting,
		log:             logger,
		phase:           PhaseNew,
	}

	hostHeader := config.OriginURL.Host
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
	}
	o.reverseproxy = &httputil.ReverseProxy{
		Director:  originDirector(config.OriginURL, hostHeader),
		Transport: fetcherTransport{fetcher},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			o.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not pass request through")
			http.Error(w, "Could not connect to origin", http.StatusBadGateway)
		},
	}

	o.handlers = o.routes()
	return o
}

// ServeHTTP handles an intercepted request as a fetch event.
// Requests the cache does not handle are passed through to the origin untouched.
func (o *OfflineCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer o.recover(w, r)
	res, err := o.Dispatch(r.Context(), Event{Kind: EventFetch, Request: r})
	if err != nil {
		o.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not handle fetch")
	}
	if res == nil {
		o.passThrough(w, r)
		return
	}
	o.send(w, r, res)
}

// recover recovers from panics and sends the request to the escape hatch.
func (o *OfflineCache) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		o.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in cache handler")
		o.passThrough(w, r)
	}
}

func (o *OfflineCache) passThrough(w http.ResponseWriter, r *http.Request) {
	o.log.Trace().Str("method", r.Method).Str("url", r.URL.String()).Msg("Passing through")
	o.reverseproxy.ServeHTTP(w, r)
}

func (o *OfflineCache) send(w http.ResponseWriter, r *http.Request, res *Response) {
	o.logRequest(r, res)
	copyHeader(w.Header(), res.Header)
	if res.Status.Status != "" {
		w.Header().Set("Cache-Status", res.Status.String())
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	w.WriteHeader(res.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(res.Body); err != nil {
		o.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

// Wait blocks until all background cache writes have finished.
func (o *OfflineCache) Wait() {
	o.writes.Wait()
}

// Queue returns the deferred action queue.
func (o *OfflineCache) Queue() *queue.Queue {
	return o.queue
}

// Close waits for pending cache writes and closes the storage.
func (o *OfflineCache) Close() error {
	o.Wait()
	return o.storage.Close()
}

func (o *OfflineCache) logRequest(r *http.Request, res *Response) {
	isHit := 0
	if res.Status.IsHit() {
		isHit = 1
	}
	o.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", sourceIP(r)).
		Int("code", res.StatusCode).
		Str("status", string(res.Status.Status)).
		Str("fwd", string(res.Status.FwdReason)).
		Bool("stored", res.Status.Stored).
		Str("detail", res.Status.Detail).
		Int("hit", isHit).
		Msg("Sending response to client")
}

// Response is a fully buffered response produced by an event handler.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Status     cachestatus.CacheStatus
}

// originDirector points pass-through requests at the origin.
func originDirector(origin url.URL, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = origin.Scheme
		req.URL.Host = origin.Host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

func newTLSTransport(serverName string) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{ServerName: serverName}
	return t
}

// sourceIP is the client address without the port.
func sourceIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// upstreamProxyHeaders are left out of origin requests.
var upstreamProxyHeaders = map[string]bool{
	"X-Forwarded-For":   true,
	"X-Forwarded-Proto": true,
	"X-Forwarded-Host":  true,
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		if upstreamProxyHeaders[name] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// logClients only logs page control requests.
// It is used when the cache is not embedded in something that manages pages.
type logClients struct {
	log zerolog.Logger
}

func (c *logClients) Claim(ctx context.Context) error {
	c.log.Debug().Msg("Claiming clients")
	return nil
}

func (c *logClients) OpenWindow(ctx context.Context, url string) error {
	c.log.Info().Str("url", url).Msg("Opening window")
	return nil
}

var _ notify.Opener = (*logClients)(nil)
