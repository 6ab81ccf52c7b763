package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/votatok/offline-cache/queue"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// ControlPrefix is the path prefix of the control endpoints.
const ControlPrefix = "/.offline"

const maxControlBody = 1 << 20

// Status describes the running version.
type Status struct {
	Phase       Phase              `json:"phase"`
	Controlling bool               `json:"controlling"`
	Active      CacheNames         `json:"active"`
	Generations []string           `json:"generations"`
	Pending     map[queue.Kind]int `json:"pending"`
}

// Status collects the lifecycle phase, stored generations and queue sizes.
func (o *OfflineCache) Status(ctx context.Context) (Status, error) {
	s := Status{
		Phase:       o.Phase(),
		Controlling: o.Controlling(),
		Active:      o.names,
		Pending:     make(map[queue.Kind]int),
	}
	names, err := o.storage.Names()
	if err != nil {
		return s, err
	}
	s.Generations = names
	for _, kind := range queue.Kinds() {
		actions, err := o.queue.Pending(ctx, kind)
		if err != nil {
			return s, err
		}
		s.Pending[kind] = len(actions)
	}
	return s, nil
}

func (o *OfflineCache) statusResponse(ctx context.Context) *Response {
	s, err := o.Status(ctx)
	if err != nil {
		o.log.Error().Err(err).Msg("Could not collect status")
	}
	return jsonResponse(http.StatusOK, s)
}

// Handler returns the full HTTP surface: the control endpoints under
// ControlPrefix, and the cache itself for every other request.
func (o *OfflineCache) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(o.log))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("code", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Access")
	}))

	r.Route(ControlPrefix, func(r chi.Router) {
		r.Get("/status", o.handleStatus)
		r.Post("/install", o.handleEvent(EventInstall))
		r.Post("/activate", o.handleEvent(EventActivate))
		r.Post("/message", o.handleMessage)
		r.Post("/sync/{tag}", o.handleSync)
		r.Post("/push", o.handlePush)
		r.Post("/notificationclick", o.handleNotificationClick)
		r.Get("/queue/{kind}", o.handlePending)
		r.Post("/queue/{kind}", o.handleEnqueue)
	})
	r.Handle("/*", o)
	return r
}

func (o *OfflineCache) handleStatus(w http.ResponseWriter, r *http.Request) {
	o.writeResponse(w, r, o.statusResponse(r.Context()))
}

func (o *OfflineCache) handleEvent(kind EventKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o.dispatch(w, r, Event{Kind: kind})
	}
}

func (o *OfflineCache) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlBody)).Decode(&msg); err != nil {
		o.writeError(w, r, errors.Join(ErrBadMessage, err))
		return
	}
	o.dispatch(w, r, Event{Kind: EventMessage, Message: msg})
}

func (o *OfflineCache) handleSync(w http.ResponseWriter, r *http.Request) {
	o.dispatch(w, r, Event{Kind: EventSync, Tag: chi.URLParam(r, "tag")})
}

// handlePush takes the raw push payload as body. An empty body means no data.
func (o *OfflineCache) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxControlBody))
	if err != nil {
		o.writeError(w, r, err)
		return
	}
	ev := Event{Kind: EventPush}
	if len(body) > 0 {
		data := string(body)
		ev.Data = &data
	}
	o.dispatch(w, r, ev)
}

func (o *OfflineCache) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var click struct {
		ID     string `json:"id"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlBody)).Decode(&click); err != nil {
		o.writeError(w, r, errors.Join(ErrBadMessage, err))
		return
	}
	o.dispatch(w, r, Event{Kind: EventNotificationClick, NotificationID: click.ID, Action: click.Action})
}

func (o *OfflineCache) handlePending(w http.ResponseWriter, r *http.Request) {
	kind, err := queue.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		o.writeError(w, r, err)
		return
	}
	actions, err := o.queue.Pending(r.Context(), kind)
	if err != nil {
		o.writeError(w, r, err)
		return
	}
	o.writeResponse(w, r, jsonResponse(http.StatusOK, actions))
}

// handleEnqueue stores the JSON body as a deferred action of the kind.
func (o *OfflineCache) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	kind, err := queue.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		o.writeError(w, r, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxControlBody))
	if err != nil {
		o.writeError(w, r, err)
		return
	}
	action, err := o.queue.Enqueue(r.Context(), kind, body)
	if err != nil {
		o.writeError(w, r, err)
		return
	}
	o.writeResponse(w, r, jsonResponse(http.StatusAccepted, action))
}

func (o *OfflineCache) dispatch(w http.ResponseWriter, r *http.Request, ev Event) {
	res, err := o.Dispatch(r.Context(), ev)
	if err != nil {
		o.writeError(w, r, err)
		return
	}
	o.writeResponse(w, r, res)
}

func (o *OfflineCache) writeResponse(w http.ResponseWriter, r *http.Request, res *Response) {
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if len(res.Body) > 0 {
		w.Write(res.Body)
	}
}

func (o *OfflineCache) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	evt := hlog.FromRequest(r).Warn()
	if code >= http.StatusInternalServerError {
		evt = hlog.FromRequest(r).Error()
	}
	evt.Err(err).Str("url", r.URL.String()).Int("code", code).Msg("Control request failed")
	o.writeResponse(w, r, jsonResponse(code, map[string]string{"error": err.Error()}))
}

func errorStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnknownMessage),
		errors.Is(err, ErrBadMessage),
		errors.Is(err, ErrCrossOrigin),
		errors.Is(err, ErrUnknownEvent),
		errors.Is(err, queue.ErrUnknownTag),
		errors.Is(err, queue.ErrUnknownKind),
		errors.Is(err, queue.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrPhase):
		return http.StatusConflict
	case errors.Is(err, ErrPrecache):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
