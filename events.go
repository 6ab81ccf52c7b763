package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	resourceclass "github.com/votatok/offline-cache/pkg/resource-class"
	"github.com/votatok/offline-cache/queue"
)

type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventMessage           EventKind = "message"
	EventSync              EventKind = "sync"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
)

// Control message types.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageCacheURLs   = "CACHE_URLS"
)

var (
	ErrUnknownEvent   = errors.New("unknown event kind")
	ErrUnknownMessage = errors.New("unknown message type")
	ErrBadMessage     = errors.New("malformed message")
)

// Message is a control message, e.g. `{"type":"CACHE_URLS","payload":["/extra.js"]}`.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is the input of a handler. Only the fields of its kind are set.
type Event struct {
	Kind EventKind
	// fetch
	Request *http.Request
	// message
	Message Message
	// sync
	Tag string
	// push, nil if the push carried no data
	Data *string
	// notificationclick
	NotificationID string
	Action         string
}

// A handler returns nil for a fetch event it does not handle.
type handler func(ctx context.Context, ev Event) (*Response, error)

func (o *OfflineCache) routes() map[EventKind]handler {
	return map[EventKind]handler{
		EventInstall:           o.onInstall,
		EventActivate:          o.onActivate,
		EventFetch:             o.onFetch,
		EventMessage:           o.onMessage,
		EventSync:              o.onSync,
		EventPush:              o.onPush,
		EventNotificationClick: o.onNotificationClick,
	}
}

// Dispatch runs the handler registered for the event kind.
func (o *OfflineCache) Dispatch(ctx context.Context, ev Event) (*Response, error) {
	h, ok := o.handlers[ev.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
	if ev.Kind != EventFetch {
		o.log.Debug().Str("event", string(ev.Kind)).Msg("Event")
	}
	return h(ctx, ev)
}

func (o *OfflineCache) onInstall(ctx context.Context, _ Event) (*Response, error) {
	if err := o.Install(ctx); err != nil {
		return nil, err
	}
	return o.statusResponse(ctx), nil
}

func (o *OfflineCache) onActivate(ctx context.Context, _ Event) (*Response, error) {
	if err := o.Activate(ctx); err != nil {
		return nil, err
	}
	return o.statusResponse(ctx), nil
}

func (o *OfflineCache) onFetch(ctx context.Context, ev Event) (*Response, error) {
	r := ev.Request
	if r == nil || !o.Controlling() || !o.classifier.Intercept(r) {
		return nil, nil
	}
	class := o.classifier.Classify(r)
	if class == resourceclass.API {
		return o.networkFirst(ctx, r, class), nil
	}
	return o.cacheFirst(ctx, r, class), nil
}

func (o *OfflineCache) onMessage(ctx context.Context, ev Event) (*Response, error) {
	o.log.Debug().Str("type", ev.Message.Type).Msg("Message received")
	switch ev.Message.Type {
	case MessageSkipWaiting:
		if err := o.SkipWaiting(ctx); err != nil {
			return nil, err
		}
		return o.statusResponse(ctx), nil
	case MessageCacheURLs:
		var urls []string
		if err := json.Unmarshal(ev.Message.Payload, &urls); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		if err := o.Precache(ctx, urls); err != nil {
			return nil, err
		}
		return jsonResponse(http.StatusOK, map[string]any{"cached": urls}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, ev.Message.Type)
	}
}

func (o *OfflineCache) onSync(ctx context.Context, ev Event) (*Response, error) {
	o.log.Debug().Str("tag", ev.Tag).Msg("Background sync")
	kind, err := queue.KindForTag(ev.Tag)
	if err != nil {
		return nil, err
	}
	result, err := o.queue.Replay(ctx, kind)
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, result), nil
}

func (o *OfflineCache) onPush(ctx context.Context, ev Event) (*Response, error) {
	n, err := o.notifications.Push(ctx, ev.Data)
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, n), nil
}

func (o *OfflineCache) onNotificationClick(ctx context.Context, ev Event) (*Response, error) {
	if err := o.notifications.Click(ctx, ev.NotificationID, ev.Action); err != nil {
		return nil, err
	}
	return &Response{StatusCode: http.StatusNoContent, Header: make(http.Header)}, nil
}
