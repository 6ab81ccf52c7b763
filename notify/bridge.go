// Package notify turns push signals into user notifications and routes
// notification clicks back to the application.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTitle = "VotaTok"
	DefaultBody  = "Nueva votación disponible"

	ActionExplore = "explore"
	ActionClose   = "close"

	// Page opened by the explore action.
	ExploreURL = "/"
)

var ErrNotFound = errors.New("notification not found")

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon"`
}

type Notification struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Icon    string         `json:"icon"`
	Badge   string         `json:"badge"`
	Vibrate []int          `json:"vibrate"`
	Data    map[string]any `json:"data"`
	Actions []Action       `json:"actions"`
}

// Notifier displays and dismisses notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, id string) error
}

// Opener opens an application window at the given URL.
type Opener interface {
	OpenWindow(ctx context.Context, url string) error
}

// Build returns the notification shown for a push with the given body text.
// An empty body falls back to DefaultBody.
func Build(body string) Notification {
	if body == "" {
		body = DefaultBody
	}
	return Notification{
		ID:      uuid.NewString(),
		Title:   DefaultTitle,
		Body:    body,
		Icon:    "/icons/icon-192x192.png",
		Badge:   "/icons/icon-72x72.png",
		Vibrate: []int{100, 50, 100},
		Data: map[string]any{
			"dateOfArrival": time.Now().UnixMilli(),
			"primaryKey":    1,
		},
		Actions: []Action{
			{Action: ActionExplore, Title: "Ver votación", Icon: "/icons/action-view.png"},
			{Action: ActionClose, Title: "Cerrar", Icon: "/icons/action-close.png"},
		},
	}
}

type Bridge struct {
	notifier Notifier
	opener   Opener
	log      zerolog.Logger
}

func NewBridge(notifier Notifier, opener Opener, logger *zerolog.Logger) *Bridge {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Bridge{
		notifier: notifier,
		opener:   opener,
		log:      l.With().Str("component", "notify").Logger(),
	}
}

// Push displays a notification for an incoming push signal.
// data is the push payload as text, nil when the push carried none.
func (b *Bridge) Push(ctx context.Context, data *string) (Notification, error) {
	body := ""
	if data != nil {
		body = *data
	}
	n := Build(body)
	if err := b.notifier.Show(ctx, n); err != nil {
		return n, err
	}
	b.log.Debug().Str("id", n.ID).Str("body", n.Body).Msg("Notification shown")
	return n, nil
}

// Click handles a click on a notification or one of its actions.
// The notification is always closed. Only the explore action opens a window.
func (b *Bridge) Click(ctx context.Context, id, action string) error {
	if err := b.notifier.Close(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	b.log.Debug().Str("id", id).Str("action", action).Msg("Notification clicked")
	if action != ActionExplore {
		return nil
	}
	return b.opener.OpenWindow(ctx, ExploreURL)
}

// LogNotifier writes notifications to the log and keeps the open ones in memory.
type LogNotifier struct {
	mu   sync.Mutex
	open map[string]Notification
	log  zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &LogNotifier{open: make(map[string]Notification), log: l}
}

func (l *LogNotifier) Show(_ context.Context, n Notification) error {
	l.mu.Lock()
	l.open[n.ID] = n
	l.mu.Unlock()
	l.log.Info().Str("id", n.ID).Str("title", n.Title).Str("body", n.Body).Msg("Notification")
	return nil
}

func (l *LogNotifier) Close(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.open[id]; !ok {
		return ErrNotFound
	}
	delete(l.open, id)
	return nil
}

// Open returns the notifications that have not been closed yet.
func (l *LogNotifier) Open() []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	open := make([]Notification, 0, len(l.open))
	for _, n := range l.open {
		open = append(open, n)
	}
	return open
}
