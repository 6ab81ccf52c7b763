// Package queue keeps user actions performed while offline and replays them
// against the API once a background sync signal arrives.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	Vote Kind = "vote"
	Like Kind = "like"
)

var (
	ErrUnknownKind    = errors.New("unknown action kind")
	ErrUnknownTag     = errors.New("unknown sync tag")
	ErrInvalidPayload = errors.New("payload is not valid JSON")
	ErrRejected       = errors.New("replay rejected by server")
)

type kindSpec struct {
	key      string
	endpoint string
	tag      string
}

var kinds = map[Kind]kindSpec{
	Vote: {key: "offlineVotes", endpoint: "/api/vote", tag: "background-vote"},
	Like: {key: "offlineLikes", endpoint: "/api/like", tag: "background-like"},
}

// Kinds returns all known kinds in a stable order.
func Kinds() []Kind {
	return []Kind{Vote, Like}
}

func ParseKind(s string) (Kind, error) {
	if _, ok := kinds[Kind(s)]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return Kind(s), nil
}

// KindForTag maps a background sync tag, e.g. `background-vote`, to its kind.
func KindForTag(tag string) (Kind, error) {
	for kind, def := range kinds {
		if def.tag == tag {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTag, tag)
}

// Tag returns the background sync tag for the kind.
func (k Kind) Tag() string {
	return kinds[k].tag
}

// Endpoint returns the API path actions of this kind are replayed against.
func (k Kind) Endpoint() string {
	return kinds[k].endpoint
}

// Action is a mutating user action that could not reach the network.
type Action struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Fetcher is the network boundary used for replays.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

type Config struct {
	// Durable storage for the action lists.
	Store Store
	// Network boundary, shared with the request cache.
	Fetcher Fetcher
	// Keep actions whose replay failed for the next sync.
	// By default the whole attempted list is dropped after a pass.
	RetainFailed bool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Queue struct {
	store        Store
	fetcher      Fetcher
	retainFailed bool
	log          zerolog.Logger

	// guards read-modify-write of the stored lists
	listMu sync.Mutex
	// one replay pass per kind at a time
	replaying map[Kind]*sync.Mutex
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Kind      Kind `json:"kind"`
	Attempted int  `json:"attempted"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	// Failed actions left in the queue.
	Retained  int  `json:"retained"`
}

func New(config Config) *Queue {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	q := &Queue{
		store:        config.Store,
		fetcher:      config.Fetcher,
		retainFailed: config.RetainFailed,
		log:          logger.With().Str("component", "queue").Logger(),
		replaying:    make(map[Kind]*sync.Mutex, len(kinds)),
	}
	for kind := range kinds {
		q.replaying[kind] = &sync.Mutex{}
	}
	return q
}

// Enqueue appends an action to the durable list of its kind.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, payload json.RawMessage) (Action, error) {
	def, ok := kinds[kind]
	if !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if !json.Valid(payload) {
		return Action{}, ErrInvalidPayload
	}
	action := Action{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	q.listMu.Lock()
	defer q.listMu.Unlock()
	actions, err := q.load(ctx, def.key)
	if err != nil {
		return Action{}, err
	}
	if err := q.save(ctx, def.key, append(actions, action)); err != nil {
		return Action{}, err
	}
	q.log.Debug().Str("kind", string(kind)).Str("id", action.ID).Msg("Action queued")
	return action, nil
}

// Pending returns the queued actions of the kind, in enqueue order.
func (q *Queue) Pending(ctx context.Context, kind Kind) ([]Action, error) {
	def, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	q.listMu.Lock()
	defer q.listMu.Unlock()
	return q.load(ctx, def.key)
}

// Replay posts every queued action of the kind, one after the other, to its endpoint.
// A failed action is logged and the pass continues with the next one.
// Afterwards all attempted actions are removed from the queue, unless
// RetainFailed is set, in which case failed ones stay for the next pass.
// Actions enqueued while the pass runs are kept.
func (q *Queue) Replay(ctx context.Context, kind Kind) (ReplayResult, error) {
	def, ok := kinds[kind]
	if !ok {
		return ReplayResult{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	lock := q.replaying[kind]
	lock.Lock()
	defer lock.Unlock()

	result := ReplayResult{Kind: kind}
	actions, err := q.Pending(ctx, kind)
	if err != nil {
		q.log.Error().Err(err).Str("kind", string(kind)).Msg("Could not read queued actions")
		return result, err
	}
	logger := q.log.With().Str("kind", string(kind)).Logger()
	logger.Debug().Int("count", len(actions)).Msg("Replaying queued actions")

	remove := make(map[string]struct{}, len(actions))
	for _, action := range actions {
		if ctx.Err() != nil {
			logger.Warn().Err(ctx.Err()).Msg("Replay interrupted")
			break
		}
		result.Attempted++
		if err := q.send(ctx, def.endpoint, action); err != nil {
			logger.Warn().Err(err).Str("id", action.ID).RawJSON("payload", action.Payload).Msg("Could not replay action")
			result.Failed++
			if q.retainFailed {
				result.Retained++
				continue
			}
		} else {
			result.Succeeded++
		}
		remove[action.ID] = struct{}{}
	}

	if err := q.removeIDs(ctx, def.key, remove); err != nil {
		logger.Error().Err(err).Msg("Could not update queued actions")
		return result, err
	}
	if result.Failed > result.Retained {
		logger.Warn().Int("dropped", result.Failed-result.Retained).Msg("Dropped actions whose replay failed")
	}
	logger.Info().
		Int("attempted", result.Attempted).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("retained", result.Retained).
		Msg("Queued actions synced")
	return result, nil
}

func (q *Queue) send(ctx context.Context, endpoint string, action Action) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(action.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := q.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if res.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", ErrRejected, res.Status)
	}
	return nil
}

func (q *Queue) removeIDs(ctx context.Context, key string, ids map[string]struct{}) error {
	if len(ids) == 0 {
		return nil
	}
	q.listMu.Lock()
	defer q.listMu.Unlock()
	current, err := q.load(ctx, key)
	if err != nil {
		return err
	}
	kept := make([]Action, 0, len(current))
	for _, action := range current {
		if _, ok := ids[action.ID]; !ok {
			kept = append(kept, action)
		}
	}
	return q.save(ctx, key, kept)
}

func (q *Queue) load(ctx context.Context, key string) ([]Action, error) {
	b, ok, err := q.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	actions := make([]Action, 0)
	if !ok || len(b) == 0 {
		return actions, nil
	}
	if err := json.Unmarshal(b, &actions); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return actions, nil
}

func (q *Queue) save(ctx context.Context, key string, actions []Action) error {
	if len(actions) == 0 {
		return q.store.Delete(ctx, key)
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, key, b)
}
