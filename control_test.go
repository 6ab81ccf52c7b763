package offlinecache

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/votatok/offline-cache/notify"
	"github.com/votatok/offline-cache/queue"
)

func post(t *testing.T, h http.Handler, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Result()
}

func TestSyncRouteReplaysQueue(t *testing.T) {
	f := newOrigin()
	var votes []string
	f.router.Post("/api/vote", func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type is %s", ct)
		}
		b, _ := io.ReadAll(r.Body)
		votes = append(votes, string(b))
		if strings.Contains(string(b), `"pollId":2`) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	o := newActive(t, f, nil)
	h := o.Handler()

	for _, vote := range []string{`{"pollId":1}`, `{"pollId":2}`, `{"pollId":3}`} {
		if res := post(t, h, "/.offline/queue/vote", vote); res.StatusCode != http.StatusAccepted {
			t.Fatalf("Enqueue status is %d", res.StatusCode)
		}
	}

	res := post(t, h, "/.offline/sync/background-vote", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Sync status is %d: %s", res.StatusCode, body(t, res))
	}
	var result queue.ReplayResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Attempted != 3 || result.Failed != 1 {
		t.Fatalf("Unexpected result %+v", result)
	}
	if len(votes) != 3 || votes[2] != `{"pollId":3}` {
		t.Fatalf("Votes are %v", votes)
	}
	pending, err := o.Queue().Pending(context.Background(), queue.Vote)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("Expected empty queue, got %d", len(pending))
	}
}

func TestSyncUnknownTag(t *testing.T) {
	h := newActive(t, newOrigin(), nil).Handler()
	if res := post(t, h, "/.offline/sync/background-share", ""); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("Status is %d", res.StatusCode)
	}
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	h := newActive(t, newOrigin(), nil).Handler()
	if res := post(t, h, "/.offline/queue/share", `{}`); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("Unknown kind status is %d", res.StatusCode)
	}
	if res := post(t, h, "/.offline/queue/like", `not json`); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("Invalid payload status is %d", res.StatusCode)
	}
}

func TestPendingRoute(t *testing.T) {
	h := newActive(t, newOrigin(), nil).Handler()
	post(t, h, "/.offline/queue/like", `{"videoId":"v1"}`)
	res := get(t, h, "/.offline/queue/like")
	var actions []queue.Action
	if err := json.NewDecoder(res.Body).Decode(&actions); err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || string(actions[0].Payload) != `{"videoId":"v1"}` {
		t.Fatalf("Actions are %+v", actions)
	}
}

func TestPushAndClickRoutes(t *testing.T) {
	notifier := notify.NewLogNotifier(testLogger())
	clients := &recordingClients{}
	o := New(Config{
		Fetcher:  newOrigin(),
		Manifest: []string{},
		Notifier: notifier,
		Clients:  clients,
		Logger:   testLogger(),
	})
	h := o.Handler()

	res := post(t, h, "/.offline/push", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Push status is %d", res.StatusCode)
	}
	var n notify.Notification
	if err := json.NewDecoder(res.Body).Decode(&n); err != nil {
		t.Fatal(err)
	}
	if n.Body != "Nueva votación disponible" || n.Title != "VotaTok" {
		t.Fatalf("Notification is %+v", n)
	}

	res = post(t, h, "/.offline/push", "¿Pizza o tacos?")
	json.NewDecoder(res.Body).Decode(&n)
	if n.Body != "¿Pizza o tacos?" {
		t.Fatalf("Body is %s", n.Body)
	}
	if len(notifier.Open()) != 2 {
		t.Fatalf("Open notifications: %d", len(notifier.Open()))
	}

	res = post(t, h, "/.offline/notificationclick", `{"id":"`+n.ID+`","action":"explore"}`)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("Click status is %d", res.StatusCode)
	}
	if len(notifier.Open()) != 1 {
		t.Fatal("Clicked notification should be closed")
	}
	if len(clients.opened) != 1 || clients.opened[0] != "/" {
		t.Fatalf("Opened windows: %v", clients.opened)
	}
}

func TestMessageRoute(t *testing.T) {
	f := newOrigin()
	f.offline.Store(true)
	o := New(Config{Fetcher: f, HoldUntilSkipWaiting: true, Logger: testLogger()})
	h := o.Handler()
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	res := post(t, h, "/.offline/message", `{"type":"SKIP_WAITING"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	var s Status
	if err := json.NewDecoder(res.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Phase != PhaseActive || !s.Controlling {
		t.Fatalf("Status is %+v", s)
	}

	if res := post(t, h, "/.offline/message", `{"type":"NOPE"}`); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("Unknown message status is %d", res.StatusCode)
	}
	if res := post(t, h, "/.offline/message", `{`); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("Malformed message status is %d", res.StatusCode)
	}
}

func TestStatusRoute(t *testing.T) {
	o := New(Config{Fetcher: manifestOrigin(), Logger: testLogger()})
	h := o.Handler()
	if res := post(t, h, "/.offline/install", ""); res.StatusCode != http.StatusOK {
		t.Fatalf("Install status is %d", res.StatusCode)
	}
	post(t, h, "/.offline/queue/vote", `{"pollId":5}`)

	res := get(t, h, "/.offline/status")
	var s Status
	if err := json.NewDecoder(res.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Phase != PhaseActive {
		t.Fatalf("Phase is %s", s.Phase)
	}
	if s.Active.Static != "votatik-v1" || s.Active.API != "votatik-api-v1" || s.Active.Image != "votatik-images-v1" {
		t.Fatalf("Active names are %+v", s.Active)
	}
	if len(s.Generations) != 1 || s.Generations[0] != "votatik-v1" {
		t.Fatalf("Generations are %v", s.Generations)
	}
	if s.Pending[queue.Vote] != 1 || s.Pending[queue.Like] != 0 {
		t.Fatalf("Pending is %v", s.Pending)
	}
}

func TestHandlerServesCache(t *testing.T) {
	f := newOrigin()
	f.offline.Store(true)
	h := newActive(t, f, nil).Handler()
	res := get(t, h, "/logo.png")
	if ct := res.Header.Get("Content-Type"); ct != "image/svg+xml" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if res.Header.Get("Request-Id") == "" {
		t.Fatal("Expected a request id")
	}
}
