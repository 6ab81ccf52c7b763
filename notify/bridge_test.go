package notify

import (
	"context"
	"testing"
)

type opener struct {
	urls []string
}

func (o *opener) OpenWindow(_ context.Context, url string) error {
	o.urls = append(o.urls, url)
	return nil
}

func TestPushDefaults(t *testing.T) {
	notifier := NewLogNotifier(nil)
	b := NewBridge(notifier, &opener{}, nil)
	n, err := b.Push(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if n.Title != "VotaTok" || n.Body != "Nueva votación disponible" {
		t.Fatalf("Unexpected notification %+v", n)
	}
	if n.Icon != "/icons/icon-192x192.png" || n.Badge != "/icons/icon-72x72.png" {
		t.Fatalf("Unexpected icons %+v", n)
	}
	if len(n.Vibrate) != 3 || n.Vibrate[0] != 100 || n.Vibrate[1] != 50 || n.Vibrate[2] != 100 {
		t.Fatalf("Unexpected vibrate pattern %v", n.Vibrate)
	}
	if n.Data["primaryKey"] != 1 {
		t.Fatalf("Unexpected data %v", n.Data)
	}
	if len(n.Actions) != 2 || n.Actions[0].Action != "explore" || n.Actions[1].Action != "close" {
		t.Fatalf("Unexpected actions %+v", n.Actions)
	}
	if len(notifier.Open()) != 1 {
		t.Fatal("Expected notification to be shown")
	}
}

func TestPushWithBody(t *testing.T) {
	b := NewBridge(NewLogNotifier(nil), &opener{}, nil)
	body := "Encuesta nueva: ¿pizza o tacos?"
	n, err := b.Push(context.Background(), &body)
	if err != nil {
		t.Fatal(err)
	}
	if n.Body != body {
		t.Fatalf("Body is %q", n.Body)
	}
}

func TestClickExploreOpensRoot(t *testing.T) {
	notifier := NewLogNotifier(nil)
	o := &opener{}
	b := NewBridge(notifier, o, nil)
	n, _ := b.Push(context.Background(), nil)
	if err := b.Click(context.Background(), n.ID, "explore"); err != nil {
		t.Fatal(err)
	}
	if len(notifier.Open()) != 0 {
		t.Fatal("Expected notification to be closed")
	}
	if len(o.urls) != 1 || o.urls[0] != "/" {
		t.Fatalf("Opened %v", o.urls)
	}
}

func TestClickOtherActionsOnlyClose(t *testing.T) {
	for _, action := range []string{"close", ""} {
		notifier := NewLogNotifier(nil)
		o := &opener{}
		b := NewBridge(notifier, o, nil)
		n, _ := b.Push(context.Background(), nil)
		if err := b.Click(context.Background(), n.ID, action); err != nil {
			t.Fatal(err)
		}
		if len(notifier.Open()) != 0 {
			t.Fatalf("%q: expected notification to be closed", action)
		}
		if len(o.urls) != 0 {
			t.Fatalf("%q: should not open a window", action)
		}
	}
}

func TestClickUnknownNotification(t *testing.T) {
	o := &opener{}
	b := NewBridge(NewLogNotifier(nil), o, nil)
	if err := b.Click(context.Background(), "gone", "explore"); err != nil {
		t.Fatal(err)
	}
	if len(o.urls) != 1 {
		t.Fatal("Explore should still open a window")
	}
}
