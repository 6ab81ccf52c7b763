package cache

import (
	"path/filepath"
	"testing"
)

func storages(t *testing.T) map[string]Storage {
	sqlite, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Storage{
		"sqlite": sqlite,
		"memory": NewMemStorage(),
	}
}

func TestPutAndGet(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			c, err := s.Open("votatik-api-v1")
			if err != nil {
				t.Fatal(err)
			}
			if _, ok, err := c.Get("/api/polls/42"); err != nil || ok {
				t.Fatalf("Expected miss, got ok=%v err=%v", ok, err)
			}
			if err := c.Put("/api/polls/42", []byte("first")); err != nil {
				t.Fatal(err)
			}
			if err := c.Put("/api/polls/42", []byte("second")); err != nil {
				t.Fatal(err)
			}
			b, ok, err := c.Get("/api/polls/42")
			if err != nil || !ok {
				t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
			}
			if string(b) != "second" {
				t.Fatalf("Stored bytes are %s", b)
			}
		})
	}
}

func TestGenerationsAreIsolated(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			static, _ := s.Open("votatik-v1")
			images, _ := s.Open("votatik-images-v1")
			static.Put("/logo.png", []byte("static"))

			if _, ok, _ := images.Get("/logo.png"); ok {
				t.Fatal("Entry leaked into another generation")
			}
			keys, err := static.Keys()
			if err != nil {
				t.Fatal(err)
			}
			if len(keys) != 1 || keys[0] != "/logo.png" {
				t.Fatalf("Keys are %v", keys)
			}
		})
	}
}

func TestDeleteGeneration(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			old, _ := s.Open("votatik-v0")
			old.Put("/", []byte("old shell"))
			s.Open("votatik-v1")

			deleted, err := s.Delete("votatik-v0")
			if err != nil || !deleted {
				t.Fatalf("Delete returned %v, %v", deleted, err)
			}
			if has, _ := s.Has("votatik-v0"); has {
				t.Fatal("Deleted generation still exists")
			}
			names, _ := s.Names()
			if len(names) != 1 || names[0] != "votatik-v1" {
				t.Fatalf("Names are %v", names)
			}
			if deleted, _ := s.Delete("votatik-v0"); deleted {
				t.Fatal("Second delete reported success")
			}
			// reopening must not resurrect old entries
			reopened, _ := s.Open("votatik-v0")
			if _, ok, _ := reopened.Get("/"); ok {
				t.Fatal("Entries survived generation delete")
			}
		})
	}
}

func TestPutCreatesGeneration(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			c, _ := s.Open("votatik-images-v1")
			s.Delete("votatik-images-v1")
			if err := c.Put("/a.png", []byte("png")); err != nil {
				t.Fatal(err)
			}
			if has, _ := s.Has("votatik-images-v1"); !has {
				t.Fatal("Put did not recreate generation")
			}
		})
	}
}

func TestPurge(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			c, _ := s.Open("votatik-v1")
			c.Put("/main.css", []byte("css"))
			if err := c.Purge("/main.css"); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := c.Get("/main.css"); ok {
				t.Fatal("Purged entry still present")
			}
		})
	}
}
