package cachekey

import (
	"net/http"
	"testing"
)

func TestKeyIsRequestURI(t *testing.T) {
	r, _ := http.NewRequest("GET", "http://dev.localhost/api/polls/42?expand=options", nil)
	if key := Key(r); key != "/api/polls/42?expand=options" {
		t.Fatalf("Key is %s", key)
	}
	root, _ := http.NewRequest("GET", "http://dev.localhost", nil)
	if key := Key(root); key != "/" {
		t.Fatalf("Root key is %s", key)
	}
}

func TestVaryHeadersSelection(t *testing.T) {
	r, _ := http.NewRequest("GET", "/api/feed", nil)
	r.Header.Set("Accept-Language", "es")
	r.Header.Set("Cookie", "session=1")
	resHeader := http.Header{"Vary": []string{"accept-language, X-Absent"}}

	vary, ok := VaryHeaders(r, resHeader)
	if !ok {
		t.Fatal("Expected reusable response")
	}
	if v := vary.Get("Accept-Language"); v != "es" {
		t.Fatalf("Accept-Language is %s", v)
	}
	if _, present := vary["X-Absent"]; !present {
		t.Fatal("Absent header must still be recorded")
	}
	if _, present := vary["Cookie"]; present {
		t.Fatal("Cookie is not listed in Vary")
	}
}

func TestVaryStar(t *testing.T) {
	r, _ := http.NewRequest("GET", "/api/feed", nil)
	if _, ok := VaryHeaders(r, http.Header{"Vary": []string{"*"}}); ok {
		t.Fatal("Vary: * must not be reusable")
	}
}

func TestVaryMatches(t *testing.T) {
	stored := http.Header{"Accept-Language": []string{"es"}, "X-Absent": nil}

	same, _ := http.NewRequest("GET", "/api/feed", nil)
	same.Header.Set("Accept-Language", "es")
	if !VaryMatches(stored, same) {
		t.Fatal("Same headers should match")
	}

	other, _ := http.NewRequest("GET", "/api/feed", nil)
	other.Header.Set("Accept-Language", "en")
	if VaryMatches(stored, other) {
		t.Fatal("Different language should not match")
	}

	extra, _ := http.NewRequest("GET", "/api/feed", nil)
	extra.Header.Set("Accept-Language", "es")
	extra.Header.Set("X-Absent", "now-present")
	if VaryMatches(stored, extra) {
		t.Fatal("Header absent at store time should not match a present one")
	}
}

func TestVaryIgnoresAcceptEncoding(t *testing.T) {
	plain, _ := http.NewRequest("GET", "/static/js/bundle.js", nil)
	vary, ok := VaryHeaders(plain, http.Header{"Vary": []string{"Accept-Encoding, Accept-Language"}})
	if !ok {
		t.Fatal("Expected reusable response")
	}
	if _, present := vary["Accept-Encoding"]; present {
		t.Fatal("Accept-Encoding must not be recorded")
	}

	browser, _ := http.NewRequest("GET", "/static/js/bundle.js", nil)
	browser.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if !VaryMatches(vary, browser) {
		t.Fatal("Encoding negotiation should not cause a vary miss")
	}

	// entries written before encoding was ignored
	old := http.Header{"Accept-Encoding": nil}
	if !VaryMatches(old, browser) {
		t.Fatal("Stored Accept-Encoding should be ignored")
	}
}
