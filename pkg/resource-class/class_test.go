package resourceclass

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIntercept(t *testing.T) {
	c := Classifier{}
	cases := []struct {
		method string
		url    string
		want   bool
	}{
		{"GET", "/api/polls", true},
		{"GET", "/static/js/bundle.js", true},
		{"POST", "/api/vote", false},
		{"PUT", "/api/polls/1", false},
		{"DELETE", "/logo.png", false},
		{"GET", "chrome-extension://abcdef/popup.js", false},
		{"GET", "moz-extension://abcdef/icon.png", false},
	}
	for _, tc := range cases {
		r, err := http.NewRequest(tc.method, tc.url, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got := c.Intercept(r); got != tc.want {
			t.Errorf("Intercept(%s %s) = %v", tc.method, tc.url, got)
		}
	}
}

func TestClassify(t *testing.T) {
	c := Classifier{}
	cases := map[string]Class{
		"/api/polls/42":        API,
		"/api/avatar.png":      API,
		"/logo.png":            Image,
		"/img/Photo.JPEG":      Image,
		"/icons/a.svg":         Image,
		"/anim.gif":            Image,
		"/pic.webp":            Image,
		"/static/css/main.css": Static,
		"/":                    Static,
		"/apiary":              Static,
		"/png":                 Static,
	}
	for path, want := range cases {
		r := httptest.NewRequest("GET", path, nil)
		if got := c.Classify(r); got != want {
			t.Errorf("Classify(%s) = %s, want %s", path, got, want)
		}
	}
}

func TestClassifyByDestination(t *testing.T) {
	r := httptest.NewRequest("GET", "/media/42", nil)
	r.Header.Set("Sec-Fetch-Dest", "image")
	if got := (Classifier{}).Classify(r); got != Image {
		t.Fatalf("Classify = %s", got)
	}
}

func TestCustomAPIPrefix(t *testing.T) {
	c := Classifier{APIPrefix: "/v2/"}
	if got := c.Classify(httptest.NewRequest("GET", "/v2/polls", nil)); got != API {
		t.Fatalf("Classify = %s", got)
	}
	if got := c.Classify(httptest.NewRequest("GET", "/api/polls", nil)); got != Static {
		t.Fatalf("Classify = %s", got)
	}
}

func TestIsNavigation(t *testing.T) {
	r := httptest.NewRequest("GET", "/feed", nil)
	if IsNavigation(r) {
		t.Fatal("No header should not be a navigation")
	}
	r.Header.Set("Sec-Fetch-Mode", "navigate")
	if !IsNavigation(r) {
		t.Fatal("Expected navigation")
	}
}
