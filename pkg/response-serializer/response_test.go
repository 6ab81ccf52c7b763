package serializer

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestFromResponseReadsBody(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nServer: Test\r\nContent-Length: 16\r\n\r\nThis is the body"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err := FromResponse(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if string(s.Body) != "This is the body" {
		t.Fatalf("Body: %s", s.Body)
	}
	if s.Header.Get("Content-Length") != "" {
		t.Fatal("Content-Length must not be kept in the snapshot")
	}
	if !s.OK() {
		t.Fatal("200 should be OK")
	}
}

func TestSnapshotSerialization(t *testing.T) {
	storedAt := time.Unix(1700000000, 0)
	s := Snapshot{
		StatusCode: 201,
		Header:     http.Header{"Test": []string{"-ing"}, "Content-Type": []string{"application/json"}},
		Body:       []byte(`{"id":42}`),
		Vary:       http.Header{"Accept-Language": []string{"es"}, "X-Absent": nil},
		StoredAt:   storedAt,
	}
	bts, err := Marshal("/api/polls/42?x=1", s)
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}

	key, s2, err := Unmarshal(bts)
	if err != nil {
		t.Fatalf("Error reading snapshot: %+v", err)
	}
	if key != "/api/polls/42?x=1" {
		t.Fatalf("Key is %s", key)
	}
	if s2.StatusCode != 201 {
		t.Fatalf("Status is %d", s2.StatusCode)
	}
	if !bytes.Equal(s2.Body, s.Body) {
		t.Fatalf("Body is %s", s2.Body)
	}
	if s2.Header.Get("Test") != "-ing" {
		t.Fatalf("Test header wrong %+v", s2.Header)
	}
	if s2.Header.Get(storedAtHeaderName) != "" || s2.Header.Get("Content-Length") != "" {
		t.Fatalf("Internal headers leaked %+v", s2.Header)
	}
	if !s2.StoredAt.Equal(storedAt) {
		t.Fatalf("Stored at %s", s2.StoredAt)
	}
	if s2.Vary.Get("Accept-Language") != "es" {
		t.Fatalf("Vary is %+v", s2.Vary)
	}
	if _, ok := s2.Vary["X-Absent"]; !ok {
		t.Fatalf("Absent vary header lost %+v", s2.Vary)
	}
}

func TestBodyContainingDelimiter(t *testing.T) {
	body := append([]byte("before"), delim...)
	body = append(body, []byte("after")...)
	bts, err := Marshal("/weird.txt", Snapshot{StatusCode: 200, Body: body})
	if err != nil {
		t.Fatal(err)
	}
	_, s, err := Unmarshal(bts)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(s.Body, body) {
		t.Fatalf("Body is %q", s.Body)
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	if _, _, err := Unmarshal([]byte("not a stored response")); err == nil {
		t.Fatal("Expected error")
	}
}
