package serializer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	storedAtHeaderName  = "Offline-Stored-At"
	varyNamesHeaderName = "Offline-Vary"
)

var ErrMalformed = errors.New("malformed stored response")

// Snapshot is a fully buffered response.
// It is what gets stored in the cache and what is sent to the client.
type Snapshot struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Request header values selected by the response `Vary` header at store time.
	Vary http.Header
	// The value of the clock when the snapshot was stored.
	StoredAt time.Time
}

// OK reports whether the status is in the 2xx range.
func (s Snapshot) OK() bool {
	return s.StatusCode >= 200 && s.StatusCode <= 299
}

// FromResponse reads the whole response body and closes it.
// An error means the body could not be read completely.
func FromResponse(res *http.Response) (Snapshot, error) {
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Snapshot{}, err
	}
	header := res.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Content-Length")
	return Snapshot{
		StatusCode: res.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}

var delim = []byte("\r\n\r\n----\r\n\r\n")

// Marshal writes the request head (key and vary headers), a delimiter,
// and the HTTP/1.1 representation of the response.
func Marshal(key string, s Snapshot) ([]byte, error) {
	buf := &bytes.Buffer{}

	fmt.Fprintf(buf, "GET %s HTTP/1.1\r\nHost: offline\r\n", key)
	reqHeader := make(http.Header, len(s.Vary)+1)
	names := make([]string, 0, len(s.Vary))
	for name, values := range s.Vary {
		names = append(names, name)
		reqHeader[name] = values
	}
	if len(names) > 0 {
		reqHeader.Set(varyNamesHeaderName, strings.Join(names, ", "))
	}
	if err := reqHeader.Write(buf); err != nil {
		return nil, err
	}
	buf.WriteString("\r\n")
	buf.Write(delim)

	header := s.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(storedAtHeaderName, strconv.FormatInt(s.StoredAt.Unix(), 10))
	res := &http.Response{
		StatusCode:    s.StatusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
	}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(b []byte) (string, Snapshot, error) {
	reqBytes, resBytes, found := bytes.Cut(b, delim)
	if !found {
		return "", Snapshot{}, ErrMalformed
	}
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(reqBytes)))
	if err != nil {
		return "", Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(resBytes)), req)
	if err != nil {
		return "", Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	s, err := FromResponse(res)
	if err != nil {
		return "", Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if storedAt, err := strconv.ParseInt(s.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		s.StoredAt = time.Unix(storedAt, 0)
	}
	s.Header.Del(storedAtHeaderName)

	s.Vary = make(http.Header)
	for _, line := range req.Header.Values(varyNamesHeaderName) {
		for _, name := range strings.Split(line, ",") {
			if name = strings.TrimSpace(name); name != "" {
				s.Vary[http.CanonicalHeaderKey(name)] = req.Header.Values(name)
			}
		}
	}
	return req.URL.RequestURI(), s, nil
}
