package offlinecache

import (
	"encoding/json"
	"net/http"

	cachestatus "github.com/votatok/offline-cache/pkg/cache-status"
)

// APIOffline is the body of the API offline response.
type APIOffline struct {
	Error   string `json:"error"`
	Offline bool   `json:"offline"`
	Message string `json:"message"`
}

var apiOfflineBody = mustJSON(APIOffline{
	Error:   "Network unavailable",
	Offline: true,
	Message: "Esta funcionalidad requiere conexión a internet",
})

const offlineImage = `<svg width="200" height="200" xmlns="http://www.w3.org/2000/svg">` +
	`<rect width="200" height="200" fill="#f0f0f0"/>` +
	`<text x="100" y="100" text-anchor="middle" fill="#666" font-family="Arial" font-size="14">Sin conexión</text>` +
	`</svg>`

func fallbackStatus() cachestatus.CacheStatus {
	var cs cachestatus.CacheStatus
	cs.Forward(cachestatus.FwdMiss)
	cs.SetDetail(cachestatus.DetailFallback)
	return cs
}

func apiFallback() *Response {
	return &Response{
		StatusCode: http.StatusServiceUnavailable,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       apiOfflineBody,
		Status:     fallbackStatus(),
	}
}

// imageFallback is a placeholder image, served with a 200 so it renders.
func imageFallback() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"image/svg+xml"}},
		Body:       []byte(offlineImage),
		Status:     fallbackStatus(),
	}
}

func offlineFallback() *Response {
	return &Response{
		StatusCode: http.StatusServiceUnavailable,
		Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte("Offline"),
		Status:     fallbackStatus(),
	}
}

// jsonResponse builds the response of a control event.
func jsonResponse(code int, v any) *Response {
	return &Response{
		StatusCode: code,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       mustJSON(v),
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
