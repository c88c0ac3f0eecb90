package httpemu

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinhtkblbp/limenode/pkg/lime"
	"github.com/kinhtkblbp/limenode/pkg/limelog"
	"github.com/kinhtkblbp/limenode/pkg/storage"
)

func newTestListener(t *testing.T, cfg Config) *Listener {
	t.Helper()
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	l := New(storage.NewMemory(), cfg, limelog.New(discardWriter{}, limelog.LevelError))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Serve(ctx)
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func basicAuthHeader(name, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(name+":"+password))
}

func doRequest(l *Listener, method, path, name, password string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", basicAuthHeader(name, password))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	l.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	l := newTestListener(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	l.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendMessageFireAndForget(t *testing.T) {
	l := newTestListener(t, Config{})
	body, _ := json.Marshal(map[string]any{
		"to":      "bob@lime.example",
		"type":    "text/plain",
		"content": "hi",
	})
	rec := doRequest(l, http.MethodPost, "/messages/", "alice@lime.example", "secret", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Poll until the store-and-forward pump has delivered the message.
	require.Eventually(t, func() bool {
		rec2 := doRequest(l, http.MethodGet, "/storage/messages/", "bob@lime.example", "secret", nil)
		if rec2.Code != http.StatusOK {
			return false
		}
		var resp struct {
			Total int `json:"total"`
		}
		_ = json.Unmarshal(rec2.Body.Bytes(), &resp)
		return resp.Total == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSendMessageAwaitsNotification(t *testing.T) {
	l := newTestListener(t, Config{})
	id := lime.NewID()
	body, _ := json.Marshal(map[string]any{
		"id":      id.String(),
		"to":      "carol@lime.example",
		"type":    "text/plain",
		"content": "hi",
	})
	rec := doRequest(l, http.MethodPost, "/messages/?id="+id.String(), "dave@lime.example", "secret", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Session-Id"))
}

func TestCommandPingRoundTrip(t *testing.T) {
	l := newTestListener(t, Config{})
	rec := doRequest(l, http.MethodGet, "/commands/ping/", "erin@lime.example", "secret", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, lime.MediaTypePing, rec.Header().Get("Content-Type"))

	var cmd lime.Command
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmd))
	assert.Equal(t, lime.CommandStatusSuccess, cmd.Status)
}

func TestCommandUnknownResourceFails(t *testing.T) {
	l := newTestListener(t, Config{})
	rec := doRequest(l, http.MethodGet, "/commands/nonexistent/", "frank@lime.example", "secret", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLongPollMissReturnsNoContentOnTimeout(t *testing.T) {
	l := newTestListener(t, Config{RequestTimeout: 100 * time.Millisecond})
	rec := doRequest(l, http.MethodGet, "/messages/", "grace@lime.example", "secret", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMissingAuthIsRejected(t *testing.T) {
	l := newTestListener(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/messages/", nil)
	rec := httptest.NewRecorder()
	l.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
