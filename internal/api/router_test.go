package api

import (
	"encoding/json"
	"fragloadd/internal/events"
	"fragloadd/internal/fragloader"
	"fragloadd/internal/models"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu            sync.Mutex
	notifications []events.Notification
}

func (s *recordingSink) Emit(n events.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
}

type staticStatus []fragloader.ActiveLoad

func (s staticStatus) Active() []fragloader.ActiveLoad { return s }

type mapStore map[string][]byte

func (m mapStore) Get(key string) ([]byte, bool) {
	data, ok := m[key]
	return data, ok
}

func post(t *testing.T, server *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(server.URL+"/load", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestAPI_HandleLoad(t *testing.T) {
	sink := &recordingSink{}
	server := httptest.NewServer(New(sink, staticStatus(nil), mapStore{}))
	defer server.Close()

	t.Run("Ranged fragment", func(t *testing.T) {
		resp := post(t, server, `{"id":"v-1","sn":12,"type":"video","url":"https://cdn/v1.m4s","rangeStart":100,"rangeEnd":199}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "v-1", body["id"])

		sink.mu.Lock()
		defer sink.mu.Unlock()
		require.Len(t, sink.notifications, 1)
		n := sink.notifications[0]
		assert.Equal(t, events.FragLoading, n.Event)
		assert.Equal(t, models.TrackMain, n.Frag.Type)
		assert.Equal(t, int64(12), n.Frag.SN)
		assert.Equal(t, "https://cdn/v1.m4s", n.Frag.URL)
		start, end, ok := n.Frag.ByteRange()
		assert.True(t, ok)
		assert.Equal(t, int64(100), start)
		assert.Equal(t, int64(199), end)
	})

	t.Run("Generated id", func(t *testing.T) {
		resp := post(t, server, `{"type":"audio","url":"https://cdn/a1.m4s"}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body["id"])
	})

	t.Run("Bad requests", func(t *testing.T) {
		for _, body := range []string{
			`not json`,
			`{"type":"captions","url":"https://cdn/x"}`,
			`{"type":"audio"}`,
			`{"type":"audio","url":"https://cdn/x","rangeStart":100}`,
			`{"type":"audio","url":"https://cdn/x","rangeStart":100,"rangeEnd":50}`,
			`{"type":"audio","url":"https://cdn/x","rangeStart":-5,"rangeEnd":10}`,
		} {
			resp := post(t, server, body)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		}

		sink.mu.Lock()
		defer sink.mu.Unlock()
		assert.Len(t, sink.notifications, 2, "rejected requests must not be published")
	})
}

func TestAPI_HandleStatus(t *testing.T) {
	status := staticStatus{
		{Type: models.TrackMain, ID: "v-1", URL: "https://cdn/v1.m4s", Loaded: 50},
		{Type: models.TrackAudio, ID: "a-1", URL: "https://cdn/a1.m4s"},
	}
	server := httptest.NewServer(New(&recordingSink{}, status, mapStore{}))
	defer server.Close()

	resp, err := http.Get(server.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]fragloader.ActiveLoad
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 2)
	assert.Equal(t, "v-1", body["main"].ID)
	assert.Equal(t, int64(50), body["main"].Loaded)
	assert.Equal(t, "a-1", body["audio"].ID)
}

func TestAPI_HandleFragment(t *testing.T) {
	store := mapStore{"v-1": []byte("payload")}
	server := httptest.NewServer(New(&recordingSink{}, staticStatus(nil), store))
	defer server.Close()

	t.Run("Fragment Found", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/fragments/v-1")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), body)
	})

	t.Run("Fragment Not Found", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/fragments/unknown")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
