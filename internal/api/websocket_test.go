package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wsTestTimeout = 5 * time.Second

// dialWatch connects to the watch endpoint for one session over a live
// httptest server.
func dialWatch(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http", "ws", 1) + "/api/v1/sessions/" + sessionID + "/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wsTestTimeout)))
	var event map[string]interface{}
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestServer_Watch_InitialSummary(t *testing.T) {
	h := newTestServer(t)
	srv := httptest.NewServer(h.server.Router())
	defer srv.Close()

	id := h.newSession(t)
	conn := dialWatch(t, srv, id)

	event := readEvent(t, conn)
	assert.Equal(t, "selection_changed", event["type"])
	payload, ok := event["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(0), payload["total_fee"])
}

func TestServer_Watch_PushesSelectionChange(t *testing.T) {
	h := newTestServer(t)
	srv := httptest.NewServer(h.server.Router())
	defer srv.Close()

	id := h.newSession(t)
	conn := dialWatch(t, srv, id)

	// Drain the initial summary before mutating the selection.
	readEvent(t, conn)

	resp, err := http.Post(
		srv.URL+"/api/v1/sessions/"+id+"/selection/select",
		"application/json",
		bytes.NewReader([]byte(`{"code":"36"}`)),
	)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	event := readEvent(t, conn)
	assert.Equal(t, "selection_changed", event["type"])
	payload, ok := event["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.InDelta(t, 75.05, payload["total_fee"], 0.001)
	codes, ok := payload["selected_codes"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"36"}, codes)
}

func TestServer_Watch_UnknownSession(t *testing.T) {
	h := newTestServer(t)
	srv := httptest.NewServer(h.server.Router())
	defer srv.Close()

	url := strings.Replace(srv.URL, "http", "ws", 1) + "/api/v1/sessions/missing/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
