package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/beacon/internal/models"
)

func wsTestServer(t *testing.T, f *handlerFixture) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/audit/"), "/ws")
		f.ws.HandleProgress(w, r, jobID)
	}))
	t.Cleanup(server.Close)
	return server
}

func dialWS(t *testing.T, server *httptest.Server, jobID string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(server.URL, "http", "ws", 1) + "/v1/audit/" + jobID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocket_UnknownJobClosesPolicyViolation(t *testing.T) {
	f := newHandlerFixture(t, &stubRunner{})
	server := wsTestServer(t, f)

	conn := dialWS(t, server, "missing")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestWebSocket_CompletedJobSendsFinalSnapshot(t *testing.T) {
	f := newHandlerFixture(t, &stubRunner{})
	jobID := f.registry.Create("https://example.com", "10.0.0.1")
	f.registry.Complete(jobID, &models.AuditResponse{Status: models.AuditStatusSuccess})

	server := wsTestServer(t, f)
	conn := dialWS(t, server, jobID)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var event models.ProgressEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, string(models.JobStatusCompleted), event.Status)
	assert.Equal(t, 100, event.Progress)
}

func TestWebSocket_StreamsProgressUntilTerminal(t *testing.T) {
	f := newHandlerFixture(t, &stubRunner{})
	jobID := f.registry.Create("https://example.com", "10.0.0.1")

	server := wsTestServer(t, f)
	conn := dialWS(t, server, jobID)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// Initial snapshot arrives before any subscription events
	var event models.ProgressEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, string(models.JobStatusPending), event.Status)

	// Wait for the handler to subscribe before producing events
	deadline := time.Now().Add(2 * time.Second)
	for f.broadcaster.SubscriberCount(jobID) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotZero(t, f.broadcaster.SubscriberCount(jobID))

	f.registry.Complete(jobID, &models.AuditResponse{Status: models.AuditStatusSuccess})

	for {
		require.NoError(t, conn.ReadJSON(&event))
		if event.Status == string(models.JobStatusCompleted) {
			assert.Equal(t, 100, event.Progress)
			return
		}
	}
}
