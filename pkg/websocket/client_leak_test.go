package websocket

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func TestStopDoesNotLeakGoroutines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, _ := upgrader.Upgrade(w, r, nil)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	// Let the runtime settle before taking the baseline
	time.Sleep(100 * time.Millisecond)
	before := runtime.NumGoroutine()

	client := NewClient(wsURL(server), func(message []byte) {}, testLogger(t))
	client.SetPingConfig(10*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond)

	client.Start()
	time.Sleep(200 * time.Millisecond)
	client.Stop()

	time.Sleep(50 * time.Millisecond)
	after := runtime.NumGoroutine()

	// Stop waits on the run and heartbeat goroutines; a lingering heartbeat
	// shows up as a count above the baseline.
	assert.LessOrEqual(t, after, before+1, "possible goroutine leak")
}
