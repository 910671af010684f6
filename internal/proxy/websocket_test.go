package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsWebSocketUpgrade(t *testing.T) {
	t.Parallel()

	plain := httptest.NewRequest("GET", "/api/vms", nil)
	assert.False(t, isWebSocketUpgrade(plain))

	ws := httptest.NewRequest("GET", "/api/console", nil)
	ws.Header.Set("Upgrade", "websocket")
	ws.Header.Set("Connection", "keep-alive, Upgrade")
	assert.True(t, isWebSocketUpgrade(ws))

	halfWay := httptest.NewRequest("GET", "/api/console", nil)
	halfWay.Header.Set("Upgrade", "websocket")
	assert.False(t, isWebSocketUpgrade(halfWay))
}

func TestProxy_WebSocketPassthrough(t *testing.T) {
	t.Parallel()

	var echoUpgrader = websocket.Upgrader{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := echoUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(backend.Close)

	f := newFixture(t, defaultRules("bolt"), singlePool("bolt", backendAddr(backend)))

	front := httptest.NewServer(f.proxy)
	t.Cleanup(front.Close)

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/api/console"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("qm list")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, "qm list", string(msg))
}

func TestProxy_WebSocketBackendDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultRules("bolt"), singlePool("bolt", "127.0.0.1:1"))

	front := httptest.NewServer(f.proxy)
	t.Cleanup(front.Close)

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/api/console"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
