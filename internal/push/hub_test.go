package push

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"lawmate-go/internal/model"
	"lawmate-go/pkg/log"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// dialTestConn 建立一对真实的 WebSocket 连接，返回服务端与客户端两侧。
func dialTestConn(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-connCh:
	case <-time.After(time.Second):
		t.Fatal("等待服务端连接超时")
	}
	t.Cleanup(func() { server.Close() })
	return server, client
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &payload))
	return payload
}

func TestNotifyDeliversToAllConnections(t *testing.T) {
	hub := NewHub()
	server1, client1 := dialTestConn(t)
	server2, client2 := dialTestConn(t)
	hub.Register(7, server1)
	hub.Register(7, server2)

	msg := &model.Message{ID: "m1", ThreadID: "t1", Role: model.RoleUser, Content: "hi"}
	hub.Notify(7, EventDelivered, msg)

	for _, client := range []*websocket.Conn{client1, client2} {
		payload := readEvent(t, client)
		assert.Equal(t, "message", payload["type"])
		assert.Equal(t, EventDelivered, payload["event"])
	}
}

func TestNotifyPrunesDeadConnections(t *testing.T) {
	hub := NewHub()
	deadServer, _ := dialTestConn(t)
	aliveServer, aliveClient := dialTestConn(t)
	hub.Register(7, deadServer)
	hub.Register(7, aliveServer)

	// 连接已断开，写入失败后该连接被剔除，存活连接不受影响
	require.NoError(t, deadServer.Close())
	msg := &model.Message{ID: "m1", ThreadID: "t1", Role: model.RoleUser, Content: "hi"}
	hub.Notify(7, EventFailed, msg)

	payload := readEvent(t, aliveClient)
	assert.Equal(t, EventFailed, payload["event"])

	hub.mu.Lock()
	remaining := len(hub.conns[7])
	hub.mu.Unlock()
	assert.Equal(t, 1, remaining)

	hub.Notify(7, EventPending, msg)
	payload = readEvent(t, aliveClient)
	assert.Equal(t, EventPending, payload["event"])
}

func TestNotifyUnknownUserIsNoOp(t *testing.T) {
	hub := NewHub()
	msg := &model.Message{ID: "m1", ThreadID: "t1", Role: model.RoleUser, Content: "hi"}
	hub.Notify(42, EventAssistant, msg) // 没有连接也不应 panic
}
