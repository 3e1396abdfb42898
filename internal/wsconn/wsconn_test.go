package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// mockWSServer runs handler for every accepted WebSocket connection.
func mockWSServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Logf("websocket accept error: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		if handler != nil {
			handler(conn)
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.PingInterval = 0
	cfg.InitialBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 50 * time.Millisecond
	return cfg
}

// collect drains Messages until it closes or the deadline passes.
func collect(t *testing.T, client *Client, deadline time.Duration) [][]byte {
	t.Helper()
	var got [][]byte
	timeout := time.After(deadline)
	for {
		select {
		case msg, ok := <-client.Messages():
			if !ok {
				return got
			}
			got = append(got, msg)
		case <-timeout:
			t.Fatalf("messages channel did not close within %v", deadline)
		}
	}
}

func TestClient_ReceiveUntilNormalClosure(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		conn.Write(ctx, websocket.MessageText, []byte(`{"seq":1}`))
		conn.Write(ctx, websocket.MessageText, []byte(`{"seq":2}`))
	})
	defer server.Close()

	client := New(testConfig(wsURL(server)))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if client.State() != StateConnected {
		t.Fatalf("expected state %v, got %v", StateConnected, client.State())
	}

	got := collect(t, client, 2*time.Second)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if string(got[0]) != `{"seq":1}` || string(got[1]) != `{"seq":2}` {
		t.Errorf("unexpected messages: %q, %q", got[0], got[1])
	}
	if err := client.Err(); err != nil {
		t.Errorf("normal closure should leave nil Err, got %v", err)
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	client := New(testConfig("ws://localhost:59999"))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err == nil {
		t.Fatal("expected Connect to fail against a dead port")
	}
	if client.State() != StateDisconnected {
		t.Errorf("expected state %v, got %v", StateDisconnected, client.State())
	}
}

func TestClient_SendReachesServer(t *testing.T) {
	var received []byte
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		mu.Lock()
		received = data
		mu.Unlock()
	})
	defer server.Close()

	client := New(testConfig(wsURL(server)))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	payload := []byte(`{"action":"subscribe","address":"0xabc"}`)
	if err := client.Send(ctx, payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) == 0 {
		t.Fatal("server did not receive the message")
	}
	var parsed map[string]any
	if err := json.Unmarshal(received, &parsed); err != nil {
		t.Fatalf("received data is not valid JSON: %v\ndata: %s", err, received)
	}
	if parsed["action"] != "subscribe" {
		t.Errorf("expected action=subscribe, got %v", parsed["action"])
	}
}

func TestClient_SendBeforeConnect(t *testing.T) {
	client := New(testConfig("ws://localhost:59999"))
	if err := client.Send(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected Send before Connect to fail")
	}
}

func TestClient_AbnormalClosureSurfacesErr(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		conn.Write(ctx, websocket.MessageText, []byte(`{"seq":1}`))
		conn.Close(websocket.StatusInternalError, "backend failure")
	})
	defer server.Close()

	client := New(testConfig(wsURL(server)))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	got := collect(t, client, 2*time.Second)
	if len(got) != 1 {
		t.Fatalf("expected the message sent before failure, got %d messages", len(got))
	}
	if err := client.Err(); err == nil {
		t.Fatal("abnormal closure should surface through Err")
	}
}

func TestClient_CloseUnblocksSlowConsumer(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		for {
			if err := conn.Write(ctx, websocket.MessageText, []byte(`{"seq":0}`)); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := New(testConfig(wsURL(server)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Never read, so the read loop ends up blocked on the channel send.
	time.Sleep(100 * time.Millisecond)

	drained := make(chan struct{})
	go func() {
		for range client.Messages() {
		}
		close(drained)
	}()

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock the read loop")
	}
	if err := client.Err(); err != nil {
		t.Errorf("client-initiated close should leave nil Err, got %v", err)
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := New(testConfig(wsURL(server)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if client.State() != StateClosed {
		t.Errorf("expected state %v, got %v", StateClosed, client.State())
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close should not error: %v", err)
	}
}

func TestClient_ReconnectRunsResubscribeHook(t *testing.T) {
	var conns atomic.Int32
	var subs atomic.Int32

	server := mockWSServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		n := conns.Add(1)

		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		subs.Add(1)

		if n == 1 {
			conn.Close(websocket.StatusInternalError, "restart")
			return
		}
		conn.Write(ctx, websocket.MessageText, []byte(`{"seq":"resumed"}`))
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.MaxReconnects = 1

	client := New(cfg)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subscribe := []byte(`{"action":"subscribe"}`)
	client.OnReconnect(func(ctx context.Context) error {
		return client.Send(ctx, subscribe)
	})

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Send(ctx, subscribe); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got := collect(t, client, 3*time.Second)
	if len(got) != 1 || string(got[0]) != `{"seq":"resumed"}` {
		t.Fatalf("expected the resumed session's message, got %v", got)
	}
	if err := client.Err(); err != nil {
		t.Errorf("resumed stream ended normally, Err should be nil: %v", err)
	}
	if n := conns.Load(); n != 2 {
		t.Errorf("expected 2 connections, got %d", n)
	}
	if n := subs.Load(); n != 2 {
		t.Errorf("expected a subscribe frame on each session, got %d", n)
	}
}
