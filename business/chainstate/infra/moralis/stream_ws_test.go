package moralis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/JoKacar/bitcore/business/chainstate/app"
	"github.com/JoKacar/bitcore/internal/config"
)

// newWSTestClient builds a Client whose streaming path points at a local
// WebSocket server.
func newWSTestClient(t *testing.T, streamURL string) *Client {
	t.Helper()
	c, err := NewClient(config.ExternalAPIConfig{
		BaseURL:     "http://unused.invalid",
		APIKey:      "test-key",
		StreamWSURL: streamURL,
	}, nopLogger{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// wsRecordServer accepts one WebSocket session, captures the subscribe
// frame and runs serve against the connection.
func wsRecordServer(t *testing.T, subscribes chan<- wsSubscribe, serve func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("expected API key header, got %q", got)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Logf("websocket accept error: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := context.Background()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var sub wsSubscribe
		if err := json.Unmarshal(data, &sub); err != nil {
			t.Errorf("subscribe frame is not valid JSON: %v", err)
			return
		}
		subscribes <- sub

		if serve != nil {
			serve(ctx, conn)
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSStream_SubscribeFrameAndRecords(t *testing.T) {
	subscribes := make(chan wsSubscribe, 1)
	url := wsRecordServer(t, subscribes, func(ctx context.Context, conn *websocket.Conn) {
		conn.Write(ctx, websocket.MessageText, []byte(`{"hash":"0x01"}`))
		conn.Write(ctx, websocket.MessageText, []byte(`{"hash":"0x02"}`))
	})

	c := newWSTestClient(t, url)

	from, to := uint64(100), uint64(200)
	stream, err := c.OpenAddressTxStream(context.Background(), 1, "0xabc", app.StreamOptions{
		Ascending: true,
		FromBlock: &from,
		ToBlock:   &to,
	})
	if err != nil {
		t.Fatalf("OpenAddressTxStream: %v", err)
	}
	defer stream.Close()

	var got []string
	for raw := range stream.Records() {
		got = append(got, string(raw))
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream ended with error: %v", err)
	}
	if len(got) != 2 || got[0] != `{"hash":"0x01"}` || got[1] != `{"hash":"0x02"}` {
		t.Fatalf("unexpected records: %v", got)
	}

	sub := <-subscribes
	if sub.Action != "subscribe" {
		t.Errorf("expected action subscribe, got %q", sub.Action)
	}
	if sub.Chain != "0x1" {
		t.Errorf("expected chain 0x1, got %q", sub.Chain)
	}
	if sub.Address != "0xabc" {
		t.Errorf("expected address 0xabc, got %q", sub.Address)
	}
	if sub.Order != "ASC" {
		t.Errorf("expected order ASC, got %q", sub.Order)
	}
	if sub.FromBlock == nil || *sub.FromBlock != 100 || sub.ToBlock == nil || *sub.ToBlock != 200 {
		t.Errorf("expected block window [100,200], got %v %v", sub.FromBlock, sub.ToBlock)
	}
	if sub.TokenAddress != "" {
		t.Errorf("native stream should not carry a token address, got %q", sub.TokenAddress)
	}
}

func TestWSStream_TokenTransfersCarryTokenAddress(t *testing.T) {
	subscribes := make(chan wsSubscribe, 1)
	url := wsRecordServer(t, subscribes, nil)

	c := newWSTestClient(t, url)

	stream, err := c.OpenTokenTransferStream(context.Background(), 137, "0xabc", "0xtoken", app.StreamOptions{})
	if err != nil {
		t.Fatalf("OpenTokenTransferStream: %v", err)
	}
	defer stream.Close()

	for range stream.Records() {
	}

	sub := <-subscribes
	if sub.Chain != "0x89" {
		t.Errorf("expected chain 0x89, got %q", sub.Chain)
	}
	if sub.TokenAddress != "0xtoken" {
		t.Errorf("expected token address, got %q", sub.TokenAddress)
	}
	if sub.Order != "DESC" {
		t.Errorf("default order should be DESC, got %q", sub.Order)
	}
}

func TestWSStream_AbnormalClosureSurfacesErr(t *testing.T) {
	subscribes := make(chan wsSubscribe, 1)
	url := wsRecordServer(t, subscribes, func(ctx context.Context, conn *websocket.Conn) {
		conn.Write(ctx, websocket.MessageText, []byte(`{"hash":"0x01"}`))
		conn.Close(websocket.StatusInternalError, "backend failure")
	})

	c := newWSTestClient(t, url)

	stream, err := c.OpenAddressTxStream(context.Background(), 1, "0xabc", app.StreamOptions{})
	if err != nil {
		t.Fatalf("OpenAddressTxStream: %v", err)
	}
	defer stream.Close()

	var got int
	for range stream.Records() {
		got++
	}
	if got != 1 {
		t.Fatalf("expected the record flushed before failure, got %d", got)
	}
	if stream.Err() == nil {
		t.Fatal("an interrupted session must surface through Err")
	}
}

func TestWSStream_CloseUnblocksSlowConsumer(t *testing.T) {
	subscribes := make(chan wsSubscribe, 1)
	url := wsRecordServer(t, subscribes, func(ctx context.Context, conn *websocket.Conn) {
		for {
			if err := conn.Write(ctx, websocket.MessageText, []byte(`{"hash":"0x01"}`)); err != nil {
				return
			}
		}
	})

	c := newWSTestClient(t, url)

	stream, err := c.OpenAddressTxStream(context.Background(), 1, "0xabc", app.StreamOptions{})
	if err != nil {
		t.Fatalf("OpenAddressTxStream: %v", err)
	}

	// Take one record, then stop consuming while the server keeps pushing.
	select {
	case <-stream.Records():
	case <-time.After(2 * time.Second):
		t.Fatal("no record arrived")
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for range stream.Records() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not end the stream")
	}
	if err := stream.Err(); err != nil {
		t.Errorf("consumer-initiated close should leave nil Err, got %v", err)
	}
}
