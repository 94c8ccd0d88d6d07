package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// go test -v --run TestWSClientSubscribesAndDelivers
func TestWSClientSubscribesAndDelivers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subs := make(chan subscribeReq, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		_, raw, err := c.ReadMessage()
		if err != nil {
			t.Errorf("read subscription: %v", err)
			return
		}
		var sub subscribeReq
		if err := json.Unmarshal(raw, &sub); err != nil {
			t.Errorf("bad subscription %s: %v", raw, err)
		}
		subs <- sub

		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"b":"1","a":"2"}`))
		// keep the connection open until the client leaves
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := NewWSClient(wsURL(srv), []string{BookTickerStream("BTCUSDT")}, WSOptions{
		PingInterval:     time.Second,
		PingTimeout:      time.Second,
		HandshakeTimeout: time.Second,
	}, zaptest.NewLogger(t))

	got := make(chan []byte, 1)
	client.SetMessageHandler(func(b []byte) error {
		got <- b
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	connected := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx, func() { close(connected) }) }()

	select {
	case sub := <-subs:
		if sub.Method != "SUBSCRIBE" || len(sub.Params) != 1 || sub.Params[0] != "btcusdt@bookTicker" {
			t.Errorf("unexpected subscription: %+v", sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for subscription")
	}
	<-connected

	select {
	case msg := <-got:
		if string(msg) != `{"b":"1","a":"2"}` {
			t.Errorf("unexpected message %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run after shutdown returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// go test -v --run TestWSClientDetectsSilentPeer
func TestWSClientDetectsSilentPeer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// never read: pings are never answered with pongs
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	client := NewWSClient(wsURL(srv), nil, WSOptions{
		PingInterval:     50 * time.Millisecond,
		PingTimeout:      50 * time.Millisecond,
		HandshakeTimeout: time.Second,
	}, zaptest.NewLogger(t))

	started := time.Now()
	err := client.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected keepalive failure")
	}
	if time.Since(started) > time.Second {
		t.Errorf("keepalive miss detected too late: %v", time.Since(started))
	}
}

// go test -v --run TestWSClientHandshakeRejected
func TestWSClientHandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewWSClient(wsURL(srv), nil, WSOptions{HandshakeTimeout: time.Second}, zaptest.NewLogger(t))
	_, err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected handshake error")
	}
	if !strings.Contains(err.Error(), "maintenance") {
		t.Errorf("expected response body in error, got %v", err)
	}
}

// go test -v --run TestWSClientAnswersServerPing
func TestWSClientAnswersServerPing(t *testing.T) {
	pongs := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.SetPongHandler(func(appData string) error {
			select {
			case pongs <- appData:
			default:
			}
			return nil
		})
		if err := c.WriteControl(websocket.PingMessage, []byte("123"), time.Now().Add(time.Second)); err != nil {
			return
		}
		// control frames are only dispatched while reading
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := NewWSClient(wsURL(srv), nil, WSOptions{
		PingTimeout:      time.Second,
		HandshakeTimeout: time.Second,
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx, nil) }()

	select {
	case got := <-pongs:
		if got != "123" {
			t.Errorf("pong payload %q, want %q", got, "123")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server ping was not answered")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// go test -v --run TestWSClientRejectsOversizedFrame
func TestWSClientRejectsOversizedFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", maxFrameSize+1)))
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	delivered := false
	client := NewWSClient(wsURL(srv), nil, WSOptions{HandshakeTimeout: time.Second}, zaptest.NewLogger(t))
	client.SetMessageHandler(func([]byte) error {
		delivered = true
		return nil
	})

	err := client.Run(context.Background(), nil)
	if !errors.Is(err, websocket.ErrReadLimit) {
		t.Fatalf("expected read limit error, got %v", err)
	}
	if delivered {
		t.Error("oversized frame reached the handler")
	}
}
