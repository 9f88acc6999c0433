package sidechannel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// echoProcessor upgrades the connection and answers every
// fragment:process pair with a fragment:processed pair whose payload is
// the submitted audio reversed. When drop is non-nil, a receive on it
// severs the connection mid-session.
func echoProcessor(t *testing.T, drop chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if drop != nil {
			go func() {
				<-drop
				conn.Close()
			}()
		}

		var pending *envelope
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch msgType {
			case websocket.TextMessage:
				var env envelope
				if err := json.Unmarshal(data, &env); err != nil {
					t.Errorf("server: bad envelope: %v", err)
					return
				}
				if env.Event != EventProcess {
					t.Errorf("server: event = %q, want %q", env.Event, EventProcess)
				}
				pending = &env
			case websocket.BinaryMessage:
				if pending == nil {
					t.Error("server: binary frame without envelope")
					return
				}
				reversed := make([]byte, len(data))
				for i, b := range data {
					reversed[len(data)-1-i] = b
				}
				reply, _ := json.Marshal(envelope{Event: EventProcessed, Fragment: pending.Fragment})
				conn.WriteMessage(websocket.TextMessage, reply)
				conn.WriteMessage(websocket.BinaryMessage, reversed)
				pending = nil
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTest(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Options{
		URL:              wsURL(srv),
		HandshakeTimeout: 2 * time.Second,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSubmitAndReceive(t *testing.T) {
	srv := httptest.NewServer(echoProcessor(t, nil))
	defer srv.Close()

	c := dialTest(t, srv)

	meta := FragmentMeta{ID: "frag-0", BatchNumber: 0, SampleRate: 16000, Channels: 1}
	if err := c.Submit(context.Background(), meta, []byte("abc")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case out := <-c.Processed():
		if out.Meta.BatchNumber != 0 || out.Meta.ID != "frag-0" {
			t.Errorf("meta = %+v, want frag-0/0", out.Meta)
		}
		if !bytes.Equal(out.Data, []byte("cba")) {
			t.Errorf("data = %q, want cba", out.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for processed audio")
	}
}

func TestProcessedPreservesSubmissionOrder(t *testing.T) {
	srv := httptest.NewServer(echoProcessor(t, nil))
	defer srv.Close()

	c := dialTest(t, srv)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		meta := FragmentMeta{ID: "frag", BatchNumber: i, SampleRate: 16000, Channels: 1}
		if err := c.Submit(ctx, meta, []byte{byte(i)}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	for i := int64(0); i < 3; i++ {
		select {
		case out := <-c.Processed():
			if out.Meta.BatchNumber != i {
				t.Errorf("processed %d: batch = %d", i, out.Meta.BatchNumber)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for processed fragment %d", i)
		}
	}
}

func TestSubmitAfterClose(t *testing.T) {
	srv := httptest.NewServer(echoProcessor(t, nil))
	defer srv.Close()

	c := dialTest(t, srv)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	meta := FragmentMeta{ID: "frag", BatchNumber: 0}
	if err := c.Submit(context.Background(), meta, []byte("x")); err != ErrClosed {
		t.Errorf("submit after close = %v, want ErrClosed", err)
	}
}

func TestProcessedChannelClosesOnDisconnect(t *testing.T) {
	drop := make(chan struct{})
	srv := httptest.NewServer(echoProcessor(t, drop))
	defer srv.Close()

	c := dialTest(t, srv)

	// Server closing the websocket ends the read loop.
	close(drop)

	select {
	case _, ok := <-c.Processed():
		if ok {
			t.Error("expected closed channel, got value")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("processed channel did not close")
	}
}

func TestProcessedChannelClosesOnSilentPeer(t *testing.T) {
	// The handler upgrades but never reads, so pings are never answered
	// and the client's read deadline expires.
	block := make(chan struct{})
	defer close(block)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-block
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), Options{
		URL:              wsURL(srv),
		HandshakeTimeout: 2 * time.Second,
		PingInterval:     50 * time.Millisecond,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	select {
	case _, ok := <-c.Processed():
		if ok {
			t.Error("expected closed channel, got value")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("processed channel did not close on silent peer")
	}
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not a websocket endpoint", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), Options{
		URL:              wsURL(srv),
		HandshakeTimeout: time.Second,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err == nil {
		t.Fatal("expected dial error, got nil")
	}
}
