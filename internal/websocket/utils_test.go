package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type readResult struct {
	action Action
	err    error
}

// echoServer reads actions until the client goes away and reports each read.
func echoServer(t *testing.T) (*httptest.Server, <-chan readResult) {
	t.Helper()
	results := make(chan readResult, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			action, err := ReadAction(conn)
			results <- readResult{action, err}
			if err != nil {
				return
			}
			_ = WriteTyped(conn, PongResponse{Event: EventPong})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, results
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func next(t *testing.T, results <-chan readResult) readResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no read within 2s")
		return readResult{}
	}
}

func TestReadAction(t *testing.T) {
	srv, results := echoServer(t)
	conn := dial(t, srv)

	tests := []struct {
		name    string
		payload string
		want    Action
	}{
		{"submit", `{"action":"submit"}`, ActionSubmit},
		{"not json", `start please`, ""},
		{"ping after a bad frame", `{"action":"ping"}`, ActionPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
				t.Fatal(err)
			}
			r := next(t, results)
			if r.err != nil {
				t.Fatalf("err = %v", r.err)
			}
			if r.action != tt.want {
				t.Errorf("action = %q, want %q", r.action, tt.want)
			}
			var pong PongResponse
			if err := conn.ReadJSON(&pong); err != nil || pong.Event != EventPong {
				t.Errorf("reply = %+v, %v", pong, err)
			}
		})
	}
}

func TestUnexpectedClose(t *testing.T) {
	tests := []struct {
		name string
		code int
		want bool
	}{
		{"normal closure", websocket.CloseNormalClosure, false},
		{"going away", websocket.CloseGoingAway, false},
		{"protocol error", websocket.CloseProtocolError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, results := echoServer(t)
			conn := dial(t, srv)

			msg := websocket.FormatCloseMessage(tt.code, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
				t.Fatal(err)
			}
			r := next(t, results)
			if r.err == nil {
				t.Fatal("expected a close error")
			}
			if got := UnexpectedClose(r.err); got != tt.want {
				t.Errorf("UnexpectedClose(%v) = %v, want %v", r.err, got, tt.want)
			}
		})
	}
}
