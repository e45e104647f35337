package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetconsole/internal/auth"
)

func TestScannerEvents(t *testing.T) {
	input := strings.Join([]string{
		": keepalive",
		"data: first",
		"",
		"event: progress",
		"data: two",
		"data: lines",
		"",
		"",
		"data:nospace",
		"",
		"event: end",
		"data: ",
		"",
	}, "\n")

	scanner := NewScanner(strings.NewReader(input))
	var got []Event
	for scanner.Next() {
		got = append(got, scanner.Event())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []Event{
		{Data: "first"},
		{Type: "progress", Data: "two\nlines"},
		{Data: "nospace"},
		{Type: "end", Data: ""},
	}, got)
}

func TestScannerTrailingEventWithoutBlankLine(t *testing.T) {
	scanner := NewScanner(strings.NewReader("data: tail"))
	require.True(t, scanner.Next())
	assert.Equal(t, "tail", scanner.Event().Data)
	assert.False(t, scanner.Next())
	assert.NoError(t, scanner.Err())
}

func TestScannerCRLF(t *testing.T) {
	scanner := NewScanner(strings.NewReader("data: x\r\n\r\n"))
	require.True(t, scanner.Next())
	assert.Equal(t, "x", scanner.Event().Data)
}

func TestEndpoints(t *testing.T) {
	tests := []struct {
		name string
		base string
		push string
		log  string
	}{
		{"http", "http://fleet.local:8000", "ws://fleet.local:8000/api/ws", "http://fleet.local:8000/api/commands/c1/stream"},
		{"https with prefix", "https://fleet.example.com/console/", "wss://fleet.example.com/console/api/ws", "https://fleet.example.com/console/api/commands/c1/stream"},
		{"bare host", "localhost:8000", "ws://localhost:8000/api/ws", "http://localhost:8000/api/commands/c1/stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			push, err := PushURL(tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.push, push.String())

			log, err := LogURL(tt.base, "c1")
			require.NoError(t, err)
			assert.Equal(t, tt.log, log.String())
		})
	}

	escaped, err := LogURL("http://fleet.local", "a/b c")
	require.NoError(t, err)
	assert.Equal(t, "http://fleet.local/api/commands/a%2Fb%20c/stream", escaped.String())

	_, err = PushURL("")
	assert.Error(t, err)
	_, err = PushURL("ftp://fleet.local")
	assert.Error(t, err)
	_, err = LogURL("http://fleet.local", "")
	assert.Error(t, err)
}

func TestTerminate(t *testing.T) {
	assert.False(t, Terminate(nil).Done())
	assert.Equal(t, ReasonEndOfStream, Terminate(io.EOF).Reason)
	assert.Equal(t, ReasonClosed, Terminate(ErrClosed).Reason)
	assert.Equal(t, ReasonEndOfStream, Terminate(errors.Wrap(io.EOF, "wrapped")).Reason)

	failed := Terminate(errors.New("boom"))
	assert.Equal(t, ReasonFailed, failed.Reason)
	assert.Contains(t, failed.String(), "boom")
}

var upgrader = websocket.Upgrader{}

// pushServer serves /api/ws, requiring token "good", and hands each
// accepted connection to handle.
func pushServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "good" {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSubscriptionDeliversAndEnds(t *testing.T) {
	srv := pushServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"agent_update","agent":{"id":"vm1"}}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x1})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"agent_update","agent":{"id":"vm2"}}`))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	})

	sub, err := Dial(context.Background(), srv.URL, auth.NewSession("good", nil), nil)
	require.NoError(t, err)
	defer sub.Close()

	first, err := sub.Next()
	require.NoError(t, err)
	assert.Contains(t, string(first), `"vm1"`)

	second, err := sub.Next()
	require.NoError(t, err)
	assert.Contains(t, string(second), `"vm2"`)

	_, err = sub.Next()
	assert.Equal(t, ReasonEndOfStream, Terminate(err).Reason)
}

func TestSubscriptionRejected(t *testing.T) {
	srv := pushServer(t, func(conn *websocket.Conn) {})

	_, err := Dial(context.Background(), srv.URL, auth.NewSession("bad", nil), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrUnauthorized))
	assert.Contains(t, err.Error(), "403")
}

func TestSubscriptionRevoked(t *testing.T) {
	srv := pushServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCodeUnauthorized, "token expired"))
		time.Sleep(50 * time.Millisecond)
	})

	sub, err := Dial(context.Background(), srv.URL, auth.NewSession("good", nil), nil)
	require.NoError(t, err)
	defer sub.Close()

	_, err = sub.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrUnauthorized))
	assert.Equal(t, ReasonFailed, Terminate(err).Reason)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	release := make(chan struct{})
	srv := pushServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(release)
				return
			}
		}
	})

	sub, err := Dial(context.Background(), srv.URL, auth.NewSession("good", nil), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sub.Next()
		done <- err
	}()

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
	select {
	case <-release:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close")
	}
}

// logServer streams lines as SSE frames the way the fleet server does:
// each line keeps its newline inside the data field.
func logServer(t *testing.T, lines []string, end bool, hold chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/commands/cmd-1/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
		if end {
			fmt.Fprint(w, "event: end\ndata: \n\n")
			flusher.Flush()
		}
		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLogStreamChunks(t *testing.T) {
	srv := logServer(t, []string{"a\n", "b\n", "c\n"}, false, nil)

	stream, err := OpenLog(context.Background(), nil, srv.URL, auth.NewSession("good", nil), "cmd-1")
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, "cmd-1", stream.CommandID())

	var chunks []string
	for {
		chunk, err := stream.Recv()
		if err != nil {
			assert.Equal(t, io.EOF, err)
			break
		}
		chunks = append(chunks, chunk)
	}
	assert.Equal(t, []string{"a", "b", "c"}, chunks)
}

func TestLogStreamEndEvent(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	srv := logServer(t, []string{"only"}, true, hold)

	stream, err := OpenLog(context.Background(), nil, srv.URL, auth.NewSession("good", nil), "cmd-1")
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "only", chunk)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestLogStreamUnauthorized(t *testing.T) {
	srv := logServer(t, nil, false, nil)

	_, err := OpenLog(context.Background(), nil, srv.URL, auth.NewSession("bad", nil), "cmd-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrUnauthorized))
}

func TestLogStreamNotFound(t *testing.T) {
	srv := logServer(t, nil, false, nil)

	_, err := OpenLog(context.Background(), nil, srv.URL, auth.NewSession("good", nil), "other")
	require.Error(t, err)
	assert.False(t, errors.Is(err, auth.ErrUnauthorized))
	assert.Contains(t, err.Error(), "404")
}

func TestLogStreamCloseUnblocksRecv(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	srv := logServer(t, []string{"first"}, false, hold)

	stream, err := OpenLog(context.Background(), nil, srv.URL, auth.NewSession("good", nil), "cmd-1")
	require.NoError(t, err)

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", chunk)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())

	select {
	case err := <-done:
		assert.Equal(t, ErrClosed, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
}
