package opencode_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fakeyudi/pocketcode/internal/opencode"
)

// sseHandler writes the given frames and closes the connection.
func sseHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			fmt.Fprint(w, f)
			w.(http.Flusher).Flush()
		}
	}
}

func nextEvent(t *testing.T, ch <-chan opencode.Event) opencode.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func expectState(t *testing.T, ev opencode.Event, want opencode.ConnState) opencode.ConnectionChanged {
	t.Helper()
	cc, ok := ev.(opencode.ConnectionChanged)
	if !ok {
		t.Fatalf("got %T (%+v), want ConnectionChanged(%s)", ev, ev, want)
	}
	if cc.State != want {
		t.Fatalf("state = %s, want %s", cc.State, want)
	}
	return cc
}

func TestStreamDeliversEventsAndDropsMalformed(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		": keepalive\n\n",
		"data: not json\n\n",
		`data: {"type":"message.updated","properties":{"info":{"id":"m1","sessionID":"s1","role":"assistant","time":{"created":1}}}}`+"\n\n",
		`data: {"type":"message.updated","properties":{"info":{"id":"m2","sessionID":"other","role":"user","time":{"created":1}}}}`+"\n\n",
		`data: {"type":"server.connected","properties":{}}`+"\n\n",
		"data: {\"type\":\"message.part.updated\",\n",
		`data: "properties":{"part":{"id":"p1","messageID":"m1","sessionID":"s1","type":"text","text":"x"}}}`+"\n\n",
	))
	defer srv.Close()

	c, err := opencode.NewClient(srv.URL, opencode.Credentials{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	s := c.NewStream(opencode.StreamOptions{SessionID: "s1", ReconnectInitial: time.Millisecond, ReconnectMax: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	expectState(t, nextEvent(t, s.Events()), opencode.ConnConnecting)
	expectState(t, nextEvent(t, s.Events()), opencode.ConnConnected)

	mu, ok := nextEvent(t, s.Events()).(opencode.MessageUpdated)
	if !ok || mu.Info.ID != "m1" {
		t.Fatalf("expected MessageUpdated m1, got %+v", mu)
	}
	pu, ok := nextEvent(t, s.Events()).(opencode.PartUpdated)
	if !ok || pu.Part.ID != "p1" {
		t.Fatalf("expected multi-line PartUpdated p1, got %+v", pu)
	}
	if s.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", s.Dropped())
	}

	// The server closed the connection, so the stream must cycle back.
	expectState(t, nextEvent(t, s.Events()), opencode.ConnDisconnected)
	rc := expectState(t, nextEvent(t, s.Events()), opencode.ConnReconnecting)
	if rc.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", rc.Attempt)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	for range s.Events() {
	}
}

func TestStreamReconnectsAfterFailure(t *testing.T) {
	var calls atomic.Int32
	ok := sseHandler(`data: {"type":"message.updated","properties":{"info":{"id":"m1","sessionID":"s1","role":"user","time":{"created":1}}}}` + "\n\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		ok(w, r)
	}))
	defer srv.Close()

	c, err := opencode.NewClient(srv.URL, opencode.Credentials{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	s := c.NewStream(opencode.StreamOptions{ReconnectInitial: time.Millisecond, ReconnectMax: 2 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	want := []opencode.ConnState{
		opencode.ConnConnecting,
		opencode.ConnDisconnected,
		opencode.ConnReconnecting,
		opencode.ConnDisconnected,
		opencode.ConnReconnecting,
	}
	for _, st := range want {
		expectState(t, nextEvent(t, s.Events()), st)
	}
	cc := expectState(t, nextEvent(t, s.Events()), opencode.ConnConnected)
	if cc.Attempt != 2 {
		t.Errorf("connected after %d attempts, want 2", cc.Attempt)
	}
	if _, ok := nextEvent(t, s.Events()).(opencode.MessageUpdated); !ok {
		t.Error("expected MessageUpdated after reconnect")
	}
}

func TestStreamBacksOffWhenAcceptedAndDropped(t *testing.T) {
	srv := httptest.NewServer(sseHandler())
	defer srv.Close()

	c, err := opencode.NewClient(srv.URL, opencode.Credentials{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	s := c.NewStream(opencode.StreamOptions{ReconnectInitial: time.Millisecond, ReconnectMax: 2 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	expectState(t, nextEvent(t, s.Events()), opencode.ConnConnecting)
	for want := 1; want <= 3; want++ {
		cc := expectState(t, nextEvent(t, s.Events()), opencode.ConnConnected)
		if cc.Attempt != want-1 {
			t.Errorf("connected at attempt %d, want %d", cc.Attempt, want-1)
		}
		expectState(t, nextEvent(t, s.Events()), opencode.ConnDisconnected)
		rc := expectState(t, nextEvent(t, s.Events()), opencode.ConnReconnecting)
		if rc.Attempt != want {
			t.Fatalf("reconnect attempt = %d, want %d; an empty connection reset the backoff", rc.Attempt, want)
		}
	}
}

func TestConnStateString(t *testing.T) {
	for st, want := range map[opencode.ConnState]string{
		opencode.ConnConnecting:   "connecting",
		opencode.ConnConnected:    "connected",
		opencode.ConnDisconnected: "disconnected",
		opencode.ConnReconnecting: "reconnecting",
	} {
		if st.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(st), st.String(), want)
		}
	}
}
