package opencode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnState is the state of the event stream connection.
type ConnState int32

const (
	ConnConnecting ConnState = iota
	ConnConnected
	ConnDisconnected
	ConnReconnecting
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("ConnState(%d)", int32(s))
}

// validTransition reports whether the stream may move from one state to
// another. Connecting is only ever the initial state.
func validTransition(from, to ConnState) bool {
	switch from {
	case ConnConnecting:
		return to == ConnConnected || to == ConnDisconnected
	case ConnConnected:
		return to == ConnDisconnected
	case ConnDisconnected:
		return to == ConnReconnecting
	case ConnReconnecting:
		return to == ConnConnected || to == ConnDisconnected
	}
	return false
}

const (
	DefaultReconnectInitial = 500 * time.Millisecond
	DefaultReconnectMax     = 30 * time.Second

	// maxEventSize bounds a single SSE line. Tool parts can carry whole files.
	maxEventSize = 8 << 20
)

// StreamOptions tunes a Stream. Zero values select the defaults.
type StreamOptions struct {
	// SessionID drops session-scoped events for other sessions when set.
	SessionID        string
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// Buffer is the capacity of the events channel.
	Buffer int
}

// Stream subscribes to GET /event and delivers decoded events. It reconnects
// with capped exponential backoff and reports every state change as a
// ConnectionChanged event on the same channel.
type Stream struct {
	client  *Client
	opts    StreamOptions
	events  chan Event
	state   atomic.Int32
	bo      *backoff.ExponentialBackOff
	warn    rate.Sometimes
	dropped atomic.Int64
	log     zerolog.Logger

	// live is set once the current connection has delivered a frame.
	live bool
}

// NewStream prepares a stream; nothing is sent until Run is called.
func (c *Client) NewStream(opts StreamOptions) *Stream {
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = DefaultReconnectInitial
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = DefaultReconnectMax
	}
	if opts.ReconnectMax < opts.ReconnectInitial {
		opts.ReconnectMax = opts.ReconnectInitial
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.ReconnectInitial
	bo.MaxInterval = opts.ReconnectMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	s := &Stream{
		client: c,
		opts:   opts,
		events: make(chan Event, opts.Buffer),
		bo:     bo,
		warn:   rate.Sometimes{First: 3, Interval: 10 * time.Second},
		log:    c.log.With().Str("component", "stream").Logger(),
	}
	s.state.Store(int32(ConnConnecting))
	return s
}

// Events returns the channel events are delivered on. It is closed when Run
// returns.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// State returns the current connection state.
func (s *Stream) State() ConnState {
	return ConnState(s.state.Load())
}

// Dropped returns how many malformed events have been discarded.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Run connects and keeps the stream alive until ctx is cancelled. It always
// returns ctx.Err().
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.events)

	if !s.emit(ctx, ConnectionChanged{State: ConnConnecting}) {
		return ctx.Err()
	}

	attempt := 0
	for {
		connected := false
		s.live = false
		err := s.connect(ctx, func() bool {
			connected = true
			return s.transition(ctx, ConnectionChanged{State: ConnConnected, Attempt: attempt})
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = io.EOF
		}
		s.log.Warn().Err(err).Bool("was_connected", connected).Bool("was_live", s.live).Msg("event stream dropped")
		// Only a connection that carried frames restarts the retry schedule;
		// one accepted and closed straight away keeps backing off.
		if s.live {
			s.bo.Reset()
			attempt = 0
		}
		if !s.transition(ctx, ConnectionChanged{State: ConnDisconnected, Err: err}) {
			return ctx.Err()
		}

		attempt++
		delay := s.bo.NextBackOff()
		if delay == backoff.Stop {
			delay = s.opts.ReconnectMax
		}
		if !s.transition(ctx, ConnectionChanged{State: ConnReconnecting, Attempt: attempt, Delay: delay}) {
			return ctx.Err()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// transition records the new state and emits it. Invalid transitions are
// logged and still applied so the UI never shows a stale banner.
func (s *Stream) transition(ctx context.Context, ev ConnectionChanged) bool {
	from := ConnState(s.state.Swap(int32(ev.State)))
	if !validTransition(from, ev.State) {
		s.log.Error().Stringer("from", from).Stringer("to", ev.State).Msg("unexpected stream transition")
	}
	return s.emit(ctx, ev)
}

func (s *Stream) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// connect opens one SSE connection and reads it until it ends. onOpen runs
// once the server has accepted the subscription.
func (s *Stream) connect(ctx context.Context, onOpen func() bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.client.endpoint("event"), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	s.client.creds.apply(req)

	resp, err := s.client.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if !onOpen() {
		return ctx.Err()
	}
	return s.read(ctx, resp.Body)
}

// read parses the SSE framing: data lines accumulate until a blank line
// dispatches them; comment lines and other fields are ignored.
func (s *Stream) read(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			if data.Len() > 0 {
				s.live = true
				if !s.dispatch(ctx, data.Bytes()) {
					return ctx.Err()
				}
				data.Reset()
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.Write(value)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("event larger than %d bytes: %w", maxEventSize, err)
		}
		return fmt.Errorf("reading event stream: %w", err)
	}
	// Flush a final event the server did not terminate with a blank line.
	if data.Len() > 0 {
		s.live = true
		if !s.dispatch(ctx, data.Bytes()) {
			return ctx.Err()
		}
	}
	return io.EOF
}

func (s *Stream) dispatch(ctx context.Context, payload []byte) bool {
	ev, err := DecodeEvent(payload)
	if err != nil {
		n := s.dropped.Add(1)
		s.warn.Do(func() {
			s.log.Warn().Err(err).Int64("dropped_total", n).Msg("dropping malformed event")
		})
		return true
	}
	if s.opts.SessionID != "" {
		if sid := SessionOf(ev); sid != "" && sid != s.opts.SessionID {
			return true
		}
	}
	if _, ok := ev.(Unhandled); ok {
		s.log.Trace().Str("type", ev.EventType()).Msg("ignoring event")
		return true
	}
	return s.emit(ctx, ev)
}
