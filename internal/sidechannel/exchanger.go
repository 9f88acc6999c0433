// Package sidechannel connects to the external audio processing service
// over WebSocket. Each fragment's audio track is submitted for processing
// and the processed track is returned asynchronously.
//
// The wire protocol uses paired frames: a text frame carrying a JSON
// envelope followed by a binary frame carrying the audio payload. The
// envelope event is "fragment:process" outbound and "fragment:processed"
// inbound.
package sidechannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope events.
const (
	EventProcess   = "fragment:process"
	EventProcessed = "fragment:processed"
)

// ErrClosed is returned by Submit after the exchanger has shut down.
var ErrClosed = errors.New("sidechannel: connection closed")

// FragmentMeta identifies an audio fragment crossing the side channel.
type FragmentMeta struct {
	ID          string `json:"id"`
	BatchNumber int64  `json:"sequenceNumber"`
	SampleRate  int    `json:"sampleRate"`
	Channels    int    `json:"channels"`
}

// envelope is the JSON text frame preceding each binary payload.
type envelope struct {
	Event    string       `json:"event"`
	Fragment FragmentMeta `json:"fragment"`
}

// ProcessedAudio is a processed audio track returned by the service.
type ProcessedAudio struct {
	Meta FragmentMeta
	Data []byte
}

// Exchanger submits fragment audio for external processing and yields
// processed tracks.
type Exchanger interface {
	Submit(ctx context.Context, meta FragmentMeta, audio []byte) error
	Processed() <-chan ProcessedAudio
	Close() error
}

// Options configures a websocket exchanger.
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	// PingInterval is the keepalive ping period. Zero disables pings.
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Client is a websocket-backed Exchanger.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	processed chan ProcessedAudio

	closeOnce sync.Once
	closed    chan struct{}
	readDone  chan struct{}
}

// Dial connects to the audio processing service and starts the read loop.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing side channel: %w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing side channel: %w", err)
	}

	c := &Client{
		conn:      conn,
		logger:    logger.With(slog.String("component", "sidechannel")),
		processed: make(chan ProcessedAudio, 4),
		closed:    make(chan struct{}),
		readDone:  make(chan struct{}),
	}

	if opts.PingInterval > 0 {
		// A peer that stops answering pings must not hang the read loop
		// forever. Every pong pushes the deadline out again.
		wait := 2 * opts.PingInterval
		conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	go c.readLoop()
	if opts.PingInterval > 0 {
		go c.pingLoop(opts.PingInterval)
	}

	c.logger.Info("side channel connected", slog.String("url", opts.URL))
	return c, nil
}

// Submit sends a fragment's audio to the processing service. The envelope
// and payload are written as consecutive frames under one lock so frames
// from concurrent submitters never interleave.
func (c *Client) Submit(ctx context.Context, meta FragmentMeta, audio []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	env, err := json.Marshal(envelope{Event: EventProcess, Fragment: meta})
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, env); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("writing audio payload: %w", err)
	}

	c.logger.Debug("fragment submitted",
		slog.Int64("batch", meta.BatchNumber),
		slog.Int("bytes", len(audio)))
	return nil
}

// Processed returns the channel of processed tracks. Closed when the read
// loop exits.
func (c *Client) Processed() <-chan ProcessedAudio {
	return c.processed
}

// Close shuts down the connection. Safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
		<-c.readDone
	})
	return err
}

// readLoop pairs inbound envelope and payload frames. Frames that do not
// follow the envelope-then-binary pattern are dropped with a warning.
func (c *Client) readLoop() {
	defer close(c.readDone)
	defer close(c.processed)

	var pending *FragmentMeta
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn("side channel read failed", slog.String("error", err.Error()))
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.logger.Warn("malformed envelope", slog.String("error", err.Error()))
				pending = nil
				continue
			}
			if env.Event != EventProcessed {
				c.logger.Debug("ignoring event", slog.String("event", env.Event))
				pending = nil
				continue
			}
			meta := env.Fragment
			pending = &meta

		case websocket.BinaryMessage:
			if pending == nil {
				c.logger.Warn("binary frame without envelope, dropping",
					slog.Int("bytes", len(data)))
				continue
			}
			out := ProcessedAudio{Meta: *pending, Data: data}
			pending = nil

			select {
			case c.processed <- out:
			case <-c.closed:
				return
			}
		}
	}
}

func (c *Client) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("keepalive ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
