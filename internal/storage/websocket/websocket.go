package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/OCAP2/bodytrack/pkg/core"
	"github.com/OCAP2/bodytrack/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
	// ReconnectBackoff is the first reconnect delay; it doubles per attempt.
	ReconnectBackoff time.Duration
	// AckTimeout bounds how long session start/end wait for the server.
	AckTimeout time.Duration
	Logger     *slog.Logger
}

// Backend streams skeleton frames over WebSocket to a live viewer.
// Session start and end wait for an ack; everything else is fire-and-forget.
type Backend struct {
	conn *connection
	cfg  Config
}

// New creates a new WebSocket storage backend.
func New(cfg Config) *Backend {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = ackTimeout
	}
	return &Backend{
		conn: newConnection(cfg.Logger.With("component", "websocket"), cfg.ReconnectBackoff),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// Connected reports whether the backend currently holds a live socket.
func (b *Backend) Connected() bool {
	return b.conn.connected()
}

// Dropped returns how many messages were discarded because the send queue was full.
func (b *Backend) Dropped() uint64 {
	b.conn.mu.Lock()
	defer b.conn.mu.Unlock()
	return b.conn.dropped
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartSession sends the session header and waits for server ack.
func (b *Backend) StartSession(s *core.Session) error {
	data, err := marshalEnvelope(streaming.TypeStartSession, streaming.StartSessionPayload{Session: s})
	if err != nil {
		return err
	}
	b.conn.setSessionHeader(data)
	return b.conn.sendAndWait(data, streaming.TypeStartSession, b.cfg.AckTimeout)
}

// EndSession sends end_session and waits for server ack.
func (b *Backend) EndSession() error {
	data, err := marshalEnvelope(streaming.TypeEndSession, nil)
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndSession, b.cfg.AckTimeout)

	// Clear cached state regardless of error.
	b.conn.setSessionHeader(nil)
	return err
}

func (b *Backend) AddBody(r *core.BodyRecord) error {
	return b.sendEnvelope(streaming.TypeAddBody, r)
}

func (b *Backend) RecordFrame(f *core.SkeletonFrame) error {
	return b.sendEnvelope(streaming.TypeSkeletonFrame, f)
}

func (b *Backend) RemoveBody(r *core.BodyRemoval) error {
	return b.sendEnvelope(streaming.TypeRemoveBody, r)
}
