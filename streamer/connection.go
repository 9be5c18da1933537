package streamer

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hypothesis/h-sub005/errors"
)

// Identity is the authenticated viewer behind a connection. The zero
// value is an anonymous viewer.
type Identity struct {
	UserID string
	Groups []string
}

// Authenticated reports whether the identity names a signed-in user.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// ConnectionConfig wires a Connection to its transport. Send delivers one
// serialized frame to the client; Close tears the transport down with a
// human-readable reason.
type ConnectionConfig struct {
	Identity Identity
	Send     func(data []byte) error
	Close    func(reason string)
	Logger   *slog.Logger
}

// Connection is the protocol handler for one client session. The
// dispatcher goroutine is the only mutator of clientID, filter and debug;
// Terminate may be called from the transport goroutine at any time, so
// liveness is checked atomically at send time.
type Connection struct {
	id       string
	identity Identity
	send     func(data []byte) error
	close    func(reason string)
	logger   *slog.Logger

	clientID   string
	filter     *Filter
	debug      bool
	terminated atomic.Bool
}

// NewConnection creates an open connection bound to a transport session.
func NewConnection(cfg ConnectionConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Connection{
		id:       id,
		identity: cfg.Identity,
		send:     cfg.Send,
		close:    cfg.Close,
		logger:   logger.With("connection_id", id),
	}
}

// ID returns the connection's internal identifier, used for logging.
func (c *Connection) ID() string { return c.id }

// ClientID returns the client-supplied id, empty until set.
func (c *Connection) ClientID() string { return c.clientID }

// Identity returns the authenticated viewer for this connection.
func (c *Connection) Identity() Identity { return c.identity }

// Filter returns the installed subscription filter, nil until the client
// sends one.
func (c *Connection) Filter() *Filter { return c.filter }

// Terminated reports whether the connection has been closed.
func (c *Connection) Terminated() bool { return c.terminated.Load() }

// Terminate marks the connection closed. Idempotent; safe to call from
// any goroutine.
func (c *Connection) Terminate() {
	c.terminated.CompareAndSwap(false, true)
}

// closeWithReason terminates the connection and shuts the transport down
// with reason. Used for framing-level faults where no reply is possible.
func (c *Connection) closeWithReason(reason string) {
	if c.terminated.CompareAndSwap(false, true) && c.close != nil {
		c.close(reason)
	}
}

// Send serializes payload and delivers it to the client. A no-op once the
// connection is terminated; termination races with delivery, so liveness
// is checked here rather than only at enqueue time. A transport send
// failure terminates the connection.
func (c *Connection) Send(payload any) error {
	if c.terminated.Load() {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "Connection", "Send", "encode payload")
	}
	if err := c.send(data); err != nil {
		c.logger.Debug("send failed, terminating connection", "error", err)
		c.Terminate()
		return errors.Wrap(errors.ErrConnectionClosed, "Connection", "Send", "deliver payload")
	}
	if c.debug {
		c.logger.Debug("delivered payload", "bytes", len(data))
	}
	return nil
}

// clientPayload is the inbound control message wire format.
type clientPayload struct {
	Type   *string         `json:"type"`
	ID     json.RawMessage `json:"id"`
	Value  *string         `json:"value"`
	Debug  bool            `json:"debug"`
	Filter json.RawMessage `json:"filter"`
}

// replyMode governs reply routing for one inbound message: messages with
// a numeric id get a correlated reply, messages without an id get an
// uncorrelated one, and messages with a non-numeric id get none at all.
type replyMode int

const (
	replyCorrelated replyMode = iota
	replyUncorrelated
	replySuppressed
)

// HandleMessage processes one inbound control message. Runs on the
// dispatcher goroutine. Non-JSON input closes the connection; semantic
// faults produce structured error replies. The returned error is reserved
// for internal failures, not client mistakes.
func (c *Connection) HandleMessage(raw []byte) error {
	if c.terminated.Load() {
		return nil
	}

	var payload clientPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Warn("malformed client message, closing", "error", err)
		c.closeWithReason("malformed message")
		return nil
	}

	mode, replyTo := replyRouting(payload.ID)

	if payload.Type == nil {
		return c.reply(mode, replyTo, false, errorBody("invalid_type"))
	}

	switch *payload.Type {
	case "client_id":
		if payload.Value == nil {
			return c.reply(mode, replyTo, false, errorBody("invalid_data"))
		}
		c.clientID = *payload.Value
		c.debug = payload.Debug
		return c.reply(mode, replyTo, true, nil)

	case "filter":
		if len(payload.Filter) == 0 {
			return c.reply(mode, replyTo, false, errorBody("invalid_data"))
		}
		filter, err := ParseFilter(payload.Filter)
		if err != nil {
			c.logger.Debug("rejected client filter", "error", err)
			return c.reply(mode, replyTo, false, errorBody("invalid_data"))
		}
		c.filter = filter
		return c.reply(mode, replyTo, true, nil)

	case "ping":
		return c.reply(mode, replyTo, true, map[string]any{"type": "pong"})

	case "whoami":
		var userID any
		if c.identity.Authenticated() {
			userID = c.identity.UserID
		}
		return c.reply(mode, replyTo, true, map[string]any{
			"type":   "whoyouare",
			"userid": userID,
		})

	default:
		return c.reply(mode, replyTo, false, errorBody("invalid_type"))
	}
}

// reply sends one reply frame according to the message's reply mode.
func (c *Connection) reply(mode replyMode, replyTo json.Number, ok bool, body map[string]any) error {
	if mode == replySuppressed {
		return nil
	}
	frame := make(map[string]any, len(body)+2)
	for k, v := range body {
		frame[k] = v
	}
	frame["ok"] = ok
	if mode == replyCorrelated {
		frame["reply_to"] = replyTo
	}
	return c.Send(frame)
}

// replyRouting classifies the inbound message's id field.
func replyRouting(id json.RawMessage) (replyMode, json.Number) {
	if len(id) == 0 {
		return replyUncorrelated, ""
	}
	var n json.Number
	if err := json.Unmarshal(id, &n); err != nil || n == "" {
		return replySuppressed, ""
	}
	return replyCorrelated, n
}

func errorBody(errType string) map[string]any {
	return map[string]any{
		"type":  "error",
		"error": map[string]any{"type": errType},
	}
}
