// Package wsstream adapts a gorilla/websocket connection into the duplex
// frame channel the connection manager drives: one JSON object per
// WebSocket message, plus close-code extraction for session-rotation
// signaling (see internal/connection).
package wsstream

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrClosed = errors.New("wsstream: connection closed")
)

// Conn wraps a *websocket.Conn as a JSON frame channel. Unlike a raw
// io.Reader/io.Writer byte stream, each WriteFrame/ReadFrame call moves
// exactly one WebSocket message, which matches the wire protocol's
// one-frame-per-message contract.
type Conn struct {
	ws *websocket.Conn
}

func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Dial opens a new WebSocket connection and wraps it.
func Dial(url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return New(ws), nil
}

// WriteFrame serializes v to JSON and sends it as one binary WebSocket
// message.
func (c *Conn) WriteFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// ReadFrame blocks for the next WebSocket message and unmarshals it into v.
// CloseError is returned verbatim so callers can inspect the close code.
func (c *Conn) ReadFrame(v any) error {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// CloseCode extracts the close code from an error returned by ReadFrame, if
// the error represents a normal WebSocket close handshake. ok is false for
// any other error (network failure, decode failure, etc).
func CloseCode(err error) (code int, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

// Close sends a close frame with the given code/reason and closes the
// underlying connection. The close frame is written with a 2-second
// deadline.
func (c *Conn) Close(code int, reason string) error {
	deadline := time.Now().Add(2 * time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return c.ws.Close()
}

// SetReadDeadline forwards to the underlying connection; used to enforce
// the handshake timeout.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}
