package protocol

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// wsFramer carries frames over a websocket, one binary message per
// frame. Descriptors cannot cross a websocket; frames with FDs are
// rejected on write and FD indexes received this way resolve to -1.
type wsFramer struct {
	ws *websocket.Conn
}

// ErrNoFDTransport is returned when a descriptor-carrying frame is sent
// over a transport that cannot pass descriptors.
var ErrNoFDTransport = errors.New("protocol: transport cannot carry descriptors")

// DialWebSocket connects to a remote control endpoint. Remote
// connections can observe and steer the graph but never attach shared
// memory, so they are limited to the descriptor-free message set.
func DialWebSocket(url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("protocol: dial %s: %w", url, err)
	}
	return &Conn{fr: &wsFramer{ws: ws}}, nil
}

// NewWebSocketConn wraps an accepted websocket, for the serving side.
func NewWebSocketConn(ws *websocket.Conn) *Conn {
	return &Conn{fr: &wsFramer{ws: ws}}
}

func (w *wsFramer) WriteFrame(f Frame) error {
	if len(f.FDs) > 0 {
		return ErrNoFDTransport
	}
	buf := make([]byte, frameHeaderSize+len(f.Payload))
	putHeader(buf, f)
	copy(buf[frameHeaderSize:], f.Payload)
	return w.ws.WriteMessage(websocket.BinaryMessage, buf)
}

func (w *wsFramer) ReadFrame() (Frame, error) {
	for {
		typ, buf, err := w.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Frame{}, ErrClosed
			}
			return Frame{}, err
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		if len(buf) < frameHeaderSize {
			return Frame{}, fmt.Errorf("protocol: truncated frame: %d bytes", len(buf))
		}
		size, op, err := parseHeader(buf)
		if err != nil {
			return Frame{}, err
		}
		if len(buf)-frameHeaderSize != size {
			return Frame{}, fmt.Errorf("protocol: frame size mismatch: header %d, body %d", size, len(buf)-frameHeaderSize)
		}
		return Frame{Op: op, Payload: buf[frameHeaderSize:]}, nil
	}
}

func (w *wsFramer) Close() error {
	return w.ws.Close()
}
