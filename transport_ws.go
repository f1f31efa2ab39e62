package tangguh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// wsFrame is the wire envelope for the streaming transport: requests carry
// id/method/params, responses carry id plus result or error.
type wsFrame struct {
	ID     string          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WebSocketTransport implements StreamTransport over a websocket. A read
// pump goroutine delivers correlated responses through StreamEvents; a
// dropped connection fires OnClose exactly once. Open may be called again
// after a drop to establish a fresh connection.
type WebSocketTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewWebSocketTransport returns an unconnected websocket transport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

// Open dials the endpoint and starts the read pump. Any previous connection
// is torn down first.
func (t *WebSocketTransport) Open(ctx context.Context, url string, events StreamEvents) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	if t.conn != nil {
		_ = t.conn.Close(websocket.StatusNormalClosure, "replaced")
	}
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	go t.readPump(pumpCtx, conn, events)
	return nil
}

func (t *WebSocketTransport) readPump(ctx context.Context, conn *websocket.Conn, events StreamEvents) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if events.OnClose != nil {
				events.OnClose(err)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// Malformed frame: the connection is suspect, drop it so the
			// supervisor can recover cleanly.
			_ = conn.Close(websocket.StatusInvalidFramePayloadData, "malformed frame")
			if events.OnClose != nil {
				events.OnClose(fmt.Errorf("malformed frame: %w", err))
			}
			return
		}

		if events.OnMessage == nil {
			continue
		}
		if frame.Error != nil {
			events.OnMessage(frame.ID, nil, &CallError{Code: frame.Error.Code, Message: frame.Error.Message})
		} else {
			events.OnMessage(frame.ID, frame.Result, nil)
		}
	}
}

// Send transmits one correlated request frame.
func (t *WebSocketTransport) Send(ctx context.Context, id, method string, params json.RawMessage) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("websocket: not connected")
	}

	data, err := json.Marshal(wsFrame{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close tears the connection down. The read pump observes the closure and
// fires OnClose.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "client closing")
	t.conn = nil
	return err
}
