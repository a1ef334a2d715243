package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Conn is one framed, bidirectional connection to the match authority.
type Conn interface {
	Read(ctx context.Context) (*matchdto.Frame, error)
	Write(ctx context.Context, f *matchdto.Frame) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// Dialer opens a Conn. The header carries the bearer credential.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// ErrUnauthorized is returned by the websocket dialer when the handshake is refused with 401/403.
var ErrUnauthorized = errors.New("handshake unauthorized")

// WebSocketDialer dials JSON text frames over nhooyr.io/websocket.
type WebSocketDialer struct {
	ReadLimit int64
}

func (d WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status=%d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, err
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{c: conn}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (*matchdto.Frame, error) {
	var f matchdto.Frame
	if err := wsjson.Read(ctx, w.c, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Write is called under the manager's write lock.
func (w *wsConn) Write(ctx context.Context, f *matchdto.Frame) error {
	return wsjson.Write(ctx, w.c, f)
}

func (w *wsConn) Ping(ctx context.Context) error { return w.c.Ping(ctx) }

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}
