package wschannel

import (
	"context"
	"net/http"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/gorilla/websocket"
)

// Conn is the part of a websocket connection the channel uses. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection to a status endpoint
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// GorillaDialer dials with gorilla/websocket
type GorillaDialer struct {
	Dialer *websocket.Dialer
}

// Dial opens the websocket, handshake failures are transport errors
func (d GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, domain.NewTransportError("websocket dial", err)
	}
	return conn, nil
}
