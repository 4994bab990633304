package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"syncrelay/internal/constants"
)

// WSDialer dials websocket relays.
type WSDialer struct {
	HandshakeTimeout time.Duration
	SkipTLSVerify    bool
	Header           http.Header
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := &websocket.Dialer{
		ReadBufferSize:   constants.WSBufferSize,
		WriteBufferSize:  constants.WSBufferSize,
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if d.SkipTLSVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay returned %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return NewWSConn(conn), nil
}
