package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Headers the dialer sets itself; gorilla rejects duplicates.
var reservedHeaders = map[string]struct{}{
	"Upgrade":                  {},
	"Connection":               {},
	"Sec-Websocket-Key":        {},
	"Sec-Websocket-Version":    {},
	"Sec-Websocket-Extensions": {},
}

// buildHeader merges configured headers with the auth token. A bare token is
// sent as a Bearer credential; an explicit Authorization header wins.
func buildHeader(headers map[string]string, authToken string) http.Header {
	header := http.Header{}
	for k, v := range headers {
		if _, skip := reservedHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		header.Set(k, v)
	}
	if authToken != "" && header.Get("Authorization") == "" {
		if !strings.Contains(authToken, " ") {
			authToken = "Bearer " + authToken
		}
		header.Set("Authorization", authToken)
	}
	return header
}

// dial performs one WebSocket handshake bounded by timeout.
func dial(ctx context.Context, target string, header http.Header, timeout time.Duration) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %v (http status %d)", ErrConnectFailed, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	return conn, nil
}

// closeSocket sends a normal close frame and closes the connection.
func closeSocket(conn *websocket.Conn) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	_ = conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
