package httpserver

import (
	"log/slog"

	"nhooyr.io/websocket"
)

// closeWebsocket sends a normal closure frame, logging failures at debug
// level since the peer has usually gone already.
func closeWebsocket(logger *slog.Logger, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil && logger != nil {
		logger.Debug("websocket close failed", "err", err)
	}
}
