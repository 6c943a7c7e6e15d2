package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleEvents returns an HTTP handler that upgrades connections to WebSocket
// and streams token events until the client goes away. originPatterns limits
// cross-origin upgrades; "*" accepts any origin.
func HandleEvents(hub *Hub, originPatterns []string) http.HandlerFunc {
	opts := &ws.AcceptOptions{OriginPatterns: originPatterns}
	for _, p := range originPatterns {
		if p == "*" {
			opts = &ws.AcceptOptions{InsecureSkipVerify: true}
			break
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, opts)
		if err != nil {
			hub.logger.Warn("accept websocket", "error", err)
			return
		}
		defer conn.CloseNow()

		hub.logger.Debug("admin feed connected", "clients", hub.ClientCount()+1)
		NewClient(hub, conn).Run(r.Context())
		conn.Close(ws.StatusNormalClosure, "")
	}
}
